// Package node implements C11 from spec.md §4.11: the composition
// root that constructs every other component, wires their
// collaborator interfaces together, and owns their lifecycle through
// a runtime.ServiceRegistry, grounded on the teacher's
// beacon-chain/node/node.go (constructor-then-register-service
// sequencing, SIGINT/SIGTERM handling) and runtime/service_registry.go
// (already adapted in this module's runtime package).
package node

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lanternlabs/beacon-node/async"
	"github.com/lanternlabs/beacon-node/beacon-chain/blobquarantine"
	"github.com/lanternlabs/beacon-node/beacon-chain/blockprocessor"
	"github.com/lanternlabs/beacon-node/beacon-chain/blockquarantine"
	"github.com/lanternlabs/beacon-node/beacon-chain/consensusmanager"
	"github.com/lanternlabs/beacon-node/beacon-chain/duties"
	"github.com/lanternlabs/beacon-node/beacon-chain/eventbus"
	"github.com/lanternlabs/beacon-node/beacon-chain/gossip"
	"github.com/lanternlabs/beacon-node/beacon-chain/requestmanager"
	"github.com/lanternlabs/beacon-node/beacon-chain/scheduler"
	"github.com/lanternlabs/beacon-node/beacon-chain/syncmanager"
	"github.com/lanternlabs/beacon-node/config/params"
	"github.com/lanternlabs/beacon-node/consensus-types/blocks"
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
	"github.com/lanternlabs/beacon-node/runtime"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "node")

// Chain bundles the out-of-scope ChainDAG/fork-choice surface
// (CONSENSUS_SPEC per spec.md §1) that both BlockProcessor and
// ConsensusManager drive; a real implementation lives outside this
// module and satisfies both method sets.
type Chain interface {
	blockprocessor.ChainUpdater
	consensusmanager.ChainReader
}

// Status is the process-wide bnStatus enum spec.md §9's Design Note 3
// prescribes: a single atomically-mutated value, never touched except
// via CompareAndSwap.
type Status int32

const (
	StatusStarting Status = iota
	StatusRunning
	StatusStopping
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds the node-wide settings spec.md §6 exposes as CLI flags.
type Config struct {
	ChainConfig           *params.BeaconChainConfig
	GenesisTime           time.Time
	HistoryMode           scheduler.HistoryMode
	StopAtSyncedEpoch     *primitives.Epoch
	DoppelgangerSkipCheck bool
	TaskPoolSize          int
}

// Dependencies collects every out-of-scope collaborator (CONSENSUS_SPEC,
// DB, ELManager, NETWORK, VALIDATORS — spec.md §1) that Node wires the
// in-scope components to. None of these are implemented by this
// module; they are interfaces supplied by the caller (normally
// cmd/beacon-node, backed by the real state-transition, storage, p2p,
// and validator-keystore subsystems).
type Dependencies struct {
	Chain     Chain
	RootOf    blockprocessor.BlockRootFn
	Shuffling consensusmanager.ShufflingProvider

	ForwardPeers   syncmanager.PeerPool
	ForwardBounds  syncmanager.BoundsFn
	BackfillPeers  syncmanager.PeerPool
	BackfillBounds syncmanager.BoundsFn

	RequestPeers     requestmanager.PeerSource
	FetchBlockByRoot requestmanager.BlockByRootFetcher
	FetchBlobsByRoot requestmanager.BlobByRootFetcher

	PubSub gossip.PubSub
	Duty   gossip.DutyProvider

	Status scheduler.ChainStatus
	Hooks  scheduler.MaintenanceHooks

	Roles        duties.RoleProvider
	Runner       duties.ValidatorDutyRunner
	Registrar    duties.RegistrationSubmitter
	Builders     func() map[duties.PubKey]string
	SlotDeadline func(primitives.Slot) time.Time
}

// Node owns every C1-C10 component and drives their lifecycle
// (spec.md §4.11).
type Node struct {
	cfg Config

	status int32

	bus        *eventbus.Bus
	blobs      *blobquarantine.Quarantine
	quarantine *blockquarantine.Quarantine
	pool       *async.Pool
	processor  *blockprocessor.Processor
	tracker    *consensusmanager.ActionTracker
	consensus  *consensusmanager.Manager
	forward    *syncmanager.RangeSyncer
	backfill   *syncmanager.RangeSyncer
	requests   *requestmanager.Manager
	gossip     *gossip.Controller
	doppel     *duties.DoppelgangerGuard
	dispatch   *duties.Dispatcher
	sched      *scheduler.Scheduler

	registry *runtime.ServiceRegistry

	stop chan struct{}
}

// New constructs every component in dependency order and wires their
// callback/verifier interfaces, but does not start anything (spec.md
// §4.11 step 5, "initFullNode wires all the above").
func New(cfg Config, deps Dependencies) (*Node, error) {
	if cfg.ChainConfig == nil {
		return nil, errors.New("node: ChainConfig is required")
	}
	if deps.Chain == nil {
		return nil, errors.New("node: Chain dependency is required")
	}

	taskPoolSize := cfg.TaskPoolSize
	if taskPoolSize <= 0 {
		taskPoolSize = async.DefaultPoolSize()
	}

	n := &Node{
		cfg:        cfg,
		status:     int32(StatusStarting),
		bus:        eventbus.New(),
		blobs:      blobquarantine.New(),
		quarantine: blockquarantine.New(),
		pool:       async.NewPool(taskPoolSize),
		registry:   runtime.NewServiceRegistry(),
		stop:       make(chan struct{}),
	}

	n.processor = blockprocessor.New(deps.Chain, n.blobs, n.quarantine, n.bus, n.pool, deps.RootOf)

	n.tracker = consensusmanager.NewActionTracker(cfg.ChainConfig, deps.Shuffling)
	n.consensus = consensusmanager.New(deps.Chain, n.tracker, n.bus)

	n.gossip = gossip.NewController(cfg.ChainConfig, deps.PubSub, deps.Duty)

	n.forward = syncmanager.NewForwardSyncer(cfg.ChainConfig, deps.ForwardPeers, n.verifierFor(blockprocessor.SourceRangeSync), deps.ForwardBounds)
	forwardDone := func() bool {
		return !n.forward.InProgress() && deps.Status != nil && deps.Status.IsSynced()
	}
	n.backfill = syncmanager.NewBackfiller(cfg.ChainConfig, deps.BackfillPeers, n.verifierFor(blockprocessor.SourceRangeSync), deps.BackfillBounds, forwardDone)

	syncInProgress := func() bool {
		return n.forward.InProgress() || n.backfill.InProgress()
	}
	n.requests = requestmanager.New(n.blobs, n.quarantine, deps.RequestPeers, deps.FetchBlockByRoot, deps.FetchBlobsByRoot, n.verifierFor(blockprocessor.SourceRequestManager), syncInProgress, deps.RootOf)

	n.doppel = duties.NewDoppelgangerGuard(cfg.DoppelgangerSkipCheck)
	n.dispatch = duties.New(cfg.ChainConfig, deps.Roles, deps.Runner, n.doppel, deps.Registrar, deps.Builders, deps.SlotDeadline)

	n.sched = scheduler.New(cfg.ChainConfig, cfg.GenesisTime, n.consensus, n.dispatch, n.gossip, deps.Status, deps.Hooks, cfg.HistoryMode, cfg.StopAtSyncedEpoch)

	for _, svc := range []runtime.Service{n.processor, n.forward, n.backfill, n.requests, n.sched} {
		if err := n.registry.RegisterService(svc); err != nil {
			return nil, errors.Wrap(err, "node: could not register service")
		}
	}

	return n, nil
}

// verifierFor adapts blockprocessor.Processor.AddBlock, which takes an
// explicit Source distinguishing gossip/range-sync/request-manager
// origin (spec.md §4.3), to the source-agnostic BlockVerifier/Verifier
// function shape RangeSyncer and RequestManager each expect (spec.md
// §4.5: "submits downloaded blocks via the same blockVerifier used by
// gossip"), fixing source to the caller's identity.
func (n *Node) verifierFor(source blockprocessor.Source) func(ctx context.Context, block *blocks.SignedBeaconBlock, blobs []*blocks.BlobSidecar, maybeFinalized bool) (<-chan error, error) {
	return func(ctx context.Context, block *blocks.SignedBeaconBlock, blobs []*blocks.BlobSidecar, maybeFinalized bool) (<-chan error, error) {
		return n.processor.AddBlock(ctx, source, block, blobs, maybeFinalized)
	}
}

// Start transitions the node to Running and launches every registered
// service, then installs a SIGINT/SIGTERM handler that calls Close on
// the first signal (spec.md §4.11, grounded on the teacher's
// BeaconNode.Start).
func (n *Node) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&n.status, int32(StatusStarting), int32(StatusRunning)) {
		return errors.New("node: already started")
	}

	log.Info("Starting beacon node")
	if err := n.registry.StartAll(ctx); err != nil {
		return errors.Wrap(err, "node: could not start services")
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		log.WithField("signal", sig).Info("Caught signal, shutting down")
		if err := n.Close(); err != nil {
			log.WithError(err).Error("could not shut down cleanly")
		}
		sig = <-sigc
		log.WithField("signal", sig).Fatal("Caught second signal, terminating immediately")
	}()

	return nil
}

// Run blocks until Close has completed, intended to be called right
// after Start from main().
func (n *Node) Run() {
	<-n.stop
}

// Close transitions the node through Stopping to Stopped, tearing down
// every registered service in reverse registration order (spec.md
// §4.11).
func (n *Node) Close() error {
	if !atomic.CompareAndSwapInt32(&n.status, int32(StatusRunning), int32(StatusStopping)) {
		return errors.New("node: not running")
	}

	log.Info("Stopping beacon node")
	n.registry.StopAll()

	atomic.CompareAndSwapInt32(&n.status, int32(StatusStopping), int32(StatusStopped))
	close(n.stop)
	return nil
}

// Status reports the node's current lifecycle phase.
func (n *Node) Status() Status {
	return Status(atomic.LoadInt32(&n.status))
}
