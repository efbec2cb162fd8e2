// Command beacon-node runs the beacon-node runtime orchestrator
// described by spec.md: the slot-driven scheduler binding the block
// DAG, fork-choice-aware consensus manager, gossip subscription state
// machine, sync/backfill managers, block/blob processing pipeline, and
// validator duty dispatch into one process. Grounded on the teacher's
// beacon-chain/main.go (cli.App scaffolding, GOMAXPROCS-at-startup) and
// cmd/beacon-chain/jwt (the generate-jwt-secret subcommand).
package main

import (
	"fmt"
	"os"

	"github.com/lanternlabs/beacon-node/beacon-chain/node"
	"github.com/lanternlabs/beacon-node/beacon-chain/scheduler"
	"github.com/lanternlabs/beacon-node/cmd/beacon-node/flags"
	"github.com/lanternlabs/beacon-node/cmd/beacon-node/jwt"
	"github.com/lanternlabs/beacon-node/config/params"
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

var log = logrus.WithField("prefix", "main")

func main() {
	app := cli.NewApp()
	app.Name = "beacon-node"
	app.Usage = "an Ethereum consensus-layer (beacon chain) node"
	app.Flags = flags.All
	app.Action = startNode
	app.Commands = []*cli.Command{jwt.Commands}

	app.Before = func(cliCtx *cli.Context) error {
		level, err := logrus.ParseLevel(cliCtx.String(flags.VerbosityFlag.Name))
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("could not run beacon-node")
	}
}

// startNode is app.Action for the default (no subcommand) invocation:
// it resolves flags into a node.Config, constructs the Node, and runs
// it until a shutdown signal arrives (spec.md §4.11).
func startNode(cliCtx *cli.Context) error {
	cfg, err := configFromFlags(cliCtx)
	if err != nil {
		return err
	}

	// DB, ELManager, NETWORK, and VALIDATORS are out-of-scope external
	// collaborators (spec.md §1); newDependencies is the integration
	// seam a deployment wires to its own implementations of Chain,
	// PeerPool, PubSub, RoleProvider, and the rest of node.Dependencies.
	deps, err := newDependencies(cliCtx)
	if err != nil {
		return fmt.Errorf("beacon-node: no collaborator implementations wired for DB/EL/NETWORK/VALIDATORS: %w", err)
	}

	n, err := node.New(cfg, deps)
	if err != nil {
		return fmt.Errorf("beacon-node: could not construct node: %w", err)
	}

	if err := n.Start(cliCtx.Context); err != nil {
		return fmt.Errorf("beacon-node: could not start node: %w", err)
	}
	n.Run()
	return nil
}

func configFromFlags(cliCtx *cli.Context) (node.Config, error) {
	cfg := params.MainnetConfig()
	if network := cliCtx.String(flags.NetworkFlag.Name); network != "" && network != "mainnet" {
		// Additional network metadata bundles (testnets) would be
		// loaded here via params.LoadChainConfigFile; only mainnet's
		// built-in defaults are wired without that bundle on disk.
		log.WithField("network", network).Warn("no metadata bundle wired for this network; using mainnet defaults")
	}

	var historyMode scheduler.HistoryMode
	switch cliCtx.String(flags.HistoryModeFlag.Name) {
	case "Archive":
		historyMode = scheduler.HistoryArchive
	case "Prune", "":
		historyMode = scheduler.HistoryPrune
	default:
		return node.Config{}, fmt.Errorf("beacon-node: unknown --history-mode %q", cliCtx.String(flags.HistoryModeFlag.Name))
	}

	var stopAtSyncedEpoch *primitives.Epoch
	if cliCtx.IsSet(flags.StopAtSyncedEpochFlag.Name) {
		e := primitives.Epoch(cliCtx.Uint64(flags.StopAtSyncedEpochFlag.Name))
		stopAtSyncedEpoch = &e
	}

	return node.Config{
		ChainConfig:           cfg,
		HistoryMode:           historyMode,
		StopAtSyncedEpoch:     stopAtSyncedEpoch,
		DoppelgangerSkipCheck: !cliCtx.Bool(flags.DoppelgangerDetectionFlag.Name),
		TaskPoolSize:          cliCtx.Int(flags.NumThreadsFlag.Name),
	}, nil
}
