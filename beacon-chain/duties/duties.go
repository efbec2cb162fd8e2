// Package duties implements C9 from spec.md §4.9: per-slot dispatch of
// attached-validator duties. VALIDATORS (keystore management, remote
// signers, the actual attest/propose/aggregate RPC calls) is an
// out-of-scope collaborator per spec.md §1, so Dispatcher only calls
// through the ValidatorDutyRunner interface; what this package owns is
// the per-slot role computation and at-most-once dispatch ordering
// (grounded on the teacher's validator/client/runner.go main loop),
// the doppelganger guard (grounded on validator/client/
// duplicate_detection.go, reworked into an armed/disarmed state
// machine per spec.md §3's DoppelgangerDetection lifecycle), and
// rate-limited builder-registration resubmission (grounded on
// validator/client/registration.go's SubmitValidatorRegistration).
package duties

import (
	"context"
	"time"

	"github.com/lanternlabs/beacon-node/config/params"
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "duties")

// PubKey is a validator's 48-byte BLS public key, matching the
// teacher's convention of passing raw [48]byte keys through the
// validator-client role/duty surface (validator/client/runner.go).
type PubKey [48]byte

// Role names a single duty a validator may owe in a given slot.
type Role int

const (
	RoleUnknown Role = iota
	RoleAttester
	RoleAggregator
	RoleProposer
	RoleSyncCommittee
	RoleSyncCommitteeAggregator
)

func (r Role) String() string {
	switch r {
	case RoleAttester:
		return "attester"
	case RoleAggregator:
		return "aggregator"
	case RoleProposer:
		return "proposer"
	case RoleSyncCommittee:
		return "sync_committee"
	case RoleSyncCommitteeAggregator:
		return "sync_committee_aggregator"
	default:
		return "unknown"
	}
}

// RoleProvider computes each attached validator's roles for a slot,
// the same shape as the teacher's Validator.RolesAt.
type RoleProvider interface {
	RolesAt(ctx context.Context, slot primitives.Slot) (map[PubKey][]Role, error)
}

// ValidatorDutyRunner performs the actual signed submission for each
// role; it is the boundary to the out-of-scope VALIDATORS collaborator
// (keystore/remote-signer access lives behind this interface, never in
// this package). Every method here signs and submits: an implementation
// must run its slashing-protection check (the attestation
// surround/double-vote and proposer double-block guards) before
// signing, since Dispatcher itself never touches the slashing-
// protection database (out of scope per spec.md §1) and cannot enforce
// it on the implementation's behalf.
type ValidatorDutyRunner interface {
	SubmitAttestation(ctx context.Context, slot primitives.Slot, key PubKey)
	SubmitAggregateAndProof(ctx context.Context, slot primitives.Slot, key PubKey)
	ProposeBlock(ctx context.Context, slot primitives.Slot, key PubKey)
	SubmitSyncCommitteeMessage(ctx context.Context, slot primitives.Slot, key PubKey)
	SubmitSyncCommitteeContribution(ctx context.Context, slot primitives.Slot, key PubKey)
}

// RegistrationSubmitter pushes one validator's signed builder
// registration to the beacon node's local registry cache, grounded on
// registration.go's SubmitValidatorRegistration.
type RegistrationSubmitter interface {
	SubmitRegistration(ctx context.Context, key PubKey, builderURL string) error
}

var (
	nextActionWait = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duty_dispatcher_next_action_wait_seconds",
		Help: "Seconds until the next attached-validator duty boundary, recorded at each slot dispatch (spec.md §4.9).",
	})
	dutiesRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duty_dispatcher_duties_total",
		Help: "Count of duties dispatched, by role.",
	}, []string{"role"})
	doppelgangerBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duty_dispatcher_doppelganger_blocked_total",
		Help: "Count of attestation duties withheld because a validator has not yet cleared doppelganger observation.",
	})
	registrationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duty_dispatcher_registrations_sent_total",
		Help: "Count of builder registrations resubmitted.",
	})
	registrationsLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duty_dispatcher_registrations_rate_limited_total",
		Help: "Count of builder registrations withheld by the resubmission rate limiter.",
	})
)

// Dispatcher drives handleValidatorDuties (spec.md §4.9).
type Dispatcher struct {
	cfg      *params.BeaconChainConfig
	roles    RoleProvider
	runner   ValidatorDutyRunner
	doppel   *DoppelgangerGuard
	reg      RegistrationSubmitter
	builders func() map[PubKey]string

	slotDeadline func(slot primitives.Slot) time.Time
}

// New constructs a Dispatcher. slotDeadline computes the wall-clock
// deadline for a slot (used only for the next_action_wait metric);
// builders supplies each attached validator's configured builder URL,
// or nil if registration resubmission is disabled.
func New(
	cfg *params.BeaconChainConfig,
	roles RoleProvider,
	runner ValidatorDutyRunner,
	doppel *DoppelgangerGuard,
	reg RegistrationSubmitter,
	builders func() map[PubKey]string,
	slotDeadline func(slot primitives.Slot) time.Time,
) *Dispatcher {
	return &Dispatcher{
		cfg:          cfg,
		roles:        roles,
		runner:       runner,
		doppel:       doppel,
		reg:          reg,
		builders:     builders,
		slotDeadline: slotDeadline,
	}
}

// HandleValidatorDuties runs every role-bearing duty whose slot falls
// in (lastSlot, wallSlot], in slot order, one goroutine per (validator,
// role) pair within a slot, exactly as spec.md §4.9 and the teacher's
// runner.go dispatch loop shape.
func (d *Dispatcher) HandleValidatorDuties(ctx context.Context, lastSlot, wallSlot primitives.Slot) error {
	if wallSlot <= lastSlot {
		return nil
	}

	for slot := lastSlot + 1; slot <= wallSlot; slot++ {
		if d.slotDeadline != nil {
			nextActionWait.Set(time.Until(d.slotDeadline(slot)).Seconds())
		}

		allRoles, err := d.roles.RolesAt(ctx, slot)
		if err != nil {
			log.WithError(err).WithField("slot", slot).Warn("could not compute validator roles")
			continue
		}

		d.dispatchSlot(ctx, slot, allRoles)
	}

	d.maybeResubmitRegistrations(ctx, wallSlot)
	return nil
}

func (d *Dispatcher) dispatchSlot(ctx context.Context, slot primitives.Slot, allRoles map[PubKey][]Role) {
	for key, roles := range allRoles {
		for _, role := range roles {
			if role == RoleUnknown {
				continue
			}
			if (role == RoleAttester || role == RoleAggregator) && d.doppel != nil && !d.doppel.IsLive(key) {
				doppelgangerBlocked.Inc()
				continue
			}
			dutiesRun.WithLabelValues(role.String()).Inc()
			go d.runOne(ctx, slot, key, role)
		}
	}
}

func (d *Dispatcher) runOne(ctx context.Context, slot primitives.Slot, key PubKey, role Role) {
	switch role {
	case RoleAttester:
		d.runner.SubmitAttestation(ctx, slot, key)
	case RoleAggregator:
		d.runner.SubmitAggregateAndProof(ctx, slot, key)
	case RoleProposer:
		d.runner.ProposeBlock(ctx, slot, key)
	case RoleSyncCommittee:
		d.runner.SubmitSyncCommitteeMessage(ctx, slot, key)
	case RoleSyncCommitteeAggregator:
		d.runner.SubmitSyncCommitteeContribution(ctx, slot, key)
	default:
		log.WithField("role", role).Warn("unhandled validator role")
	}
}

// maybeResubmitRegistrations resubmits every attached validator's
// builder registration once every EPOCHS_PER_VALIDATOR_REGISTRATION_
// SUBMISSION epochs, at the epoch boundary (spec.md §4.9), logging the
// builder URL as the teacher's registration flow does.
func (d *Dispatcher) maybeResubmitRegistrations(ctx context.Context, slot primitives.Slot) {
	if d.reg == nil || d.builders == nil || d.cfg == nil {
		return
	}
	if !primitives.IsEpochStart(slot, uint64(d.cfg.SlotsPerEpoch)) {
		return
	}
	epoch := slot.ToEpoch(uint64(d.cfg.SlotsPerEpoch))
	period := uint64(d.cfg.EpochsPerValidatorRegistrationSubmission)
	if period == 0 {
		return
	}
	if uint64(epoch)%period != 0 {
		registrationsLimited.Inc()
		return
	}

	for key, url := range d.builders() {
		if err := d.reg.SubmitRegistration(ctx, key, url); err != nil {
			log.WithError(err).WithField("builder", url).Warn("could not submit validator registration")
			continue
		}
		registrationsSent.Inc()
		log.WithField("builder", url).Debug("submitted validator registration")
	}
}
