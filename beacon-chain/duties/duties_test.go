package duties_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lanternlabs/beacon-node/beacon-chain/duties"
	"github.com/lanternlabs/beacon-node/config/params"
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
	"github.com/stretchr/testify/require"
)

type fakeRoles struct {
	mu    sync.Mutex
	roles map[primitives.Slot]map[duties.PubKey][]duties.Role
	calls int
}

func (f *fakeRoles) RolesAt(ctx context.Context, slot primitives.Slot) (map[duties.PubKey][]duties.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.roles[slot], nil
}

type fakeRunner struct {
	mu          sync.Mutex
	attested    []duties.PubKey
	proposed    []duties.PubKey
	aggregated  []duties.PubKey
	syncMsgs    []duties.PubKey
	syncContrib []duties.PubKey
}

func (f *fakeRunner) SubmitAttestation(ctx context.Context, slot primitives.Slot, key duties.PubKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attested = append(f.attested, key)
}
func (f *fakeRunner) SubmitAggregateAndProof(ctx context.Context, slot primitives.Slot, key duties.PubKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggregated = append(f.aggregated, key)
}
func (f *fakeRunner) ProposeBlock(ctx context.Context, slot primitives.Slot, key duties.PubKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proposed = append(f.proposed, key)
}
func (f *fakeRunner) SubmitSyncCommitteeMessage(ctx context.Context, slot primitives.Slot, key duties.PubKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncMsgs = append(f.syncMsgs, key)
}
func (f *fakeRunner) SubmitSyncCommitteeContribution(ctx context.Context, slot primitives.Slot, key duties.PubKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncContrib = append(f.syncContrib, key)
}

func (f *fakeRunner) snapshot() (attested, proposed, aggregated int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attested), len(f.proposed), len(f.aggregated)
}

var keyA = duties.PubKey{0xaa}
var keyB = duties.PubKey{0xbb}

func TestHandleValidatorDuties_DispatchesEachSlotInRange(t *testing.T) {
	roles := &fakeRoles{roles: map[primitives.Slot]map[duties.PubKey][]duties.Role{
		1: {keyA: {duties.RoleAttester}},
		2: {keyA: {duties.RoleProposer}, keyB: {duties.RoleAggregator}},
	}}
	runner := &fakeRunner{}
	cfg := params.MinimalConfig()
	d := duties.New(cfg, roles, runner, nil, nil, nil, func(slot primitives.Slot) time.Time { return time.Now() })

	require.NoError(t, d.HandleValidatorDuties(context.Background(), 0, 2))

	require.Eventually(t, func() bool {
		a, p, g := runner.snapshot()
		return a == 1 && p == 1 && g == 1
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, 2, roles.calls)
}

func TestHandleValidatorDuties_NoOpWhenNotAdvancing(t *testing.T) {
	roles := &fakeRoles{roles: map[primitives.Slot]map[duties.PubKey][]duties.Role{}}
	runner := &fakeRunner{}
	d := duties.New(params.MinimalConfig(), roles, runner, nil, nil, nil, nil)

	require.NoError(t, d.HandleValidatorDuties(context.Background(), 5, 5))
	require.Equal(t, 0, roles.calls)
}

func TestHandleValidatorDuties_DoppelgangerBlocksAttesterNotProposer(t *testing.T) {
	roles := &fakeRoles{roles: map[primitives.Slot]map[duties.PubKey][]duties.Role{
		1: {keyA: {duties.RoleAttester, duties.RoleProposer}},
	}}
	runner := &fakeRunner{}
	guard := duties.NewDoppelgangerGuard(false)
	guard.Arm([]duties.PubKey{keyA}, 0)

	d := duties.New(params.MinimalConfig(), roles, runner, guard, nil, nil, nil)
	require.NoError(t, d.HandleValidatorDuties(context.Background(), 0, 1))

	require.Eventually(t, func() bool {
		_, p, _ := runner.snapshot()
		return p == 1
	}, time.Second, 10*time.Millisecond)

	a, _, _ := runner.snapshot()
	require.Equal(t, 0, a)
}

type fakeRegistrar struct {
	mu   sync.Mutex
	sent map[duties.PubKey]string
}

func (f *fakeRegistrar) SubmitRegistration(ctx context.Context, key duties.PubKey, builderURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[duties.PubKey]string)
	}
	f.sent[key] = builderURL
	return nil
}

func TestHandleValidatorDuties_ResubmitsRegistrationsAtEpochBoundary(t *testing.T) {
	cfg := params.MinimalConfig()
	roles := &fakeRoles{roles: map[primitives.Slot]map[duties.PubKey][]duties.Role{}}
	runner := &fakeRunner{}
	reg := &fakeRegistrar{}
	builders := func() map[duties.PubKey]string {
		return map[duties.PubKey]string{keyA: "https://builder.example"}
	}

	d := duties.New(cfg, roles, runner, nil, reg, builders, nil)
	// wallSlot = SlotsPerEpoch is the epoch-1 boundary; EpochsPerValidatorRegistrationSubmission=1
	// means every epoch boundary qualifies.
	boundary := primitives.Slot(uint64(cfg.SlotsPerEpoch))
	require.NoError(t, d.HandleValidatorDuties(context.Background(), boundary-1, boundary))

	reg.mu.Lock()
	require.Equal(t, "https://builder.example", reg.sent[keyA])
	reg.mu.Unlock()
}

func TestHandleValidatorDuties_SkipsRegistrationOffEpochBoundary(t *testing.T) {
	cfg := params.MinimalConfig()
	roles := &fakeRoles{roles: map[primitives.Slot]map[duties.PubKey][]duties.Role{}}
	runner := &fakeRunner{}
	reg := &fakeRegistrar{}
	builders := func() map[duties.PubKey]string {
		return map[duties.PubKey]string{keyA: "https://builder.example"}
	}

	d := duties.New(cfg, roles, runner, nil, reg, builders, nil)
	require.NoError(t, d.HandleValidatorDuties(context.Background(), 0, 1))

	reg.mu.Lock()
	defer reg.mu.Unlock()
	require.Empty(t, reg.sent)
}

func TestDoppelgangerGuard_LiveAfterOneEpochOfObservation(t *testing.T) {
	guard := duties.NewDoppelgangerGuard(false)
	guard.Arm([]duties.PubKey{keyA}, 10)
	require.False(t, guard.IsLive(keyA))

	guard.ObserveSelf(keyA, 10)
	require.False(t, guard.IsLive(keyA))

	guard.ObserveSelf(keyA, 11)
	require.True(t, guard.IsLive(keyA))
}

func TestDoppelgangerGuard_SkipChecksAlwaysLive(t *testing.T) {
	guard := duties.NewDoppelgangerGuard(true)
	require.True(t, guard.IsLive(keyA))
}

func TestDoppelgangerGuard_DisarmClearsState(t *testing.T) {
	guard := duties.NewDoppelgangerGuard(false)
	guard.Arm([]duties.PubKey{keyA}, 0)
	guard.ObserveSelf(keyA, 1)
	require.True(t, guard.IsLive(keyA))

	guard.Disarm()
	require.True(t, guard.IsLive(keyA), "disarmed guard treats every validator as live")
}
