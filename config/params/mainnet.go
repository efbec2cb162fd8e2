package params

// MainnetConfig returns the canonical mainnet BeaconChainConfig, the
// default until overridden by --chain-config-file.
func MainnetConfig() *BeaconChainConfig {
	cfg := &BeaconChainConfig{
		ConfigName: "mainnet",

		SecondsPerSlot: 12,
		SlotsPerEpoch:  32,

		GenesisForkVersion:   ForkVersion{0x00, 0x00, 0x00, 0x00},
		AltairForkVersion:    ForkVersion{0x01, 0x00, 0x00, 0x00},
		BellatrixForkVersion: ForkVersion{0x02, 0x00, 0x00, 0x00},
		CapellaForkVersion:   ForkVersion{0x03, 0x00, 0x00, 0x00},
		DenebForkVersion:     ForkVersion{0x04, 0x00, 0x00, 0x00},

		GenesisEpoch:       0,
		AltairForkEpoch:    74240,
		BellatrixForkEpoch: 144896,
		CapellaForkEpoch:   194048,
		DenebForkEpoch:     269568,

		MaxBlobsPerBlock:                 6,
		MinEpochsForBlobSidecarsRequests: 4096,

		EpochsPerValidatorRegistrationSubmission: 1,

		AttestationSubnetCount:           64,
		AttestationPropagationSlotRange:  32,
		SyncCommitteeSubnetCount:         4,
		RandomSubnetsPerValidator:        1,
		EpochsPerSyncCommitteePeriod:     256,

		MaxEffectiveBalance:          32_000_000_000,
		EffectiveBalanceIncrement:    1_000_000_000,
		HysteresisQuotient:           4,
		HysteresisDownwardMultiplier: 1,
		HysteresisUpwardMultiplier:   5,

		ProposerScoreBoost:         40,
		SafeSlotsToUpdateJustified: 8,

		MaxPeersToSync: 15,

		SyncDistanceThreshold: 64,
		SyncHysteresisSlots:   16,
	}
	cfg.InitializeDerived()
	return cfg
}

// MinimalConfig returns the reduced-size network used by tests and
// local devnets (8 slots/epoch, every fork active from epoch 0), mirroring the
// teacher's minimal.yaml-backed config variant.
func MinimalConfig() *BeaconChainConfig {
	cfg := MainnetConfig()
	c := *cfg
	c.ConfigName = "minimal"
	c.SlotsPerEpoch = 8
	c.SecondsPerSlot = 6
	c.AltairForkEpoch = 0
	c.BellatrixForkEpoch = 0
	c.CapellaForkEpoch = 0
	c.DenebForkEpoch = 0
	c.MinEpochsForBlobSidecarsRequests = 4
	c.InitializeDerived()
	return &c
}
