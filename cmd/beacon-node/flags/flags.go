// Package flags defines the beacon-node CLI's flag set, grounded on
// the teacher's shared/cmd/flags.go and cmd/beacon-chain/flags
// conventions (one exported *cli.XxxFlag var per flag, grouped by
// concern).
package flags

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/urfave/cli/v2"
)

// DefaultDataDir mirrors the teacher's shared/cmd/defaults.go
// DefaultDataDir, using the standard library's home-directory lookup
// instead of the teacher's fileutil helper (a one-line os.UserHomeDir
// call has no ecosystem library to reach for).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "BeaconNode")
	case "windows":
		return filepath.Join(home, "AppData", "Local", "BeaconNode")
	default:
		return filepath.Join(home, ".beacon-node")
	}
}

var (
	DataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the chain database, slashing-protection database, and keystore.",
		Value: DefaultDataDir(),
	}
	NetworkFlag = &cli.StringFlag{
		Name:  "network",
		Usage: "Predefined network metadata bundle to connect to (e.g. mainnet, sepolia).",
		Value: "mainnet",
	}
	DatabaseDirFlag = &cli.StringFlag{
		Name:  "database-dir",
		Usage: "Chain database directory, if different from --datadir/beaconchaindata.",
	}
	EraDirFlag = &cli.StringFlag{
		Name:  "era-dir",
		Usage: "Cold archive directory for era files.",
	}
	ValidatorsDirFlag = &cli.StringFlag{
		Name:  "validators-dir",
		Usage: "Directory holding attached-validator keystores.",
	}
	SecretsDirFlag = &cli.StringFlag{
		Name:  "secrets-dir",
		Usage: "Directory holding attached-validator keystore passwords.",
	}

	RestFlag = &cli.BoolFlag{
		Name:  "rest",
		Usage: "Enable the REST API server.",
	}
	RestAddressFlag = &cli.StringFlag{
		Name:  "rest-address",
		Usage: "Listen address for the REST API server.",
		Value: "127.0.0.1",
	}
	RestPortFlag = &cli.IntFlag{
		Name:  "rest-port",
		Usage: "Listen port for the REST API server.",
		Value: 5052,
	}
	RestAllowedOriginFlag = &cli.StringSliceFlag{
		Name:  "rest-allowed-origin",
		Usage: "CORS origin allowed to query the REST API server. May be given multiple times.",
	}

	MetricsFlag = &cli.BoolFlag{
		Name:  "metrics",
		Usage: "Enable the Prometheus metrics HTTP server.",
		Value: true,
	}
	MetricsAddressFlag = &cli.StringFlag{
		Name:  "metrics-address",
		Usage: "Listen address for the Prometheus metrics HTTP server.",
		Value: "127.0.0.1",
	}
	MetricsPortFlag = &cli.IntFlag{
		Name:  "metrics-port",
		Usage: "Listen port for the Prometheus metrics HTTP server.",
		Value: 8080,
	}

	EngineAPIURLsFlag = &cli.StringSliceFlag{
		Name:  "engine-api-urls",
		Usage: "Execution-layer Engine API endpoints, in priority order. May be given multiple times.",
	}
	JWTSecretFlag = &cli.StringFlag{
		Name:  "jwt-secret",
		Usage: "Path to the hex-encoded 32-byte JWT secret shared with the execution client.",
	}
	SuggestedFeeRecipientFlag = &cli.StringFlag{
		Name:  "suggested-fee-recipient",
		Usage: "Default execution-layer fee recipient address for locally built payloads.",
	}
	PayloadBuilderFlag = &cli.BoolFlag{
		Name:  "payload-builder",
		Usage: "Enable external payload building (builder API).",
	}
	PayloadBuilderURLFlag = &cli.StringFlag{
		Name:  "payload-builder-url",
		Usage: "Builder API endpoint used when --payload-builder is set.",
	}
	Web3SignerURLsFlag = &cli.StringSliceFlag{
		Name:  "web3-signer-urls",
		Usage: "Remote web3signer endpoints for attached validators. May be given multiple times.",
	}

	SubscribeAllSubnetsFlag = &cli.BoolFlag{
		Name:  "subscribe-all-subnets",
		Usage: "Subscribe to all attestation and sync-committee subnets rather than only assigned ones.",
	}
	DoppelgangerDetectionFlag = &cli.BoolFlag{
		Name:  "doppelganger-detection",
		Usage: "Abstain from attesting until each attached validator has been observed live for one epoch.",
		Value: true,
	}
	HistoryModeFlag = &cli.StringFlag{
		Name:  "history-mode",
		Usage: "History retention mode: Archive (keep every state) or Prune (prune to the minimum required).",
		Value: "Prune",
	}
	LightClientDataServeFlag = &cli.BoolFlag{
		Name:  "light-client-data-serve",
		Usage: "Compute and serve light-client update/bootstrap data.",
	}

	WeakSubjectivityCheckpointFlag = &cli.StringFlag{
		Name:  "weak-subjectivity-checkpoint",
		Usage: "Weak-subjectivity checkpoint to verify against, as block_root:epoch.",
	}
	TrustedBlockRootFlag = &cli.StringFlag{
		Name:  "trusted-block-root",
		Usage: "Trusted block root for trusted-node sync.",
	}
	TrustedStateRootFlag = &cli.StringFlag{
		Name:  "trusted-state-root",
		Usage: "Trusted state root for trusted-node sync.",
	}
	ExternalBeaconAPIURLFlag = &cli.StringFlag{
		Name:  "external-beacon-api-url",
		Usage: "Beacon API endpoint used to seed the database via trusted-node sync.",
	}
	GenesisStateFlag = &cli.StringFlag{
		Name:  "genesis-state",
		Usage: "Path to an SSZ-encoded genesis state file.",
	}
	GenesisStateURLFlag = &cli.StringFlag{
		Name:  "genesis-state-url",
		Usage: "URL to fetch an SSZ-encoded genesis state from.",
	}

	NumThreadsFlag = &cli.IntFlag{
		Name:  "num-threads",
		Usage: "Size of the bounded CPU task pool. Defaults to min(NumCPU, 16).",
	}
	StopAtEpochFlag = &cli.Uint64Flag{
		Name:  "stop-at-epoch",
		Usage: "Exit cleanly once the wall-clock epoch reaches this value.",
	}
	StopAtSyncedEpochFlag = &cli.Uint64Flag{
		Name:  "stop-at-synced-epoch",
		Usage: "Exit cleanly once the chain has synced past this epoch. Used by checkpoint-sync verification tooling.",
	}
	ForkChoiceVersionFlag = &cli.StringFlag{
		Name:  "fork-choice-version",
		Usage: "Fork-choice implementation variant: Stable or Pr3431.",
		Value: "Stable",
	}

	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info, warn, error, fatal, panic).",
		Value: "info",
	}
)

// All is every flag the run command accepts, grouped in the order
// spec.md §6 lists them.
var All = []cli.Flag{
	DataDirFlag, NetworkFlag, DatabaseDirFlag, EraDirFlag, ValidatorsDirFlag, SecretsDirFlag,
	RestFlag, RestAddressFlag, RestPortFlag, RestAllowedOriginFlag,
	MetricsFlag, MetricsAddressFlag, MetricsPortFlag,
	EngineAPIURLsFlag, JWTSecretFlag, SuggestedFeeRecipientFlag, PayloadBuilderFlag, PayloadBuilderURLFlag, Web3SignerURLsFlag,
	SubscribeAllSubnetsFlag, DoppelgangerDetectionFlag, HistoryModeFlag, LightClientDataServeFlag,
	WeakSubjectivityCheckpointFlag, TrustedBlockRootFlag, TrustedStateRootFlag, ExternalBeaconAPIURLFlag,
	GenesisStateFlag, GenesisStateURLFlag,
	NumThreadsFlag, StopAtEpochFlag, StopAtSyncedEpochFlag, ForkChoiceVersionFlag,
	VerbosityFlag,
}
