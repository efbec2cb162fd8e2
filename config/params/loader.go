package params

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// LoadChainConfigFile reads a network's config.yaml (the format used by
// the consensus-specs repo) and overlays its `spec:"true"`-tagged
// fields onto base, returning the merged config. Fields absent from
// the file keep base's value, matching --chain-config-file's documented
// "overlay, don't replace" behavior.
func LoadChainConfigFile(path string, base *BeaconChainConfig) (*BeaconChainConfig, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read chain config file")
	}
	cfg := base.Copy()
	if err := yaml.Unmarshal(f, cfg); err != nil {
		return nil, errors.Wrap(err, "could not parse chain config file")
	}
	cfg.InitializeDerived()
	return cfg, nil
}
