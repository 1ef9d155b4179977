package chain

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definitions models the structure of configs/chains.yaml.
type Definitions struct {
	// Chains maps a symbolic name ("mainnet", "base") to its endpoint.
	Chains map[string]Definition `yaml:"chains"`
	// Primary names the chain that carries the name registry.
	Primary string `yaml:"primary"`
	// Contracts holds the registry deployment on the primary chain.
	Contracts ContractAddresses `yaml:"contracts"`
	// BridgeFeeBps is the bridge's proportional fee in basis points.
	BridgeFeeBps int64 `yaml:"bridge_fee_bps"`
}

// Definition describes a single chain endpoint.
type Definition struct {
	ChainID     uint64 `yaml:"chain_id"`
	RPCURL      string `yaml:"rpc_url"`
	Description string `yaml:"description"`
}

// ContractAddresses lists the deployed registry contracts, hex encoded.
type ContractAddresses struct {
	Controller    string `yaml:"controller"`
	BaseRegistrar string `yaml:"base_registrar"`
	Registry      string `yaml:"registry"`
	NameWrapper   string `yaml:"name_wrapper"`
	Resolver      string `yaml:"resolver"`
}

// LoadDefinitions parses the YAML file containing chain metadata.
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{Chains: map[string]Definition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("read chain config: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("parse chain config: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]Definition{}
	}
	if defs.BridgeFeeBps <= 0 {
		defs.BridgeFeeBps = 30
	}
	return defs, nil
}
