// Package config loads operator- and client-facing YAML configuration into
// typed structs. There is no environment-variable fallback for the five
// required escrow addresses (§4.1) — only cosmetic operator secrets
// (wallet key material, RPC API keys) may come from the environment, via
// godotenv, and only in the cmd/hostd and cmd/sessionctl local-dev paths.
package config

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/fabricmesh/inference-session-core/internal/chain"
	"github.com/fabricmesh/inference-session-core/internal/xerrors"
)

// rawChainConfig mirrors chain.ChainConfig with string addresses, since
// YAML has no notion of common.Address.
type rawChainConfig struct {
	ChainID            int64    `yaml:"chainId"`
	RPCEndpoints       []string `yaml:"rpcEndpoints"`
	JobMarketplace     string   `yaml:"jobMarketplaceAddress"`
	NodeRegistry       string   `yaml:"nodeRegistryAddress"`
	ProofSystem        string   `yaml:"proofSystemAddress"`
	HostEarnings       string   `yaml:"hostEarningsAddress"`
	Stablecoin         string   `yaml:"stablecoinAddress"`
	NativeDecimals     int      `yaml:"nativeDecimals"`
	StablecoinDecimals int      `yaml:"stablecoinDecimals"`
}

type rawFile struct {
	Chains []rawChainConfig `yaml:"chains"`
}

// LoadChainConfigs reads a YAML document listing every chain this client or
// host operator talks to and validates that all five required addresses
// are present and parseable.
func LoadChainConfigs(path string) ([]chain.ChainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading chain config %s: %w", path, err)
	}

	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing chain config %s: %w", path, err)
	}

	out := make([]chain.ChainConfig, 0, len(raw.Chains))
	for _, rc := range raw.Chains {
		cc, err := validateChainConfig(rc)
		if err != nil {
			return nil, err
		}
		out = append(out, cc)
	}
	return out, nil
}

func validateChainConfig(rc rawChainConfig) (chain.ChainConfig, error) {
	if rc.ChainID == 0 {
		return chain.ChainConfig{}, xerrors.ConfigError("chainId")
	}
	if len(rc.RPCEndpoints) == 0 {
		return chain.ChainConfig{}, xerrors.ConfigError("rpcEndpoints")
	}

	required := map[string]string{
		"jobMarketplaceAddress": rc.JobMarketplace,
		"nodeRegistryAddress":   rc.NodeRegistry,
		"proofSystemAddress":    rc.ProofSystem,
		"hostEarningsAddress":   rc.HostEarnings,
		"stablecoinAddress":     rc.Stablecoin,
	}
	addrs := make(map[string]chain.Address, len(required))
	for field, value := range required {
		if value == "" {
			return chain.ChainConfig{}, xerrors.ConfigError(field)
		}
		if !common.IsHexAddress(value) {
			return chain.ChainConfig{}, xerrors.ConfigError(field)
		}
		addrs[field] = common.HexToAddress(value)
	}

	nativeDecimals := rc.NativeDecimals
	if nativeDecimals == 0 {
		nativeDecimals = 18
	}
	stableDecimals := rc.StablecoinDecimals
	if stableDecimals == 0 {
		stableDecimals = 6
	}

	return chain.ChainConfig{
		ChainID:            chain.ChainID(rc.ChainID),
		RPCEndpoints:       rc.RPCEndpoints,
		JobMarketplaceAddr: addrs["jobMarketplaceAddress"],
		NodeRegistryAddr:   addrs["nodeRegistryAddress"],
		ProofSystemAddr:    addrs["proofSystemAddress"],
		HostEarningsAddr:   addrs["hostEarningsAddress"],
		StablecoinAddr:     addrs["stablecoinAddress"],
		NativeDecimals:     nativeDecimals,
		StablecoinDecimals: stableDecimals,
	}, nil
}

// HostOperatorConfig is the supervisor's local configuration (§4.9),
// loaded the same way.
type HostOperatorConfig struct {
	ListenAddress    string   `yaml:"listenAddress"`
	Port             int      `yaml:"port"`
	ModelsToPreload  []string `yaml:"modelsToPreload"`
	LogLevel         string   `yaml:"logLevel"`
	PublicURL        string   `yaml:"publicUrl"`
	InferenceBinary  string   `yaml:"inferenceBinary"`
	LogDir           string   `yaml:"logDir"`
}

func LoadHostOperatorConfig(path string) (HostOperatorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return HostOperatorConfig{}, fmt.Errorf("reading operator config %s: %w", path, err)
	}
	var cfg HostOperatorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return HostOperatorConfig{}, fmt.Errorf("parsing operator config %s: %w", path, err)
	}
	if cfg.PublicURL == "" {
		return HostOperatorConfig{}, xerrors.ConfigError("publicUrl")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}
