package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"airdrop-claim/internal/felt"
	"airdrop-claim/internal/token"

	"github.com/spf13/viper"
)

// Viper keys shared by the flags, the environment and the config file.
const (
	KeyConfigFile      = "config"
	KeyBackendURL      = "backend-url"
	KeyContractAddress = "contract-address"
	KeyNetwork         = "network"
	KeyWalletURL       = "wallet-url"
	KeyRPCURL          = "rpc-url"
	KeyRound           = "round"
	KeyDecimals        = "decimals"
	KeyEnvironment     = "environment"
	KeyDebug           = "debug"
	KeyMetricsAddr     = "metrics-addr"

	endpointsKey = "rpc.endpoints"
)

// Endpoint represents a JSON-RPC endpoint definition.
type Endpoint struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// Network describes a Starknet network the claim contract may live on.
type Network struct {
	Name       string
	ChainID    string
	DefaultRPC string
}

var networks = map[string]Network{
	"mainnet": {Name: "mainnet", ChainID: "SN_MAIN", DefaultRPC: "https://starknet-mainnet.public.blastapi.io/rpc/v0_7"},
	"sepolia": {Name: "sepolia", ChainID: "SN_SEPOLIA", DefaultRPC: "https://starknet-sepolia.public.blastapi.io/rpc/v0_7"},
}

// LookupNetwork returns the network registered under name.
func LookupNetwork(name string) (Network, bool) {
	n, ok := networks[strings.ToLower(strings.TrimSpace(name))]
	return n, ok
}

// NetworkNames lists the recognized network names.
func NetworkNames() []string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config is the single configuration object of a claim session.
type Config struct {
	BackendURL      string
	ContractAddress string
	Network         Network
	WalletURL       string
	Round           int
	Decimals        int32
	Endpoints       []Endpoint
}

// Load reads the configuration out of v, merging the optional TOML file named
// by the "config" key. Explicit flags and env vars win over the file.
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var endpoints []Endpoint
	if err := v.UnmarshalKey(endpointsKey, &endpoints); err != nil {
		return nil, fmt.Errorf("decode %s: %w", endpointsKey, err)
	}
	for i := range endpoints {
		if strings.TrimSpace(endpoints[i].URL) == "" {
			return nil, fmt.Errorf("endpoint %d missing url", i+1)
		}
		if strings.TrimSpace(endpoints[i].Name) == "" {
			endpoints[i].Name = fmt.Sprintf("endpoint-%d", i+1)
		}
	}

	networkName := v.GetString(KeyNetwork)
	if networkName == "" {
		networkName = "mainnet"
	}
	network, ok := LookupNetwork(networkName)
	if !ok {
		return nil, fmt.Errorf("unknown network %q, expected one of %s", networkName, strings.Join(NetworkNames(), ", "))
	}

	if rpcURL := v.GetString(KeyRPCURL); rpcURL != "" {
		endpoints = append([]Endpoint{{Name: "flag", URL: rpcURL}}, endpoints...)
	}
	if len(endpoints) == 0 {
		endpoints = []Endpoint{{Name: network.Name + "-public", URL: network.DefaultRPC}}
	}

	decimals := int32(v.GetInt(KeyDecimals))
	if !v.IsSet(KeyDecimals) {
		decimals = token.DefaultDecimals
	}

	cfg := &Config{
		BackendURL:      v.GetString(KeyBackendURL),
		ContractAddress: v.GetString(KeyContractAddress),
		Network:         network,
		WalletURL:       v.GetString(KeyWalletURL),
		Round:           v.GetInt(KeyRound),
		Decimals:        decimals,
		Endpoints:       endpoints,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the required options and canonicalizes the backend URL and
// contract address in place.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BackendURL) == "" {
		return errors.New("backend url must be specified")
	}
	parsed, err := url.Parse(strings.TrimSpace(c.BackendURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid backend url %q", c.BackendURL)
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	c.BackendURL = parsed.String()

	if strings.TrimSpace(c.ContractAddress) == "" {
		return errors.New("contract address must be specified")
	}
	contract, err := felt.NormalizeAddress(c.ContractAddress)
	if err != nil {
		return fmt.Errorf("invalid contract address: %w", err)
	}
	c.ContractAddress = contract

	if c.Round < 0 {
		return fmt.Errorf("round cannot be negative")
	}
	if c.Decimals < 0 {
		return fmt.Errorf("decimals cannot be negative")
	}
	if len(c.Endpoints) == 0 {
		return errors.New("no rpc endpoints configured")
	}
	return nil
}
