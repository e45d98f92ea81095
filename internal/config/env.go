// Package config defines environment configuration structs and loaders.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type AppConfig struct {
	ChainEnvConfig
	WalletEnvConfig
	TwitterEnvConfig
	IpfsEnvConfig
	StorageEnvConfig
	ServerEnvConfig
	ClientEnvConfig
	GatewayEnvConfig
	MinerEnvConfig
	ValidatorEnvConfig
}

func LoadConfig() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ChainEnvConfig holds chain RPC target and subnet id.
type ChainEnvConfig struct {
	Netuid    int    `env:"NETUID" envDefault:"20"`
	ChainHost string `env:"CHAIN_RPC_HOST" envDefault:"127.0.0.1"`
	ChainPort string `env:"CHAIN_RPC_PORT" envDefault:"9944"`
}

// WalletEnvConfig holds wallet key configuration.
type WalletEnvConfig struct {
	WalletDir     string `env:"WALLET_DIR" envDefault:"~/.tokengraph"`
	WalletName    string `env:"WALLET_NAME" envDefault:"default"`
	WalletHotkey  string `env:"WALLET_HOTKEY" envDefault:"default"`
	ValidatorKey  string `env:"VALIDATOR_KEY"`
	KeyfileSecret string `env:"KEYFILE_SECRET"`
}

// TwitterEnvConfig configures the ground-truth lookup API.
type TwitterEnvConfig struct {
	TwitterAPIURL      string `env:"TWITTER_API_URL" envDefault:"https://api.twitter.com/2"`
	TwitterBearerToken string `env:"TWITTER_BEARER_TOKEN"`
}

// IpfsEnvConfig configures content-addressed snapshot retrieval.
type IpfsEnvConfig struct {
	IpfsGatewayURL string `env:"IPFS_GATEWAY_URL" envDefault:"https://gateway.pinata.cloud/ipfs"`
	PinataAPIKey   string `env:"PINATA_API_KEY"`
	PinataSecret   string `env:"PINATA_SECRET_API_KEY"`
}

// StorageEnvConfig configures local durable state.
type StorageEnvConfig struct {
	DataDir     string `env:"DATA_DIR" envDefault:"./data"`
	WeightsFile string `env:"WEIGHTS_FILE" envDefault:"weights.json"`
}

// ServerEnvConfig configures the miner server.
type ServerEnvConfig struct {
	Address       string `env:"AXON_IP" envDefault:"127.0.0.1"`
	Port          int    `env:"AXON_PORT" envDefault:"9962"`
	BodySizeLimit int    `env:"SERVER_BODY_LIMIT" envDefault:"1048576"`
	DatasetFile   string `env:"MINER_DATASET_FILE" envDefault:"dataset.json"`
	MinerToken    string `env:"MINER_TOKEN" envDefault:"PEPE"`
	GraphEngine   string `env:"GRAPH_ENGINE" envDefault:"memgraph"`
	SnapshotLink  string `env:"MINER_SNAPSHOT_LINK"`
}

// ClientEnvConfig configures outbound HTTP clients.
type ClientEnvConfig struct {
	ClientTimeout time.Duration `env:"CLIENT_TIMEOUT" envDefault:"30s"`
	RetryMax      int           `env:"CLIENT_RETRY_MAX" envDefault:"3"`
}

// GatewayEnvConfig configures the read-only analytics API.
type GatewayEnvConfig struct {
	GatewayAddress string `env:"GATEWAY_IP" envDefault:"127.0.0.1"`
	GatewayPort    int    `env:"GATEWAY_PORT" envDefault:"9900"`
}

// MinerEnvConfig configures the reference miner runtime.
type MinerEnvConfig struct {
	SnapshotInterval time.Duration `env:"SNAPSHOT_INTERVAL" envDefault:"1h"`
}

// ValidatorEnvConfig configures validator runtime.
type ValidatorEnvConfig struct {
	ChainEnvConfig
	ClientEnvConfig
	Environment       string `env:"ENVIRONMENT" envDefault:"dev"`
	Token             string `env:"TOKEN" envDefault:"PEPE"`
	ProtocolMode      string `env:"PROTOCOL_MODE" envDefault:"snapshot"` // "snapshot" or "challenge"
	MaxAllowedWeights int    `env:"MAX_ALLOWED_WEIGHTS" envDefault:"420"`
	SampleSize        int    `env:"SAMPLE_SIZE" envDefault:"3"`
}

// IntervalConfig groups the iteration interval and per-call timeouts used by
// the validator runtime.
type IntervalConfig struct {
	IterationInterval time.Duration
	DiscoveryTimeout  time.Duration
	ChallengeTimeout  time.Duration
	QueryTimeout      time.Duration
	SnapshotTimeout   time.Duration
}

var (
	DevIntervalConfig = &IntervalConfig{
		IterationInterval: 30 * time.Second,
		DiscoveryTimeout:  10 * time.Second,
		ChallengeTimeout:  15 * time.Second,
		QueryTimeout:      15 * time.Second,
		SnapshotTimeout:   30 * time.Second,
	}
	TestIntervalConfig = &IntervalConfig{
		IterationInterval: 10 * time.Minute,
		DiscoveryTimeout:  30 * time.Second,
		ChallengeTimeout:  60 * time.Second,
		QueryTimeout:      60 * time.Second,
		SnapshotTimeout:   2 * time.Minute,
	}
	ProdIntervalConfig = &IntervalConfig{
		IterationInterval: 10 * time.Minute,
		DiscoveryTimeout:  30 * time.Second,
		ChallengeTimeout:  60 * time.Second,
		QueryTimeout:      60 * time.Second,
		SnapshotTimeout:   2 * time.Minute,
	}
)

func NewIntervalConfig(environment string) *IntervalConfig {
	switch strings.ToLower(environment) {
	case "dev":
		return DevIntervalConfig
	case "test":
		return TestIntervalConfig
	case "prod":
		return ProdIntervalConfig
	}

	return DevIntervalConfig
}
