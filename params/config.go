package params

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Ledger struct {
	BaseSymbol    string `envconfig:"BASE_SYMBOL"`
	QuoteSymbol   string `envconfig:"QUOTE_SYMBOL"`
	EscrowAddress string `envconfig:"ESCROW_ADDRESS"`
	// MinterAddress may mint either asset through the API. Empty disables minting.
	MinterAddress string `envconfig:"MINTER_ADDRESS"`
	RecentTrades  int    `envconfig:"RECENT_TRADES"`
}

type Node struct {
	// BlockTimeMS is how often the sequencer drains the mempool into a block.
	// Blocks are only produced when there is something to apply.
	BlockTimeMS   int    `envconfig:"BLOCK_TIME_MS"`
	MaxBlockTxs   int    `envconfig:"MAX_BLOCK_TXS"`
	MempoolSize   int    `envconfig:"MEMPOOL_SIZE"`
	LogFile       string `envconfig:"LOG_FILE"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	ChainID       int64  `envconfig:"CHAIN_ID"`
	AttestKeySeed string `envconfig:"ATTEST_KEY_SEED"` // hex; random when empty
}

type API struct {
	Addr           string   `envconfig:"ADDR"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
	JWTSecret      string   `envconfig:"JWT_SECRET"`
	SessionTTLMS   int      `envconfig:"SESSION_TTL_MS"`
	RateLimit      float64  `envconfig:"RATE_LIMIT"` // requests per second per client, 0 disables
	RateBurst      int      `envconfig:"RATE_BURST"`
	// TrustedProxies may set X-Forwarded-For for rate limiting. IPs or CIDRs.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`
}

type Storage struct {
	Dir string `envconfig:"DIR"`
}

type Gossip struct {
	Enabled    bool     `envconfig:"ENABLED"`
	ListenAddr []string `envconfig:"LISTEN_ADDR"`
	Bootstrap  []string `envconfig:"BOOTSTRAP"`
	Topic      string   `envconfig:"TOPIC"`
}

type Events struct {
	Brokers []string `envconfig:"BROKERS"` // empty disables the kafka publisher
	Topic   string   `envconfig:"TOPIC"`
}

type Config struct {
	Ledger  Ledger
	Node    Node
	API     API
	Storage Storage
	Gossip  Gossip
	Events  Events
}

func Default() Config {
	return Config{
		Ledger: Ledger{
			BaseSymbol:    "CCT",
			QuoteSymbol:   "ETH",
			EscrowAddress: "0x000000000000000000000000000000000000Ca4b",
			RecentTrades:  1000,
		},
		Node: Node{
			BlockTimeMS: 200, // devnet pace
			MaxBlockTxs: 500,
			MempoolSize: 10000,
			ChainID:     31337,
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			JWTSecret:      "dev-secret-change-me",
			SessionTTLMS:   int((12 * time.Hour).Milliseconds()),
			RateLimit:      20,
			RateBurst:      40,
		},
		Storage: Storage{Dir: "data/ledger"},
		Gossip: Gossip{
			ListenAddr: []string{"/ip4/0.0.0.0/tcp/4001"},
			Topic:      "carbon/blocks/1",
		},
		Events: Events{Topic: "carbon.trades"},
	}
}

// LoadFromEnv loads configuration from a .env file (if it exists) and the environment.
// Priority: ENV > .env file > defaults. Variables use the CARBON_ prefix, e.g.
// CARBON_API_ADDR or CARBON_NODE_BLOCK_TIME_MS.
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	sections := []struct {
		prefix string
		target interface{}
	}{
		{"CARBON_LEDGER", &cfg.Ledger},
		{"CARBON_NODE", &cfg.Node},
		{"CARBON_API", &cfg.API},
		{"CARBON_STORAGE", &cfg.Storage},
		{"CARBON_GOSSIP", &cfg.Gossip},
		{"CARBON_EVENTS", &cfg.Events},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.target); err != nil {
			return cfg, fmt.Errorf("params: %s: %w", s.prefix, err)
		}
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.Ledger.BaseSymbol == "" || c.Ledger.QuoteSymbol == "":
		return fmt.Errorf("params: ledger symbols are required")
	case c.Ledger.BaseSymbol == c.Ledger.QuoteSymbol:
		return fmt.Errorf("params: base and quote symbols must differ")
	case c.Node.BlockTimeMS <= 0:
		return fmt.Errorf("params: block time must be positive")
	case c.Node.MaxBlockTxs <= 0:
		return fmt.Errorf("params: max block txs must be positive")
	case c.API.JWTSecret == "":
		return fmt.Errorf("params: jwt secret is required")
	}
	for _, p := range c.API.TrustedProxies {
		if strings.Contains(p, "/") {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("params: trusted proxy %q: %w", p, err)
			}
		} else if net.ParseIP(p) == nil {
			return fmt.Errorf("params: trusted proxy %q is not an ip", p)
		}
	}
	return nil
}

func (n Node) BlockTime() time.Duration { return time.Duration(n.BlockTimeMS) * time.Millisecond }

func (a API) SessionTTL() time.Duration { return time.Duration(a.SessionTTLMS) * time.Millisecond }
