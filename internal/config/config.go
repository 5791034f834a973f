package config

import (
	"log"
	"os"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/ghodss/yaml"
	"github.com/go-faster/errors"

	"github.com/argus-wallet/argus/pkg/executor"
	"github.com/argus-wallet/argus/pkg/provisioner"
	"github.com/argus-wallet/argus/pkg/squads"
)

type Config struct {
	API struct {
		Port int `env:"PORT" envDefault:"8081"`
	}
	App struct {
		LogLevel    string `env:"LOG_LEVEL" envDefault:"INFO"`
		MetricsPort int    `env:"METRICS_PORT" envDefault:"9010"`
		SentryDSN   string `env:"SENTRY_DSN"`
		Environment string `env:"ENVIRONMENT" envDefault:"production"`
	}
	Solana struct {
		RPCEndpoint       string             `env:"SOLANA_RPC_URL" envDefault:"https://api.mainnet-beta.solana.com"`
		WSEndpoint        string             `env:"SOLANA_WS_URL"`
		Commitment        rpc.CommitmentType `env:"SOLANA_COMMITMENT" envDefault:"confirmed"`
		RequestsPerSecond uint64             `env:"SOLANA_RPS" envDefault:"20"`
		ProgramID         solana.PublicKey   `env:"SQUADS_PROGRAM_ID" envDefault:"SQDS4ep65T869zMMBKyuUq6aD6EgTu8psMjkvj52pCf"`
	}
	Wallet struct {
		OwnerKey        solana.PrivateKey           `env:"ARGUS_OWNER_KEY,unset"`
		Multisig        solana.PublicKey            `env:"ARGUS_MULTISIG"`
		CreateKeyScheme provisioner.CreateKeyScheme `env:"PROVISION_CREATE_KEY_SCHEME" envDefault:"hashed"`
	}
	Services struct {
		RouterURL  string `env:"SWAP_ROUTER_URL" envDefault:"https://quote-api.jup.ag/v6"`
		BackendURL string `env:"POLICY_BACKEND_URL"`
	}
	Executor struct {
		Relays relayList `env:"ARGUS_RELAYS"`
	}
}

type relayList []executor.Relay

// overlay is the subset of settings that may also come from ARGUS_CONFIG_FILE. Values present in
// the file win over the environment.
type overlay struct {
	RPCEndpoint string   `json:"rpc_url"`
	WSEndpoint  string   `json:"ws_url"`
	RouterURL   string   `json:"router_url"`
	BackendURL  string   `json:"backend_url"`
	Relays      []string `json:"relays"`
}

func parseRelays(v string) (relayList, error) {
	var relays relayList
	for _, s := range strings.Split(v, ",") {
		if strings.TrimSpace(s) == "" {
			continue
		}
		r, err := executor.ParseRelay(s)
		if err != nil {
			return nil, err
		}
		relays = append(relays, r)
	}
	return relays, nil
}

var parsers = map[reflect.Type]env.ParserFunc{
	reflect.TypeOf(relayList{}): func(v string) (interface{}, error) {
		return parseRelays(v)
	},
	reflect.TypeOf(solana.PublicKey{}): func(v string) (interface{}, error) {
		return solana.PublicKeyFromBase58(v)
	},
	reflect.TypeOf(solana.PrivateKey{}): func(v string) (interface{}, error) {
		return solana.PrivateKeyFromBase58(v)
	},
	reflect.TypeOf(provisioner.CreateKeyScheme("")): func(v string) (interface{}, error) {
		return provisioner.ParseCreateKeyScheme(v)
	},
}

func Parse() (Config, error) {
	var c Config
	if err := env.ParseWithFuncs(&c, parsers); err != nil {
		return Config{}, err
	}
	if path := os.Getenv("ARGUS_CONFIG_FILE"); path != "" {
		if err := c.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if len(c.Wallet.OwnerKey) == 0 {
		return Config{}, errors.New("ARGUS_OWNER_KEY is required")
	}
	if c.Services.BackendURL == "" {
		return Config{}, errors.New("POLICY_BACKEND_URL is required")
	}
	if c.Solana.ProgramID.IsZero() {
		c.Solana.ProgramID = squads.ProgramID
	}
	return c, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}
	var o overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	if o.RPCEndpoint != "" {
		c.Solana.RPCEndpoint = o.RPCEndpoint
	}
	if o.WSEndpoint != "" {
		c.Solana.WSEndpoint = o.WSEndpoint
	}
	if o.RouterURL != "" {
		c.Services.RouterURL = o.RouterURL
	}
	if o.BackendURL != "" {
		c.Services.BackendURL = o.BackendURL
	}
	if len(o.Relays) > 0 {
		relays, err := parseRelays(strings.Join(o.Relays, ","))
		if err != nil {
			return err
		}
		c.Executor.Relays = relays
	}
	return nil
}

func Load() Config {
	c, err := Parse()
	if err != nil {
		log.Panicf("[‼️  Config parsing failed] %+v\n", err)
	}
	return c
}
