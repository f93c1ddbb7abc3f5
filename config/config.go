package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	defaultDeliveryTimeout       = 10 * time.Second
	defaultReconnectInitialDelay = 1 * time.Second
	defaultLogLevel              = "info"
)

// Config settings of the account watcher.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool

	// Asset wallet asset to watch, e.g. USDT.
	Asset string
	// Symbol futures symbol to watch, e.g. BTCUSDT.
	Symbol string

	Endpoint        string
	Username        string
	Password        string
	DeliveryTimeout time.Duration

	// ReconnectMaxDelay zero means sessions are restarted immediately.
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration

	StatusAddr string
	LogLevel   string
	LogFile    string
}

// BasicAuth reports whether delivery should use basic auth.
func (c Config) BasicAuth() bool {
	return c.Username != "" && c.Password != ""
}

// ConfigTmp raw yaml representation, durations are kept as strings until validated.
type ConfigTmp struct {
	APIKey                string `yaml:"api_key"`
	APISecret             string `yaml:"api_secret"`
	Testnet               string `yaml:"testnet,omitempty"`
	Asset                 string `yaml:"asset"`
	Symbol                string `yaml:"symbol"`
	Endpoint              string `yaml:"endpoint"`
	Username              string `yaml:"username,omitempty"`
	Password              string `yaml:"password,omitempty"`
	DeliveryTimeout       string `yaml:"delivery_timeout,omitempty"`
	ReconnectInitialDelay string `yaml:"reconnect_initial_delay,omitempty"`
	ReconnectMaxDelay     string `yaml:"reconnect_max_delay,omitempty"`
	StatusAddr            string `yaml:"status_addr,omitempty"`
	LogLevel              string `yaml:"log_level,omitempty"`
	LogFile               string `yaml:"log_file,omitempty"`
}

// Error is returned when required settings are missing or malformed.
// It is fatal: the watcher never starts with an incomplete configuration.
type Error struct {
	Missing []string
	Invalid []string
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required settings: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid settings: "+strings.Join(e.Invalid, "; "))
	}
	return "config: " + strings.Join(parts, "; ")
}

// Get parses command line flags, loads the optional .env file and yaml config
// and builds the configuration from them and the process environment.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	envPath := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	// godotenv never overrides variables already present in the environment
	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrapf(err, "failed to load env file %s", *envPath)
	}

	return Load(*configPath, os.LookupEnv)
}

// Load builds the configuration from the yaml file at path (optional, may be empty)
// overridden by values found through lookup.
func Load(path string, lookup func(string) (string, bool)) (Config, error) {
	var tmp ConfigTmp
	if path != "" {
		f, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "failed to read config %s", path)
		}
		if err := yaml.Unmarshal(f, &tmp); err != nil {
			return Config{}, errors.Wrapf(err, "failed to parse yaml config %s", path)
		}
	}

	env := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	env(&tmp.APIKey, "API_KEY", "BINANCE_API_KEY")
	env(&tmp.APISecret, "API_SECRET", "BINANCE_API_SECRET")
	env(&tmp.Testnet, "TESTNET")
	env(&tmp.Asset, "ASSET")
	env(&tmp.Symbol, "SYMBOL")
	env(&tmp.Endpoint, "ENDPOINT")
	env(&tmp.Username, "USERNAME")
	env(&tmp.Password, "PASSWORD")
	env(&tmp.DeliveryTimeout, "DELIVERY_TIMEOUT")
	env(&tmp.ReconnectInitialDelay, "RECONNECT_INITIAL_DELAY")
	env(&tmp.ReconnectMaxDelay, "RECONNECT_MAX_DELAY")
	env(&tmp.StatusAddr, "STATUS_ADDR")
	env(&tmp.LogLevel, "LOG_LEVEL")
	env(&tmp.LogFile, "LOG_FILE")

	return tmp.validate()
}

func (c ConfigTmp) validate() (Config, error) {
	cfgErr := &Error{}

	required := func(name, value string) string {
		value = strings.TrimSpace(value)
		if value == "" {
			cfgErr.Missing = append(cfgErr.Missing, name)
		}
		return value
	}
	duration := func(name, value string, def time.Duration) time.Duration {
		if value == "" {
			return def
		}
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 {
			cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("%s=%q is not a valid duration", name, value))
			return def
		}
		return d
	}

	conf := Config{
		APIKey:    required("API_KEY", c.APIKey),
		APISecret: required("API_SECRET", c.APISecret),
		Asset:     required("ASSET", c.Asset),
		Symbol:    required("SYMBOL", c.Symbol),
		Endpoint:  required("ENDPOINT", c.Endpoint),
		Username:  c.Username,
		Password:  c.Password,

		DeliveryTimeout:       duration("DELIVERY_TIMEOUT", c.DeliveryTimeout, defaultDeliveryTimeout),
		ReconnectInitialDelay: duration("RECONNECT_INITIAL_DELAY", c.ReconnectInitialDelay, defaultReconnectInitialDelay),
		ReconnectMaxDelay:     duration("RECONNECT_MAX_DELAY", c.ReconnectMaxDelay, 0),

		StatusAddr: c.StatusAddr,
		LogLevel:   c.LogLevel,
		LogFile:    c.LogFile,
	}

	if c.Testnet != "" {
		testnet, err := strconv.ParseBool(c.Testnet)
		if err != nil {
			cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("TESTNET=%q is not a boolean", c.Testnet))
		}
		conf.Testnet = testnet
	}
	if conf.DeliveryTimeout == 0 {
		cfgErr.Invalid = append(cfgErr.Invalid, "DELIVERY_TIMEOUT must be positive")
	}
	if conf.LogLevel == "" {
		conf.LogLevel = defaultLogLevel
	}

	if len(cfgErr.Missing) > 0 || len(cfgErr.Invalid) > 0 {
		return Config{}, cfgErr
	}

	return conf, nil
}
