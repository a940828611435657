package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "SURVEYSYNC"

// Checkpoint backends.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL   string
	Contract string
	ABIPath  string
	// Topics maps event name to topic0 hash; empty means every event in the ABI.
	Topics map[string]string

	Window           uint64
	PollInterval     time.Duration
	StartBlock       uint64
	FromBlock        uint64
	ToBlock          uint64
	MaxRetries       int
	RetryBackoff     time.Duration
	FetchConcurrency int

	CheckpointBackend string
	Checkpoint        string
	CheckpointKey     string
	SQLitePath        string
	PostgresDSN       string
	RecordsBackend    string

	MetricsAddr string
	Out         string
	Errors      string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("window", uint64(100))
	v.SetDefault("poll-interval", 20*time.Second)
	v.SetDefault("max-retries", 0)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("fetch-concurrency", 4)
	v.SetDefault("checkpoint-backend", BackendFile)
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("checkpoint-key", "survey")
	v.SetDefault("sqlite-path", "./data/surveysync.db")
	v.SetDefault("records-backend", BackendPostgres)
	v.SetDefault("out", "./data/events.jsonl")
	v.SetDefault("errors", "./data/decode_errors.jsonl")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:            v.GetString("rpc"),
		Contract:          v.GetString("contract"),
		ABIPath:           v.GetString("abi"),
		Topics:            getStringMap(v, "topics"),
		Window:            v.GetUint64("window"),
		PollInterval:      v.GetDuration("poll-interval"),
		StartBlock:        v.GetUint64("start-block"),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		FetchConcurrency:  v.GetInt("fetch-concurrency"),
		CheckpointBackend: strings.ToLower(v.GetString("checkpoint-backend")),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointKey:     v.GetString("checkpoint-key"),
		SQLitePath:        v.GetString("sqlite-path"),
		PostgresDSN:       v.GetString("pg-dsn"),
		RecordsBackend:    strings.ToLower(v.GetString("records-backend")),
		MetricsAddr:       v.GetString("metrics-addr"),
		Out:               v.GetString("out"),
		Errors:            v.GetString("errors"),
		LogLevel:          v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks settings shared by every chain-facing command.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc is required")
	}
	if c.Contract == "" {
		return fmt.Errorf("contract is required")
	}
	if c.Window == 0 {
		return fmt.Errorf("window must be greater than zero")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max-retries must be >= 0")
	}
	switch c.CheckpointBackend {
	case BackendFile, BackendSQLite, BackendPostgres:
	default:
		return fmt.Errorf("unknown checkpoint backend: %s", c.CheckpointBackend)
	}
	switch c.RecordsBackend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unknown records backend: %s", c.RecordsBackend)
	}
	if (c.CheckpointBackend == BackendPostgres || c.RecordsBackend == BackendPostgres) && c.PostgresDSN == "" {
		return fmt.Errorf("pg-dsn is required for the postgres backend")
	}
	return nil
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	case string:
		return parseStringMap(typed)
	default:
		return map[string]string{}
	}
}

func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	pairs := strings.Split(input, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
