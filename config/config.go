package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

const (
	StoreREST   = "rest"
	StoreTables = "tables"

	MessagingUltraMsg = "ultramsg"
	MessagingQueue    = "queue"
	MessagingNone     = "none"
)

// Config is the process configuration.
type Config struct {
	Store         StoreConfig     `yaml:"store"`
	Messaging     MessagingConfig `yaml:"messaging"`
	Redis         RedisConfig     `yaml:"redis"`
	Notifications NotifyConfig    `yaml:"notifications"`
	Server        ServerConfig    `yaml:"server"`
	Timezone      string          `yaml:"timezone"`
	Debug         bool            `yaml:"debug"`
}

// StoreConfig selects and configures the record store backend.
type StoreConfig struct {
	Backend          string `yaml:"backend"`
	BaseURL          string `yaml:"base_url"`
	Token            string `yaml:"token"`
	ConnectionString string `yaml:"connection_string"`
	TasksTable       string `yaml:"tasks_table"`
	MembersTable     string `yaml:"members_table"`
}

// MessagingConfig selects and configures the outbound messaging backend.
type MessagingConfig struct {
	Backend          string `yaml:"backend"`
	UltraMsgBaseURL  string `yaml:"ultramsg_base_url"`
	UltraMsgInstance string `yaml:"ultramsg_instance"`
	UltraMsgToken    string `yaml:"ultramsg_token"`
	OutboundQueue    string `yaml:"outbound_queue"`
}

// RedisConfig configures the member cache and idempotency store. Both are
// disabled when ConnectionString is empty.
type RedisConfig struct {
	ConnectionString string        `yaml:"connection_string"`
	MembersCacheTTL  time.Duration `yaml:"members_cache_ttl"`
	DeduperTTL       time.Duration `yaml:"deduper_ttl"`
}

type NotifyConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type ServerConfig struct {
	ListenPort     string        `yaml:"listen_port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Backend:      StoreREST,
			TasksTable:   "Tasks",
			MembersTable: "Members",
		},
		Messaging: MessagingConfig{
			Backend:         MessagingUltraMsg,
			UltraMsgBaseURL: "https://api.ultramsg.com",
			OutboundQueue:   "outbound-messages",
		},
		Redis: RedisConfig{
			MembersCacheTTL: 5 * time.Minute,
			DeduperTTL:      24 * time.Hour,
		},
		Notifications: NotifyConfig{PollInterval: 60 * time.Second},
		Server: ServerConfig{
			ListenPort:     "8080",
			RequestTimeout: 15 * time.Second,
		},
		Timezone: "Local",
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE and then the environment, and validates the result.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MergeFile overlays the YAML file at path. Keys missing from the file keep
// their current values.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid %s: %q", key, v)
		}
		*dst = d
		return nil
	}

	str("STORE_BACKEND", &c.Store.Backend)
	str("STORE_BASE_URL", &c.Store.BaseURL)
	str("STORE_TOKEN", &c.Store.Token)
	str("STORAGE_CONNECTION_STRING", &c.Store.ConnectionString)
	str("TASKS_TABLE", &c.Store.TasksTable)
	str("MEMBERS_TABLE", &c.Store.MembersTable)
	str("MESSAGING_BACKEND", &c.Messaging.Backend)
	str("ULTRAMSG_BASE_URL", &c.Messaging.UltraMsgBaseURL)
	str("ULTRAMSG_INSTANCE", &c.Messaging.UltraMsgInstance)
	str("ULTRAMSG_TOKEN", &c.Messaging.UltraMsgToken)
	str("OUTBOUND_QUEUE", &c.Messaging.OutboundQueue)
	str("REDIS_CONNECTION_STRING", &c.Redis.ConnectionString)
	str("TIMEZONE", &c.Timezone)
	str("LISTEN_PORT", &c.Server.ListenPort)

	for key, dst := range map[string]*time.Duration{
		"MEMBERS_CACHE_TTL":          &c.Redis.MembersCacheTTL,
		"DEDUPER_TTL":                &c.Redis.DeduperTTL,
		"NOTIFICATION_POLL_INTERVAL": &c.Notifications.PollInterval,
		"REQUEST_TIMEOUT":            &c.Server.RequestTimeout,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("DEBUG"); ok && v != "" {
		dbg, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DEBUG: %q", v)
		}
		c.Debug = dbg
	}
	return nil
}

// Validate rejects incomplete or inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case StoreREST:
		if c.Store.BaseURL == "" {
			errs = append(errs, errors.New("missing store config: STORE_BASE_URL"))
		}
	case StoreTables:
		if c.Store.ConnectionString == "" || c.Store.TasksTable == "" || c.Store.MembersTable == "" {
			errs = append(errs, errors.New("missing storage config: STORAGE_CONNECTION_STRING, TASKS_TABLE and MEMBERS_TABLE are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}

	switch c.Messaging.Backend {
	case MessagingUltraMsg:
		if c.Messaging.UltraMsgInstance == "" || c.Messaging.UltraMsgToken == "" {
			errs = append(errs, errors.New("missing messaging config: ULTRAMSG_INSTANCE and ULTRAMSG_TOKEN are required"))
		}
	case MessagingQueue:
		if c.Store.ConnectionString == "" || c.Messaging.OutboundQueue == "" {
			errs = append(errs, errors.New("missing messaging config: STORAGE_CONNECTION_STRING and OUTBOUND_QUEUE are required"))
		}
	case MessagingNone:
	default:
		errs = append(errs, fmt.Errorf("unknown MESSAGING_BACKEND %q", c.Messaging.Backend))
	}

	if c.Notifications.PollInterval <= 0 {
		errs = append(errs, errors.New("NOTIFICATION_POLL_INTERVAL must be positive"))
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if c.Redis.DeduperTTL <= 0 {
		errs = append(errs, errors.New("DEDUPER_TTL must be positive"))
	}
	if c.Redis.MembersCacheTTL < 0 {
		errs = append(errs, errors.New("MEMBERS_CACHE_TTL must not be negative"))
	}
	if _, err := strconv.Atoi(c.Server.ListenPort); err != nil {
		errs = append(errs, fmt.Errorf("invalid LISTEN_PORT %q", c.Server.ListenPort))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves the timezone deadlines are expressed in.
func (c Config) Location() (*time.Location, error) {
	switch c.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ListenAddr is the address the HTTP server binds.
func (c Config) ListenAddr() string {
	return ":" + c.Server.ListenPort
}

// RedisOptions parses a redis:// URL or the Azure style
// "host:port,password=...,ssl=True" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if strings.TrimSpace(conn) == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	if opts.Addr == "" {
		return nil, fmt.Errorf("invalid redis connection string")
	}
	return opts, nil
}
