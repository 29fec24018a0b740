package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/alexieff-io/cap-discovery/internal/consul"
)

// EnvPrefix prefixes every environment variable, e.g. CAP_NODE_ID.
const EnvPrefix = "CAP"

// Config is the full daemon configuration.
type Config struct {
	Discovery consul.Options `mapstructure:",squash"`

	ListenAddr      string        `mapstructure:"listen_addr"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	LogLevel        string        `mapstructure:"log_level"`

	Cache      CacheConfig      `mapstructure:"cache"`
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`

	ShowVersion bool `mapstructure:"-"`
}

// CacheConfig selects where the node count is published.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

// KubernetesConfig controls mirroring the node list into a ConfigMap.
type KubernetesConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Namespace        string `mapstructure:"namespace"`
	ConfigMap        string `mapstructure:"configmap"`
	RemoveOnShutdown bool   `mapstructure:"remove_on_shutdown"`
	Kubeconfig       string `mapstructure:"kubeconfig"`
}

var defaults = map[string]any{
	"discovery_server_hostname":     "localhost",
	"discovery_server_port":         8500,
	"discovery_server_scheme":       "http",
	"datacenter":                    "",
	"token":                         "",
	"current_node_hostname":         "",
	"current_node_port":             8080,
	"current_node_scheme":           "http",
	"node_id":                       "",
	"node_name":                     "",
	"match_path":                    "",
	"custom_tags":                   []string{},
	"listen_addr":                   ":8080",
	"refresh_interval":              "30s",
	"log_level":                     "info",
	"cache.backend":                 "memory",
	"cache.redis_addr":              "localhost:6379",
	"cache.redis_password":          "",
	"cache.redis_db":                0,
	"cache.redis_prefix":            "",
	"kubernetes.enabled":            false,
	"kubernetes.namespace":          "default",
	"kubernetes.configmap":          "cap-nodes",
	"kubernetes.remove_on_shutdown": false,
	"kubernetes.kubeconfig":         "",
}

// Load reads flags from args, then an optional .env file, an optional YAML
// config file and CAP_* environment variables, in increasing precedence
// below flags.
func Load(args []string) (Config, error) {
	fset := pflag.NewFlagSet("cap-discovery", pflag.ContinueOnError)
	configFile := fset.String("config", "", "Path to a YAML config file")
	envFile := fset.String("env-file", ".env", "Path to a .env file, ignored when missing")
	showVersion := fset.Bool("version", false, "Print version and exit")
	fset.String("listen-addr", "", "Address for the health/API server")
	fset.String("node-id", "", "Registration ID of this node")
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}
	if *showVersion {
		return Config{ShowVersion: true}, nil
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading %s: %w", *envFile, err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, val := range defaults {
		v.SetDefault(key, val)
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("binding %s: %w", key, err)
		}
	}
	if err := v.BindPFlag("listen_addr", fset.Lookup("listen-addr")); err != nil {
		return Config{}, err
	}
	if err := v.BindPFlag("node_id", fset.Lookup("node-id")); err != nil {
		return Config{}, err
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading %s: %w", *configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	if cfg.Discovery.NodeID == "" {
		cfg.Discovery.NodeID = uuid.NewString()
	}
	if cfg.Discovery.CurrentNodeHostName == "" {
		host, err := os.Hostname()
		if err != nil {
			return Config{}, fmt.Errorf("resolving hostname: %w", err)
		}
		cfg.Discovery.CurrentNodeHostName = host
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the daemon settings and the discovery options.
func (c Config) Validate() error {
	var errs []error
	if err := c.Discovery.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("refresh_interval must be positive, got %s", c.RefreshInterval))
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported cache backend %q", c.Cache.Backend))
	}
	if c.Kubernetes.Enabled && (c.Kubernetes.Namespace == "" || c.Kubernetes.ConfigMap == "") {
		errs = append(errs, errors.New("kubernetes.namespace and kubernetes.configmap are required when publishing"))
	}
	return errors.Join(errs...)
}
