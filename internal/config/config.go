// Package config loads the settings of a mesh node.
//
// Values are layered, lowest priority first: built-in defaults, the YAML
// file, MESH_* environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-mesh/internal/barrier"
	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListen   = "0.0.0.0:4242"
	DefaultLogLevel = "info"
	envPrefix       = "MESH_"
)

var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

type Config struct {
	// ID is the peer id announced to the mesh. A random one is generated
	// when unset.
	ID      string `yaml:"id"`
	Account string `yaml:"account"`

	Listen string   `yaml:"listen"`
	Join   []string `yaml:"join"`

	// Format is the wire format, json or msgpack.
	Format string `yaml:"format"`

	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollAttempts int           `yaml:"max_poll_attempts"`

	MediaAutoOffer bool     `yaml:"media_auto_offer"`
	STUNServers    []string `yaml:"stun_servers"`

	// Journal is the SQLite path of the session journal. Empty disables it.
	Journal  string `yaml:"journal"`
	LogLevel string `yaml:"log_level"`
}

// Options carries the flag values. Zero values leave the lower layers
// untouched.
type Options struct {
	Path string

	ID              string
	Account         string
	Listen          string
	Join            []string
	Format          string
	PollInterval    time.Duration
	MaxPollAttempts int
	MediaAutoOffer  *bool
	STUNServers     []string
	Journal         string
	LogLevel        string
}

func Default() *Config {
	return &Config{
		Listen:         DefaultListen,
		Format:         protocol.FormatJSON,
		PollInterval:   barrier.DefaultInterval,
		MediaAutoOffer: true,
		STUNServers:    append([]string(nil), DefaultSTUNServers...),
		LogLevel:       DefaultLogLevel,
	}
}

// Load builds the configuration. The file comes from opts.Path or
// MESH_CONFIG; without either only defaults, env and flags apply.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	path := opts.Path
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	cfg.apply(opts)

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	str := func(name string, dst *string) {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = splitList(v)
		}
	}

	str("ID", &c.ID)
	str("ACCOUNT", &c.Account)
	str("LISTEN", &c.Listen)
	list("JOIN", &c.Join)
	str("FORMAT", &c.Format)
	list("STUN_SERVERS", &c.STUNServers)
	str("JOURNAL", &c.Journal)
	str("LOG_LEVEL", &c.LogLevel)

	if v := os.Getenv(envPrefix + "POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sPOLL_INTERVAL: %w", envPrefix, err)
		}
		c.PollInterval = d
	}
	if v := os.Getenv(envPrefix + "MAX_POLL_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_POLL_ATTEMPTS: %w", envPrefix, err)
		}
		c.MaxPollAttempts = n
	}
	if v := os.Getenv(envPrefix + "MEDIA_AUTO_OFFER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMEDIA_AUTO_OFFER: %w", envPrefix, err)
		}
		c.MediaAutoOffer = b
	}
	return nil
}

func (c *Config) apply(opts Options) {
	if opts.ID != "" {
		c.ID = opts.ID
	}
	if opts.Account != "" {
		c.Account = opts.Account
	}
	if opts.Listen != "" {
		c.Listen = opts.Listen
	}
	if len(opts.Join) > 0 {
		c.Join = opts.Join
	}
	if opts.Format != "" {
		c.Format = opts.Format
	}
	if opts.PollInterval > 0 {
		c.PollInterval = opts.PollInterval
	}
	if opts.MaxPollAttempts > 0 {
		c.MaxPollAttempts = opts.MaxPollAttempts
	}
	if opts.MediaAutoOffer != nil {
		c.MediaAutoOffer = *opts.MediaAutoOffer
	}
	if len(opts.STUNServers) > 0 {
		c.STUNServers = opts.STUNServers
	}
	if opts.Journal != "" {
		c.Journal = opts.Journal
	}
	if opts.LogLevel != "" {
		c.LogLevel = opts.LogLevel
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if _, err := protocol.FormatByName(c.Format); err != nil {
		errs = append(errs, err)
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %v", c.PollInterval))
	}
	if c.MaxPollAttempts < 0 {
		errs = append(errs, fmt.Errorf("max poll attempts must not be negative, got %d", c.MaxPollAttempts))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
