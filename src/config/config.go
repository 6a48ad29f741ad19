package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/fieldmesh/fieldmesh/src/common"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultPeersFile is the default name of the file containing the initial
	// peer set
	DefaultPeersFile = "peers.json"
)

// Default configuration values.
const (
	DefaultLogLevel         = "debug"
	DefaultBindAddr         = "127.0.0.1:1337"
	DefaultServiceAddr      = "127.0.0.1:8000"
	DefaultHeartbeatTimeout = 30 * time.Second
	DefaultMissedHeartbeats = 2
	DefaultMinPeers         = 2
	DefaultTCPTimeout       = 1000 * time.Millisecond
	DefaultMaxPool          = 2
	DefaultMaxHops          = 3
	DefaultCacheSize        = 10000
	DefaultRetryBase        = 1 * time.Second
	DefaultRetryCap         = 60 * time.Second
	DefaultMessageExpiry    = 10 * time.Minute
	DefaultStore            = false
)

// Config contains all the configuration properties of a fieldmesh node.
type Config struct {
	// DataDir is the top-level directory containing fieldmesh configuration
	// and data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// BindAddr is the local address:port where this node talks to other
	// nodes. In some cases, there may be a routable address that cannot be
	// bound. Use AdvertiseAddr to advertise a different address to support
	// this.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// AuthorityAddr is the address:port of the central coordination point.
	// While it responds to heartbeats the node operates in Centralized mode;
	// when it stops responding the node falls back to peer-to-peer routing.
	AuthorityAddr string `mapstructure:"authority"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service. If not
	// specified, and "no-service" is not set, the API handlers are registered
	// with the DefaultServerMux of the http package.
	ServiceAddr string `mapstructure:"service-listen"`

	// HeartbeatTimeout is the interval between heartbeats to known peers and
	// the authority.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`

	// MissedHeartbeats is the number of consecutive silent heartbeat
	// intervals after which a peer is considered lost.
	MissedHeartbeats int `mapstructure:"missed-heartbeats"`

	// MinPeers is the minimum number of live peer links for full peer-to-peer
	// operation; below it the node reports itself Degraded.
	MinPeers int `mapstructure:"min-peers"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// TCPTimeout is the timeout of RPC connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// MaxHops bounds how many times a flooded message is relayed before it is
	// dropped.
	MaxHops int `mapstructure:"max-hops"`

	// CacheSize is the max number of items in in-memory caches, including the
	// window of message IDs used for duplicate suppression.
	CacheSize int `mapstructure:"cache-size"`

	// RetryBase is the initial delay before a queued message is
	// retransmitted. Each subsequent attempt doubles the delay.
	RetryBase time.Duration `mapstructure:"retry-base"`

	// RetryCap is the upper bound on the retransmission delay.
	RetryCap time.Duration `mapstructure:"retry-cap"`

	// MessageExpiry is how long a queued message is retried before it is
	// dropped and reported as expired.
	MessageExpiry time.Duration `mapstructure:"message-expiry"`

	// Store activates persistent storage for the ledger.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Bootstrap determines whether or not to load the ledger from an existing
	// database file. Forces Store.
	Bootstrap bool `mapstructure:"bootstrap"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// Key is the private key of the node.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:          DefaultDataDir(),
		LogLevel:         DefaultLogLevel,
		BindAddr:         DefaultBindAddr,
		ServiceAddr:      DefaultServiceAddr,
		HeartbeatTimeout: DefaultHeartbeatTimeout,
		MissedHeartbeats: DefaultMissedHeartbeats,
		MinPeers:         DefaultMinPeers,
		TCPTimeout:       DefaultTCPTimeout,
		MaxPool:          DefaultMaxPool,
		MaxHops:          DefaultMaxHops,
		CacheSize:        DefaultCacheSize,
		RetryBase:        DefaultRetryBase,
		RetryCap:         DefaultRetryCap,
		MessageExpiry:    DefaultMessageExpiry,
		Store:            DefaultStore,
		DatabaseDir:      DefaultDatabaseDir(),
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests. The intervals are shortened so tests exercise
// the timers without waiting out field-scale timeouts.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.HeartbeatTimeout = 50 * time.Millisecond
	config.RetryBase = 10 * time.Millisecond
	config.RetryCap = 100 * time.Millisecond
	config.MessageExpiry = 1 * time.Second
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level fieldmesh directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely
// set it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// SilenceTimeout returns the duration of radio silence after which a peer is
// declared lost.
func (c *Config) SilenceTimeout() time.Duration {
	return time.Duration(c.MissedHeartbeats) * c.HeartbeatTimeout
}

// Logger returns a formatted logrus Entry, with prefix set to "fieldmesh".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "fieldmesh")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level fieldmesh
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".FieldMesh")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "FieldMesh")
		} else {
			return filepath.Join(home, ".fieldmesh")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
