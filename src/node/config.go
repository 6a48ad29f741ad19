package node

import (
	"testing"
	"time"

	"github.com/fieldmesh/fieldmesh/src/common"
	"github.com/sirupsen/logrus"
)

// Config groups the node-level knobs. The full application configuration
// lives in the config package; this is the subset the agent itself consumes.
type Config struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`
	MissedHeartbeats int           `mapstructure:"missed-heartbeats"`
	MinPeers         int           `mapstructure:"min-peers"`
	TCPTimeout       time.Duration `mapstructure:"timeout"`
	CacheSize        int           `mapstructure:"cache-size"`
	MaxHops          int           `mapstructure:"max-hops"`
	RetryBase        time.Duration `mapstructure:"retry-base"`
	RetryCap         time.Duration `mapstructure:"retry-cap"`
	MessageExpiry    time.Duration `mapstructure:"message-expiry"`
	AuthorityAddr    string        `mapstructure:"authority"`
	Logger           *logrus.Logger
}

// NewConfig creates a node Config.
func NewConfig(heartbeat time.Duration,
	missedHeartbeats int,
	minPeers int,
	timeout time.Duration,
	cacheSize int,
	maxHops int,
	retryBase time.Duration,
	retryCap time.Duration,
	messageExpiry time.Duration,
	authorityAddr string,
	logger *logrus.Logger) *Config {

	return &Config{
		HeartbeatTimeout: heartbeat,
		MissedHeartbeats: missedHeartbeats,
		MinPeers:         minPeers,
		TCPTimeout:       timeout,
		CacheSize:        cacheSize,
		MaxHops:          maxHops,
		RetryBase:        retryBase,
		RetryCap:         retryCap,
		MessageExpiry:    messageExpiry,
		AuthorityAddr:    authorityAddr,
		Logger:           logger,
	}
}

// DefaultConfig returns a Config with field-scale defaults.
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		HeartbeatTimeout: 30 * time.Second,
		MissedHeartbeats: 2,
		MinPeers:         2,
		TCPTimeout:       1000 * time.Millisecond,
		CacheSize:        10000,
		MaxHops:          3,
		RetryBase:        1 * time.Second,
		RetryCap:         60 * time.Second,
		MessageExpiry:    10 * time.Minute,
		Logger:           logger,
	}
}

// SilenceTimeout is the duration of radio silence after which a peer is
// declared lost.
func (c *Config) SilenceTimeout() time.Duration {
	return time.Duration(c.MissedHeartbeats) * c.HeartbeatTimeout
}

// TestConfig returns a Config with short intervals and a test logger.
func TestConfig(t testing.TB) *Config {
	config := DefaultConfig()
	config.HeartbeatTimeout = 50 * time.Millisecond
	config.RetryBase = 10 * time.Millisecond
	config.RetryCap = 100 * time.Millisecond
	config.MessageExpiry = 1 * time.Second
	config.Logger = common.NewTestLogger(t, logrus.DebugLevel)
	return config
}
