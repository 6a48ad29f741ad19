package commands

import (
	"os"
	"path/filepath"

	"github.com/fieldmesh/fieldmesh/src/fieldmesh"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a fieldmesh node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runFieldMesh,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runFieldMesh(cmd *cobra.Command, args []string) error {
	engine := fieldmesh.NewFieldMesh(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for fieldmesh node")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for fieldmesh node")
	cmd.Flags().String("authority", _config.AuthorityAddr, "IP:Port of the central authority, empty for pure mesh")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")
	cmd.Flags().Int("max-hops", _config.MaxHops, "Hop budget of flooded messages")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Disable the HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")
	cmd.Flags().Bool("bootstrap", _config.Bootstrap, "Load from database")
	cmd.Flags().Int("cache-size", _config.CacheSize, "Number of items in LRU caches")

	// Node configuration
	cmd.Flags().Duration("heartbeat", _config.HeartbeatTimeout, "Time between heartbeats")
	cmd.Flags().Int("missed-heartbeats", _config.MissedHeartbeats, "Silent heartbeats before a peer is lost")
	cmd.Flags().Int("min-peers", _config.MinPeers, "Live peer links below which the node is Degraded")
	cmd.Flags().Duration("retry-base", _config.RetryBase, "Initial retransmission delay for queued messages")
	cmd.Flags().Duration("retry-cap", _config.RetryCap, "Max retransmission delay for queued messages")
	cmd.Flags().Duration("message-expiry", _config.MessageExpiry, "How long a queued message is retried")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	addLogFileHook()

	logFields := logrus.Fields{
		"DataDir":          _config.DataDir,
		"BindAddr":         _config.BindAddr,
		"AdvertiseAddr":    _config.AdvertiseAddr,
		"AuthorityAddr":    _config.AuthorityAddr,
		"ServiceAddr":      _config.ServiceAddr,
		"NoService":        _config.NoService,
		"MaxPool":          _config.MaxPool,
		"MaxHops":          _config.MaxHops,
		"Store":            _config.Store,
		"LogLevel":         _config.LogLevel,
		"Moniker":          _config.Moniker,
		"HeartbeatTimeout": _config.HeartbeatTimeout,
		"MissedHeartbeats": _config.MissedHeartbeats,
		"MinPeers":         _config.MinPeers,
		"TCPTimeout":       _config.TCPTimeout,
		"CacheSize":        _config.CacheSize,
		"RetryBase":        _config.RetryBase,
		"RetryCap":         _config.RetryCap,
		"MessageExpiry":    _config.MessageExpiry,
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
		logFields["Bootstrap"] = _config.Bootstrap
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/fieldmesh.toml (.json, .yaml also work)
	viper.SetConfigName("fieldmesh")     // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}

// addLogFileHook mirrors info and debug output into log files under the data
// directory, so a field operator can pull the files after the fact even when
// nothing was attached to stderr.
func addLogFileHook() {
	logger := _config.Logger().Logger

	pathMap := lfshook.PathMap{}

	infoLog := filepath.Join(_config.DataDir, "fieldmesh_info.log")
	if _, err := os.OpenFile(infoLog, os.O_CREATE|os.O_WRONLY, 0666); err != nil {
		logger.Info("Failed to open fieldmesh_info.log file, using default stderr")
	} else {
		pathMap[logrus.InfoLevel] = infoLog
	}

	debugLog := filepath.Join(_config.DataDir, "fieldmesh_debug.log")
	if _, err := os.OpenFile(debugLog, os.O_CREATE|os.O_WRONLY, 0666); err != nil {
		logger.Info("Failed to open fieldmesh_debug.log file, using default stderr")
	} else {
		pathMap[logrus.DebugLevel] = debugLog
	}

	logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}
