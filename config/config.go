// Package config loads the daemon's on-disk and command-line configuration,
// the way lnd.go's loadConfig does: jessevdk/go-flags parses flags and an
// optional config file into a single struct, then a handful of defaults and
// sanity checks are applied before the value is handed to the rest of the
// daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"

	"github.com/creditmesh/meshnode/meshtypes"
)

const (
	defaultConfigFilename = "meshnode.conf"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "meshnode.log"
	defaultRPCListen      = "localhost:10258"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
)

func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".meshnode")
}

// RelayEntry binds a friend's public key (hex-encoded in the config file) to
// the relay addresses used to reach them, feeding relaydiscovery.StaticResolver.
type RelayEntry struct {
	PublicKey string   `long:"pubkey" description:"hex-encoded public key of the friend"`
	Relays    []string `long:"relay" description:"host:port of a relay reachable for this friend"`
}

// Config mirrors lnd's top-level config struct: flat, tagged for go-flags,
// with defaults filled in by DefaultConfig and validated by Validate.
type Config struct {
	HomeDir    string `short:"H" long:"homedir" description:"base directory holding data and logs"`
	DataDir    string `long:"datadir" description:"directory to store the node database"`
	LogDir     string `long:"logdir" description:"directory to log output to"`
	ConfigFile string `short:"C" long:"configfile" description:"path to configuration file"`

	ListenAddr string `long:"listen" description:"address to accept peer connections on"`
	RPCListen  string `long:"rpclisten" description:"address the meshrpc app-facing websocket server listens on"`

	IdentitySeedFile string `long:"identity" description:"path to the file holding the node's 32-byte Ed25519 seed"`

	DebugLevel string `long:"debuglevel" description:"logging level for all subsystems: trace, debug, info, warn, error, critical"`

	MaxLogFiles    int `long:"maxlogfiles" description:"maximum log files to keep (0 to disable rotation)"`
	MaxLogFileSize int `long:"maxlogfilesize" description:"maximum log file size in KB before rotation"`

	Profile string `long:"profile" description:"http profiling port; disabled if empty"`

	Relays []RelayEntry

	IndexAddr string `long:"indexaddr" description:"address of the index server used for route discovery"`
}

// DefaultConfig returns a Config with every field set to its default value,
// mirroring lnd's defaultConfig().
func DefaultConfig() Config {
	homeDir := defaultHomeDir()
	return Config{
		HomeDir:        homeDir,
		DataDir:        filepath.Join(homeDir, defaultDataDirname),
		LogDir:         filepath.Join(homeDir, defaultLogDirname),
		ConfigFile:     filepath.Join(homeDir, defaultConfigFilename),
		RPCListen:      defaultRPCListen,
		DebugLevel:     "info",
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
	}
}

// Load parses command-line flags over the defaults, then the config file (if
// present) over that, matching loadConfig's "flags win, file fills the
// rest" precedence via go-flags' IniParse.
func Load() (*Config, error) {
	preCfg := DefaultConfig()
	parser := flags.NewParser(&preCfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(preCfg.ConfigFile); err == nil {
		if err := flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Re-parse flags so command-line arguments override the config file.
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if err := preCfg.Validate(); err != nil {
		return nil, err
	}
	return &preCfg, nil
}

// Validate checks invariants Load cannot enforce through struct tags alone.
func (c *Config) Validate() error {
	if c.ListenAddr == "" && len(c.Relays) == 0 {
		return fmt.Errorf("config: must set either listen or at least one relay entry")
	}
	for _, r := range c.Relays {
		if len(r.PublicKey) != meshtypes.PublicKeySize*2 {
			return fmt.Errorf("config: relay entry %q has malformed public key length", r.PublicKey)
		}
	}
	return nil
}

func (c *Config) LogFilePath() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}
