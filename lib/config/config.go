// Package config layers defaults, a config file and FLEETSTRESS-prefixed
// environment lookup through viper, the way the teacher's lib/config package
// builds a RouterConfig. No CLI flag is bound to a viper key.
package config

import (
	"os"
	"path/filepath"

	"github.com/fleetstress/fleetstress/lib/util/logger"
	"github.com/samber/oops"
	"github.com/spf13/viper"
)

var (
	CfgFile string
	log     = logger.GetFleetLogger()
)

const FleetStressBaseDir = ".fleetstress"

// FleetConfig is the fully resolved run configuration: one TCP endpoint,
// the device population to simulate against it, and the pacing knobs that
// govern how fast the fleet connects and sends (spec §2, §6, §7).
type FleetConfig struct {
	Server  *ServerConfig
	Fleet   *PopulationConfig
	Runtime *RuntimeConfig
}

// ServerConfig names the cloud endpoint under test and the RSA public key
// used to open each device's handshake (spec §4.5 step 1).
type ServerConfig struct {
	Addr            string
	ServerPubKeyPEM string
}

// PopulationConfig governs how many simulated devices exist and how their
// identities are sourced (spec §6 new_session, §7).
type PopulationConfig struct {
	Count        int
	DataDir      string
	ThrottleMS   int
	WebhookEvery int // send a webhook test event every N seconds per device, 0 disables
}

// RuntimeConfig governs the connect fan-out and overall run duration
// (spec §7 "Load characteristics").
type RuntimeConfig struct {
	ConnectRatePerSec float64
	ConnectBurst      int
	Duration          int // seconds; 0 means run until interrupted
}

func init() {
	setDefaults()
}

func setDefaults() {
	viper.SetDefault("server.addr", "localhost:5683")
	viper.SetDefault("server.pub_key_pem", "")

	viper.SetDefault("fleet.count", 10)
	viper.SetDefault("fleet.data_dir", defaultDataDir())
	viper.SetDefault("fleet.throttle_ms", 0)
	viper.SetDefault("fleet.webhook_every", 0)

	viper.SetDefault("runtime.connect_rate_per_sec", 5.0)
	viper.SetDefault("runtime.connect_burst", 1)
	viper.SetDefault("runtime.duration", 0)
}

// InitConfig wires viper to CfgFile if set, else the default
// ~/.fleetstress/config.yaml, creating it with defaults on first run
// (mirrors the teacher's InitConfig).
func InitConfig() error {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildFleetDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("FLEETSTRESS")
	viper.AutomaticEnv()

	return handleConfigFile()
}

func handleConfigFile() error {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if CfgFile != "" {
				return oops.Wrapf(err, "config: file %s not found", CfgFile)
			}
			return createDefaultConfig(BuildFleetDirPath())
		}
		return oops.Wrapf(err, "config: read config file")
	}
	log.WithField("file", viper.ConfigFileUsed()).Debug("using config file")
	return nil
}

func createDefaultConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return oops.Wrapf(err, "config: create config directory %s", dir)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := viper.SafeWriteConfigAs(path); err != nil {
		return oops.Wrapf(err, "config: write default config %s", path)
	}
	log.WithField("file", path).Debug("created default configuration")
	return nil
}

// FromViper resolves a FleetConfig from the currently loaded viper state.
func FromViper() *FleetConfig {
	return &FleetConfig{
		Server: &ServerConfig{
			Addr:            viper.GetString("server.addr"),
			ServerPubKeyPEM: viper.GetString("server.pub_key_pem"),
		},
		Fleet: &PopulationConfig{
			Count:        viper.GetInt("fleet.count"),
			DataDir:      viper.GetString("fleet.data_dir"),
			ThrottleMS:   viper.GetInt("fleet.throttle_ms"),
			WebhookEvery: viper.GetInt("fleet.webhook_every"),
		},
		Runtime: &RuntimeConfig{
			ConnectRatePerSec: viper.GetFloat64("runtime.connect_rate_per_sec"),
			ConnectBurst:      viper.GetInt("runtime.connect_burst"),
			Duration:          viper.GetInt("runtime.duration"),
		},
	}
}

func defaultDataDir() string {
	return filepath.Join(BuildFleetDirPath(), "devices")
}

func BuildFleetDirPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, FleetStressBaseDir)
}
