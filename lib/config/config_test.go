package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestFromViperAppliesDefaults(t *testing.T) {
	viper.Reset()
	setDefaults()

	cfg := FromViper()
	require.Equal(t, "localhost:5683", cfg.Server.Addr)
	require.Equal(t, 10, cfg.Fleet.Count)
	require.Equal(t, 5.0, cfg.Runtime.ConnectRatePerSec)
	require.Equal(t, 1, cfg.Runtime.ConnectBurst)
}

func TestFromViperHonorsOverrides(t *testing.T) {
	viper.Reset()
	setDefaults()
	viper.Set("fleet.count", 500)
	viper.Set("server.addr", "cloud.example.com:5683")

	cfg := FromViper()
	require.Equal(t, 500, cfg.Fleet.Count)
	require.Equal(t, "cloud.example.com:5683", cfg.Server.Addr)
}
