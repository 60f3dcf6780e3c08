package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, 1024, cfg.PersistChanSize)
	require.Equal(t, 50, cfg.PersistBatchSize)
	require.Equal(t, 10*time.Millisecond, cfg.PersistFlushTimeout)
	require.Equal(t, int64(100000), cfg.SnapshotInterval)
	require.Equal(t, uint8(18), cfg.RewardValueDecimals)
	require.True(t, cfg.RebuildProjectionsOnStart)
	require.Equal(t, ":9090", cfg.GRPCAddr)
	require.Empty(t, cfg.LogFileConfig().Path)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("YPOOL_PERSIST_FLUSH_TIMEOUT", "250ms")
	t.Setenv("YPOOL_REWARD_VALUE_DECIMALS", "6")
	t.Setenv("YPOOL_LOG_FILE", "/var/log/ypool/ledger.log")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, cfg.PersistFlushTimeout)
	require.Equal(t, uint8(6), cfg.RewardValueDecimals)
	require.Equal(t, "/var/log/ypool/ledger.log", cfg.LogFileConfig().Path)
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"YPOOL_PERSIST_BATCH_SIZE":    "0",
		"YPOOL_PROJECTION_CHAN_SIZE":  "-1",
		"YPOOL_REWARD_VALUE_DECIMALS": "78",
		"YPOOL_PERSIST_FLUSH_TIMEOUT": "soon",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}
