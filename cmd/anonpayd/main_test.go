package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"anonpay/internal/errs"
	"anonpay/internal/params"
)

// testConfig returns a small, reproducible configuration rooted in a temp dir.
func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.NumParticipants = 2
	cfg.NotesPerWallet = 8
	cfg.Seed = "anonpayd-" + t.Name()
	cfg.LedgerPath = filepath.Join(dir, "ledger")
	cfg.WalletDir = filepath.Join(dir, "wallets")
	cfg.ExportDir = filepath.Join(dir, "export")
	cfg.LogFile = ""
	cfg.AuditLogPath = filepath.Join(dir, "audit.log")
	return cfg
}

func writeConfig(t *testing.T, cfg *Config) string {
	t.Helper()
	path := filepath.Join(filepath.Dir(cfg.LedgerPath), "anonpayd.json")
	require.NoError(t, SaveConfig(cfg, path))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunSimulation(t *testing.T) {
	cfg := testConfig(t)
	log, err := newLogger(io.Discard, "debug", "", cfg.AuditLogPath)
	require.NoError(t, err)
	defer log.Close()
	mc := NewMetricsCollector()

	res, err := runSimulation(context.Background(), cfg, log, mc)
	require.NoError(t, err)
	require.Len(t, res.Transactions, 2)
	require.True(t, res.DoubleSpendRejected)

	// One issuance epoch plus one per payment, each adding two outputs.
	require.Equal(t, uint64(3), res.Epoch)
	require.Equal(t, uint64(20), res.Size)

	// Each participant spent 200, got 99 change and received 100.
	require.Equal(t, map[string]uint64{"participant1": 799, "participant2": 799}, res.Balances)

	summary := mc.GetMetricsSummary()
	require.Equal(t, int64(2), summary.Counters[MetricJoinSplitCount])
	require.Equal(t, 1.0, summary.Gauges[MetricDoubleSpendCount])
	require.Equal(t, 2, summary.Histograms[makeKey(MetricProofGenerationTime, map[string]string{"level": "standard"})].Count)

	for _, id := range res.Transactions {
		_, err := os.Stat(filepath.Join(cfg.ExportDir, id.String()+".apay"))
		require.NoError(t, err)
	}
	audit, err := os.ReadFile(cfg.AuditLogPath)
	require.NoError(t, err)
	require.Contains(t, string(audit), `"event":"double_spend"`)

	// Wallets persist and are picked up by the next run.
	ws, err := openWallets(cfg)
	require.NoError(t, err)
	require.Equal(t, uint64(799), ws[0].Balance())
}

func TestSimulateThenVerifyCommands(t *testing.T) {
	cfg := testConfig(t)
	path := writeConfig(t, cfg)
	require.Equal(t, Degraded, health(t, path), "no ledger yet")

	out, err := execute(t, "--config", path, "--log-level", "error", "simulate")
	require.NoError(t, err)
	require.Equal(t, Healthy, health(t, path))
	require.Contains(t, out, "Transactions: 2")
	require.Contains(t, out, "Double spend rejected: true")

	exported, err := filepath.Glob(filepath.Join(cfg.ExportDir, "*.apay"))
	require.NoError(t, err)
	require.Len(t, exported, 2)

	// Recorded transactions verify as double spends.
	out, err = execute(t, "--config", path, "verify", exported[0])
	require.ErrorIs(t, err, errs.ErrDoubleSpend)
	require.True(t, strings.HasPrefix(out, "INVALID"), out)

	// Corrupted files do not decode.
	b, err := os.ReadFile(exported[0])
	require.NoError(t, err)
	bad := filepath.Join(t.TempDir(), "bad.apay")
	require.NoError(t, os.WriteFile(bad, b[:len(b)-1], 0o600))
	_, err = execute(t, "--config", path, "verify", bad)
	require.ErrorIs(t, err, errs.ErrFormat)
}

func health(t *testing.T, path string) HealthStatus {
	t.Helper()
	out, err := execute(t, "--config", path, "health")
	require.NoError(t, err)
	var sh SystemHealth
	require.NoError(t, json.Unmarshal([]byte(out), &sh))
	require.Len(t, sh.Components, 4)
	return sh.OverallStatus
}

func TestParamsCommand(t *testing.T) {
	path := writeConfig(t, testConfig(t))

	out, err := execute(t, "--config", path, "params")
	require.NoError(t, err)

	var got struct {
		Version  int           `json:"version"`
		Protocol params.Params `json:"protocol"`
		Levels   []struct {
			Level  params.PrivacyLevel `json:"level"`
			Decoys int                 `json:"decoys"`
		} `json:"levels"`
		G string `json:"g"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, params.Version, got.Version)
	require.Equal(t, params.Default(), got.Protocol)
	require.Len(t, got.Levels, 3)
	require.Equal(t, params.Maximum, got.Levels[2].Level)
	require.Equal(t, 64, got.Levels[2].Decoys)
	require.Len(t, got.G, 2*48)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anonpayd.json")

	_, err := execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)

	_, err = execute(t, "--config", path, "config", "init")
	require.Error(t, err, "existing file is kept without --force")
	_, err = execute(t, "--config", path, "config", "init", "--force")
	require.NoError(t, err)
}

func TestInvalidConfigIsRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumParticipants = 1
	path := writeConfig(t, cfg)

	_, err := execute(t, "--config", path, "params")
	require.Error(t, err)
}
