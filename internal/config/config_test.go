package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Gateway:  GatewayConfig{URL: "http://gateway:18789"},
		Database: DatabaseConfig{EncryptionKey: "0123456789abcdef"},
		Budget:   BudgetConfig{MonthlyUSD: "3000"},
		Alerts:   AlertsConfig{SweepSchedule: "0 * * * *"},
		Realtime: RealtimeConfig{
			CostInterval:     5 * time.Second,
			ResourceInterval: 10 * time.Second,
			AlertInterval:    30 * time.Second,
		},
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	os.Unsetenv("GATEWAY_URL")
	os.Unsetenv("MONTHLY_BUDGET")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "./data/agentwatch.db", cfg.Database.Path)
	assert.Equal(t, "http://localhost:18789", cfg.Gateway.URL)
	assert.Equal(t, 30*time.Second, cfg.Gateway.PollInterval)
	assert.Equal(t, time.Minute, cfg.Alerts.DedupWindow)
	assert.Equal(t, 5*time.Second, cfg.Realtime.CostInterval)
	assert.Equal(t, 10*time.Second, cfg.Realtime.ResourceInterval)
	assert.Equal(t, 30*time.Second, cfg.Realtime.AlertInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	budget, err := cfg.Budget.Monthly()
	require.NoError(t, err)
	assert.True(t, budget.IsZero())
}

func TestLoadFromEnv_WithEnvVars(t *testing.T) {
	t.Setenv("GATEWAY_URL", "http://gw.internal:9000")
	t.Setenv("GATEWAY_TOKEN", "secret-token")
	t.Setenv("MONTHLY_BUDGET", "3000")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "http://gw.internal:9000", cfg.Gateway.URL)
	assert.Equal(t, "secret-token", cfg.Gateway.Token)
	assert.Equal(t, "3000", cfg.Budget.MonthlyUSD)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_FromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentwatch.yaml")
	content := `
budget:
  monthly_usd: 1200
realtime:
  cost_interval: 2s
alerts:
  dedup_window: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "1200", cfg.Budget.MonthlyUSD)
	assert.Equal(t, 2*time.Second, cfg.Realtime.CostInterval)
	assert.Equal(t, 90*time.Second, cfg.Alerts.DedupWindow)
	// untouched keys keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Realtime.ResourceInterval)
}

func TestConfig_Validate_Success(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_MissingGateway(t *testing.T) {
	cfg := validConfig()
	cfg.Gateway.URL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GATEWAY_URL")
}

func TestConfig_Validate_ShortEncryptionKey(t *testing.T) {
	cfg := validConfig()
	cfg.Database.EncryptionKey = "short"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DASHBOARD_ENCRYPTION_KEY")
}

func TestConfig_Validate_NegativeBudget(t *testing.T) {
	cfg := validConfig()
	cfg.Budget.MonthlyUSD = "-1"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative")
}

func TestConfig_Validate_UnparsableBudget(t *testing.T) {
	cfg := validConfig()
	cfg.Budget.MonthlyUSD = "lots"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid monthly budget")
}

func TestBudgetConfig_MonthlyIsExact(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", "0"},
		{"0", "0"},
		{" 1200 ", "1200"},
		{"0.10", "0.1"},
		{"1234567.89", "1234567.89"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := BudgetConfig{MonthlyUSD: tt.raw}.Monthly()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestConfig_Validate_BadCron(t *testing.T) {
	cfg := validConfig()
	cfg.Alerts.SweepSchedule = "every hour"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweep_schedule")
}

func TestConfig_Validate_ExportRequiresCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Export = ExportConfig{Enabled: true, Schedule: "15 0 * * *"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXPORT_HOST")

	cfg.Export.Host = "sftp.example.com"
	cfg.Export.User = "reports"
	cfg.Export.PrivateKeyPath = "/keys/id_ed25519"
	assert.NoError(t, cfg.Validate())
}

func TestWatch_RequiresPath(t *testing.T) {
	err := Watch("", nil, func(*Config) {})
	assert.Error(t, err)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentwatch.yaml")
	write := func(budget string) {
		content := "gateway:\n  url: http://gw\ndatabase:\n  encryption_key: 0123456789abcdef\nbudget:\n  monthly_usd: " + budget + "\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	write("100")

	reloaded := make(chan string, 4)
	require.NoError(t, Watch(path, nil, func(cfg *Config) {
		reloaded <- cfg.Budget.MonthlyUSD
	}))

	write("250")

	select {
	case got := <-reloaded:
		assert.Equal(t, "250", got)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}
