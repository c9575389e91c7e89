package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "eventbusd", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	commands := cmd.Commands()
	assert.Len(t, commands, 3, "should have 3 subcommands")

	names := make(map[string]bool)
	for _, c := range commands {
		names[c.Use] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["publish"])
	assert.True(t, names["status"])

	configFlag := cmd.PersistentFlags().Lookup("config")
	assert.NotNil(t, configFlag, "should have --config flag")
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()

	assert.NotNil(t, cmd)
	assert.Equal(t, "run", cmd.Use)
	assert.Contains(t, cmd.Short, "Start")
	assert.NotNil(t, cmd.RunE)
}

func TestBuildPublishCommand(t *testing.T) {
	cmd := buildPublishCommand()

	assert.NotNil(t, cmd)
	assert.Equal(t, "publish", cmd.Use)

	fileFlag := cmd.Flags().Lookup("file")
	assert.NotNil(t, fileFlag, "should have --file flag")
	assert.Equal(t, "f", fileFlag.Shorthand)
	assert.NotNil(t, cmd.RunE)
}

func TestBuildStatusCommand(t *testing.T) {
	cmd := buildStatusCommand()

	assert.NotNil(t, cmd)
	assert.Equal(t, "status", cmd.Use)
	assert.Contains(t, cmd.Short, "status")
	assert.NotNil(t, cmd.RunE)
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.yaml")

	configContent := `
bus:
  thread_pool_size: 8
  process_pool_max: 2
  process_idle_timeout: 30s
  health_interval: 5s
  health_grace_misses: 3
  default_timeout: 10s
  default_max_retries: 4
  worker_binary_path: ./bin/eventbus-corelet
  worker_binary_extra_args:
    - "--foo"

metrics:
  enabled: true
  port: 9100
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := loadConfig(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8, cfg.Bus.ThreadPoolSize)
	assert.Equal(t, 2, cfg.Bus.ProcessPoolMax)
	assert.Equal(t, 30*time.Second, cfg.Bus.ProcessIdleTimeout)
	assert.Equal(t, 5*time.Second, cfg.Bus.HealthInterval)
	assert.Equal(t, 3, cfg.Bus.HealthGraceMisses)
	assert.Equal(t, 10*time.Second, cfg.Bus.DefaultTimeout)
	assert.Equal(t, 4, cfg.Bus.DefaultMaxRetries)
	assert.Equal(t, "./bin/eventbus-corelet", cfg.Bus.WorkerBinaryPath)
	assert.Equal(t, []string{"--foo"}, cfg.Bus.WorkerBinaryExtraArgs)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9100, cfg.Metrics.Port)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := loadConfig("/nonexistent/config.yaml")

	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
bus:
  thread_pool_size: "not a number"
  invalid yaml structure
    broken indentation
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	cfg, err := loadConfig(configPath)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config YAML")
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "empty.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(""), 0644))

	cfg, err := loadConfig(configPath)
	assert.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, 0, cfg.Bus.ThreadPoolSize)
}

func TestLoadConfig_PartialConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.yaml")

	partial := `
bus:
  thread_pool_size: 3
`
	require.NoError(t, os.WriteFile(configPath, []byte(partial), 0644))

	cfg, err := loadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Bus.ThreadPoolSize)
	assert.Empty(t, cfg.Bus.WorkerBinaryPath)
}

func TestPublishEvents_InvalidFile(t *testing.T) {
	err := publishEvents("/nonexistent/events.json")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read event file")
}

func TestPublishEvents_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	eventFile := filepath.Join(tmpDir, "invalid.json")
	require.NoError(t, os.WriteFile(eventFile, []byte(`{"invalid json`), 0644))

	err := publishEvents(eventFile)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse event file")
}

func TestShowStatus_NoRunningBus(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "status_config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
bus:
  thread_pool_size: 4
  default_timeout: 5s
metrics:
  enabled: false
`), 0644))

	prevConfigFile, prevBus := configFile, globalBus
	configFile, globalBus = configPath, nil
	defer func() { configFile, globalBus = prevConfigFile, prevBus }()

	assert.NoError(t, showStatus())
}

func TestToBusConfig(t *testing.T) {
	cfg := &Config{}
	cfg.Bus.ThreadPoolSize = 6
	cfg.Bus.ProcessPoolMax = 2
	cfg.Bus.DefaultMaxRetries = 3
	cfg.Bus.WorkerBinaryPath = "./bin/worker"

	busCfg := toBusConfig(cfg)
	assert.Equal(t, 6, busCfg.ThreadPoolSize)
	assert.Equal(t, 2, busCfg.ProcessPoolMax)
	assert.Equal(t, 3, busCfg.DefaultMaxRetries)
	assert.Equal(t, "./bin/worker", busCfg.WorkerBinaryPath)
}

func TestConfigStructure(t *testing.T) {
	cfg := Config{}

	cfg.Bus.ThreadPoolSize = 10
	cfg.Bus.ProcessIdleTimeout = 5 * time.Second
	cfg.Bus.WorkerBinaryPath = "/test"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 9090

	assert.Equal(t, 10, cfg.Bus.ThreadPoolSize)
	assert.Equal(t, 5*time.Second, cfg.Bus.ProcessIdleTimeout)
	assert.Equal(t, "/test", cfg.Bus.WorkerBinaryPath)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}
