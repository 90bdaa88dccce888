package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stepper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
device:
  vendorId: 0x1209
  productId: 25714
  serial: SN0001
  readTimeout: 250ms
motion:
  maxSpeed: 4000
  endSwitch: nc
api:
  auth:
    enabled: true
    apiKeys: ["k1", "k2"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint16(0x1209), cfg.Device.VendorID)
	assert.Equal(t, uint16(25714), cfg.Device.ProductID)
	assert.Equal(t, "SN0001", cfg.Device.Serial)
	assert.Equal(t, 250*time.Millisecond, cfg.Device.ReadTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Device.WriteTimeout)
	assert.Equal(t, 3, cfg.Device.ReadAttempts)
	assert.Equal(t, 3, cfg.Device.TrajectoryAttempts)
	assert.Equal(t, uint32(4000), cfg.Motion.MaxSpeed)
	assert.Equal(t, uint32(1000), cfg.Motion.MaxAccel)
	assert.Equal(t, "nc", cfg.Motion.EndSwitch)
	assert.Equal(t, []string{"k1", "k2"}, cfg.API.Auth.APIKeys)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Empty(t, cfg.Logging.File.Filename)

	require.NoError(t, Validate(cfg))
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "device:\n  vendorId: 1\n  productId: 2\n")
	t.Setenv("STEPPER_DEVICE_SERIAL", "FROM_ENV")
	t.Setenv("STEPPER_WORKER_QUEUESIZE", "8")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "FROM_ENV", cfg.Device.Serial)
	assert.Equal(t, 8, cfg.Worker.QueueSize)
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, "app:\n  name: bench\n")
	t.Setenv("STEPPER_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "bench", cfg.App.Name)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Device:  DeviceConfig{VendorID: 1, ProductID: 2, ReadAttempts: 3, TrajectoryAttempts: 3, WriteTimeout: time.Second, ReadTimeout: time.Second},
			Motion:  MotionConfig{EndSwitch: "none"},
			Worker:  WorkerConfig{QueueSize: 1},
			Monitor: MonitorConfig{Enable: true, Interval: time.Second},
		}
	}
	require.NoError(t, Validate(valid()))

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing vid", func(c *Config) { c.Device.VendorID = 0 }},
		{"missing pid", func(c *Config) { c.Device.ProductID = 0 }},
		{"zero read attempts", func(c *Config) { c.Device.ReadAttempts = 0 }},
		{"zero trajectory attempts", func(c *Config) { c.Device.TrajectoryAttempts = 0 }},
		{"zero timeout", func(c *Config) { c.Device.ReadTimeout = 0 }},
		{"bad end switch", func(c *Config) { c.Motion.EndSwitch = "both" }},
		{"empty queue", func(c *Config) { c.Worker.QueueSize = 0 }},
		{"monitor interval", func(c *Config) { c.Monitor.Interval = 0 }},
		{"auth without keys", func(c *Config) { c.API.Auth.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, Validate(c))
		})
	}

	c := valid()
	c.Device.VendorID, c.Device.ProductID = 0, 0
	c.Device.Simulate = true
	assert.NoError(t, Validate(c), "模拟模式不要求 VID/PID")
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load("../../configs/stepper.yaml")
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	assert.Equal(t, DefaultVendorID, cfg.Device.VendorID)
	assert.Equal(t, DefaultProductID, cfg.Device.ProductID)
	assert.Equal(t, 10*time.Second, cfg.Monitor.InfoInterval)
	assert.Equal(t, 40, cfg.API.RateLimit.Burst)
}

func TestLoad_ControllerDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: bench\n"))
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1DC3), cfg.Device.VendorID)
	assert.Equal(t, uint16(0x0641), cfg.Device.ProductID)
	assert.Equal(t, MotionConfig{MaxSpeed: 1000, MaxAccel: 1000, MaxDecel: 1000, EndSwitch: "none"}, cfg.Motion)
	require.NoError(t, Validate(cfg))
}
