package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// DeviceConfig 目标控制器与 USB 传输参数
type DeviceConfig struct {
	VendorID           uint16        `mapstructure:"vendorId"`
	ProductID          uint16        `mapstructure:"productId"`
	Serial             string        `mapstructure:"serial"`
	Interface          uint8         `mapstructure:"interface"`
	WriteTimeout       time.Duration `mapstructure:"writeTimeout"`
	ReadTimeout        time.Duration `mapstructure:"readTimeout"`
	ReadAttempts       int           `mapstructure:"readAttempts"`
	TrajectoryAttempts int           `mapstructure:"trajectoryAttempts"`
	SysfsRoot          string        `mapstructure:"sysfsRoot"`
	DevfsRoot          string        `mapstructure:"devfsRoot"`
	// Simulate 使用内置模拟控制器代替真实设备
	Simulate bool `mapstructure:"simulate"`
}

// MotionConfig MoveToPosition 的默认运动参数
type MotionConfig struct {
	MaxSpeed  uint32 `mapstructure:"maxSpeed"`
	MaxAccel  uint32 `mapstructure:"maxAccel"`
	MaxDecel  uint32 `mapstructure:"maxDecel"`
	EndSwitch string `mapstructure:"endSwitch"` // none|no|nc
}

// WorkerConfig 命令队列与熔断
type WorkerConfig struct {
	QueueSize        int           `mapstructure:"queueSize"`
	BreakerThreshold int           `mapstructure:"breakerThreshold"`
	BreakerTimeout   time.Duration `mapstructure:"breakerTimeout"`
}

// MonitorConfig 推流监视
type MonitorConfig struct {
	Enable   bool          `mapstructure:"enable"`
	Interval time.Duration `mapstructure:"interval"`
	Burst    int           `mapstructure:"burst"`

	// InfoInterval 周期读取 DeviceInfo（电压/温度），0 表示只在启动时读取一次
	InfoInterval time.Duration `mapstructure:"infoInterval"`
	// MaxSampleAge 推流样本超过该时长视为陈旧（健康检查降级）
	MaxSampleAge time.Duration `mapstructure:"maxSampleAge"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// AuthConfig API Key 认证
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	APIKeys []string `mapstructure:"apiKeys"`
}

// RateLimitConfig 控制 API 限流（令牌桶）
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// APIConfig 控制 API
type APIConfig struct {
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
}

// LumberjackConfig 日志滚动（lumberjack）配置；Filename 为空时只输出到 stdout
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Config 顶层配置结构
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Device  DeviceConfig  `mapstructure:"device"`
	Motion  MotionConfig  `mapstructure:"motion"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	API     APIConfig     `mapstructure:"api"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// Load 从 YAML/TOML/JSON 文件与环境变量加载配置。
// 若 path 为空，则尝试从环境变量 STEPPER_CONFIG 读取；否则回退到 configs/stepper.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	// 环境变量覆盖：前缀 STEPPER_，并将点号替换为下划线
	v.SetEnvPrefix("STEPPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("stepper")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 允许缺少配置文件，依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// 控制器出厂 USB 标识
const (
	DefaultVendorID  uint16 = 0x1DC3
	DefaultProductID uint16 = 0x0641
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "stepperd")
	v.SetDefault("app.env", "dev")

	v.SetDefault("device.vendorId", DefaultVendorID)
	v.SetDefault("device.productId", DefaultProductID)
	v.SetDefault("device.serial", "")
	v.SetDefault("device.interface", 0)
	v.SetDefault("device.writeTimeout", "500ms")
	v.SetDefault("device.readTimeout", "500ms")
	v.SetDefault("device.readAttempts", 3)
	v.SetDefault("device.trajectoryAttempts", 3)
	v.SetDefault("device.sysfsRoot", "/sys/bus/usb/devices")
	v.SetDefault("device.devfsRoot", "/dev/bus/usb")
	v.SetDefault("device.simulate", false)

	v.SetDefault("motion.maxSpeed", 1000)
	v.SetDefault("motion.maxAccel", 1000)
	v.SetDefault("motion.maxDecel", 1000)
	v.SetDefault("motion.endSwitch", "none")

	v.SetDefault("worker.queueSize", 64)
	v.SetDefault("worker.breakerThreshold", 5)
	v.SetDefault("worker.breakerTimeout", "10s")

	v.SetDefault("monitor.enable", true)
	v.SetDefault("monitor.interval", "100ms")
	v.SetDefault("monitor.burst", 1)
	v.SetDefault("monitor.infoInterval", "10s")
	v.SetDefault("monitor.maxSampleAge", "5s")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("api.auth.enabled", false)
	v.SetDefault("api.auth.apiKeys", []string{})
	v.SetDefault("api.rateLimit.enabled", false)
	v.SetDefault("api.rateLimit.rps", 20)
	v.SetDefault("api.rateLimit.burst", 40)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate 检查必填项与取值范围
func Validate(cfg *Config) error {
	var errs []error
	d := cfg.Device
	if !d.Simulate {
		if d.VendorID == 0 {
			errs = append(errs, errors.New("device.vendorId is required"))
		}
		if d.ProductID == 0 {
			errs = append(errs, errors.New("device.productId is required"))
		}
	}
	if d.ReadAttempts < 1 {
		errs = append(errs, fmt.Errorf("device.readAttempts must be >= 1, got %d", d.ReadAttempts))
	}
	if d.TrajectoryAttempts < 1 {
		errs = append(errs, fmt.Errorf("device.trajectoryAttempts must be >= 1, got %d", d.TrajectoryAttempts))
	}
	if d.WriteTimeout <= 0 || d.ReadTimeout <= 0 {
		errs = append(errs, errors.New("device timeouts must be positive"))
	}
	switch strings.ToLower(cfg.Motion.EndSwitch) {
	case "", "none", "no", "nc":
	default:
		errs = append(errs, fmt.Errorf("motion.endSwitch must be none|no|nc, got %q", cfg.Motion.EndSwitch))
	}
	if cfg.Worker.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("worker.queueSize must be >= 1, got %d", cfg.Worker.QueueSize))
	}
	if cfg.Monitor.Enable && cfg.Monitor.Interval <= 0 {
		errs = append(errs, errors.New("monitor.interval must be positive"))
	}
	if cfg.API.Auth.Enabled && len(cfg.API.Auth.APIKeys) == 0 {
		errs = append(errs, errors.New("api.auth.apiKeys must not be empty when auth is enabled"))
	}
	if rl := cfg.API.RateLimit; rl.Enabled && (rl.RPS <= 0 || rl.Burst < 1) {
		errs = append(errs, errors.New("api.rateLimit requires rps > 0 and burst >= 1"))
	}
	return errors.Join(errs...)
}
