package config

/**  服务配置，yaml文件 + SOCKSTREAM_ 前缀的环境变量
  *  环境变量的优先级高于文件，如 SOCKSTREAM_LISTEN_PORT=9000
**/

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/YiuTerran/go-sockstream/base/log"
	"github.com/YiuTerran/go-sockstream/network/ip"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const EnvPrefix = "SOCKSTREAM"

type Listen struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
	Backlog int    `mapstructure:"backlog"`
}

type Dispatch struct {
	Workers int `mapstructure:"workers"`
	Queue   int `mapstructure:"queue"`
}

type Timeout struct {
	Read  time.Duration `mapstructure:"read"`
	Write time.Duration `mapstructure:"write"`
}

type Log struct {
	Name  string `mapstructure:"name"`
	Path  string `mapstructure:"path"`
	Level string `mapstructure:"level"`
	// Out 如 "console|file"，见log.OutTypeAlias
	Out       string `mapstructure:"out"`
	Rotate    bool   `mapstructure:"rotate"`
	MaxAge    int    `mapstructure:"max-age"`
	MaxSize   int    `mapstructure:"max-size"`
	MaxBackup int    `mapstructure:"max-backup"`
}

type Metrics struct {
	// Address 为空时不暴露指标
	Address string `mapstructure:"address"`
}

type Config struct {
	Listen   Listen   `mapstructure:"listen"`
	Dispatch Dispatch `mapstructure:"dispatch"`
	Timeout  Timeout  `mapstructure:"timeout"`
	Log      Log      `mapstructure:"log"`
	Metrics  Metrics  `mapstructure:"metrics"`
}

var defaults = map[string]any{
	"listen.address":   "::",
	"listen.port":      8080,
	"listen.backlog":   16,
	"dispatch.workers": 64,
	"dispatch.queue":   256,
	"timeout.read":     30 * time.Second,
	"timeout.write":    30 * time.Second,
	"log.name":         "",
	"log.path":         "./log",
	"log.level":        string(log.LevelDebug),
	"log.out":          "console",
	"log.rotate":       false,
	"log.max-age":      0,
	"log.max-size":     100,
	"log.max-backup":   0,
	"metrics.address":  ":9100",
}

func setDefaults(vp *viper.Viper) {
	for k, v := range defaults {
		vp.SetDefault(k, v)
	}
}

func newViper() *viper.Viper {
	vp := viper.New()
	setDefaults(vp)
	vp.SetEnvPrefix(EnvPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	vp.AutomaticEnv()
	return vp
}

func decode(vp *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := vp.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("fail to decode config: %w", err)
	}
	// path需要环境变量展开适配k8s环境
	cfg.Log.Path = os.ExpandEnv(cfg.Log.Path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 只有默认值，不读环境变量
func Default() *Config {
	cfg := &Config{}
	vp := viper.New()
	setDefaults(vp)
	if err := vp.Unmarshal(cfg); err != nil {
		panic(err)
	}
	return cfg
}

// Load path为空时只用默认值和环境变量
func Load(path string) (*Config, error) {
	vp := newViper()
	if path != "" {
		vp.SetConfigFile(path)
		if err := vp.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("fail to read config file %s: %w", path, err)
		}
	}
	return decode(vp)
}

func (c *Config) Validate() error {
	var err error
	if _, e := ip.ParseAddress(c.Listen.Address); e != nil {
		err = multierr.Append(err, fmt.Errorf("listen.address: %w", e))
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("listen.port: %d out of range", c.Listen.Port))
	}
	if c.Listen.Backlog <= 0 {
		err = multierr.Append(err, fmt.Errorf("listen.backlog: must be positive, got %d", c.Listen.Backlog))
	}
	if c.Dispatch.Workers <= 0 {
		err = multierr.Append(err, fmt.Errorf("dispatch.workers: must be positive, got %d", c.Dispatch.Workers))
	}
	if c.Dispatch.Queue <= 0 {
		err = multierr.Append(err, fmt.Errorf("dispatch.queue: must be positive, got %d", c.Dispatch.Queue))
	}
	if c.Timeout.Read < 0 || c.Timeout.Write < 0 {
		err = multierr.Append(err, fmt.Errorf("timeout: must not be negative"))
	}
	return err
}

// ListenAddress Validate通过后不会出错
func (c *Config) ListenAddress() ip.Address {
	addr, err := ip.ParseAddress(c.Listen.Address)
	if err != nil {
		return ip.Unspecified
	}
	return addr
}

// BuildLogger 按log段初始化全局日志
func (c *Config) BuildLogger() {
	log.Builder.
		Name(c.Log.Name).
		Path(c.Log.Path).
		Level(log.ParseLevel(c.Log.Level)).
		EnableRotate(c.Log.Rotate).
		OutType(log.OutTypeAlias(c.Log.Out)).
		MaxAge(c.Log.MaxAge).
		MaxSize(c.Log.MaxSize).
		MaxBackUps(c.Log.MaxBackup).
		Build()
}
