package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// Config wraps viper and provides typed accessors.
type Config struct {
	v *viper.Viper
}

// Load reads an INI config file and prepares defaults. Environment
// variables prefixed with TUNEFREE override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TUNEFREE")
	v.AutomaticEnv()

	setDefaults(v)

	if strings.EqualFold(filepath.Ext(path), ".ini") {
		if err := loadINI(v, path); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return &Config{v: v}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APIURL", "https://music-dl.sayqz.com")
	v.SetDefault("DefaultSource", "netease")
	v.SetDefault("Bitrate", "320k")
	v.SetDefault("SearchLimit", 10)
	v.SetDefault("QueueSearchLimit", 20)
	v.SetDefault("RequestTimeoutSec", 15)
	v.SetDefault("RequestConnectTimeoutSec", 10)
	v.SetDefault("RequestRetries", 2)
	v.SetDefault("ResolveAttempts", 3)
	v.SetDefault("ResolveRetryDelayMs", 500)
	v.SetDefault("APIRatePerSecond", 5.0)
	v.SetDefault("APIRateBurst", 10)
	v.SetDefault("HealthCheckIntervalSec", 300)
	v.SetDefault("HassURL", "http://homeassistant.local:8123")
	v.SetDefault("HassToken", "")
	v.SetDefault("TargetPlayer", "")
	v.SetDefault("StopBeforePlay", false)
	v.SetDefault("StopDelayMs", 300)
	v.SetDefault("PositionPolling", false)
	v.SetDefault("PositionPollIntervalSec", 1)
	v.SetDefault("TrackEndGuardSec", 2)
	v.SetDefault("ListenAddr", ":8090")
	v.SetDefault("Database", "bridge.db")
	v.SetDefault("DBMaxOpenConns", 1)
	v.SetDefault("DBMaxIdleConns", 1)
	v.SetDefault("DBConnMaxLifetimeSec", 3600)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "text")
	v.SetDefault("LogSource", false)
	v.SetDefault("LogDir", "log")
	v.SetDefault("GormLogLevel", "warn")
}

// GetString returns a string value.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns an int value.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 returns a float64 value.
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool returns a bool value.
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

func loadINI(v *viper.Viper, path string) error {
	cfg, err := ini.Load(path)
	if err != nil {
		return err
	}

	for _, key := range cfg.Section("").Keys() {
		v.Set(key.Name(), key.Value())
	}

	return nil
}
