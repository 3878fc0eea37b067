package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Platform   struct {
		Name     string `mapstructure:"NAME"`
		Timezone string `mapstructure:"TIMEZONE"`
	} `mapstructure:"PLATFORM"`
	TLS struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	// Amplify sessions are unverifiable self-reports; the caps and the
	// duplicate-detection window bound them and are policy, not logic.
	Amplify struct {
		PeersPer7d       int `mapstructure:"PEERS_PER_7D"`
		StudentsPer7d    int `mapstructure:"STUDENTS_PER_7D"`
		DupWindowMinutes int `mapstructure:"DUP_WINDOW_MINUTES"`
	} `mapstructure:"AMPLIFY"`
	Kajabi struct {
		LearnTags []string `mapstructure:"LEARN_TAGS"`
	} `mapstructure:"KAJABI"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "elevate-engine")
	v.SetDefault("PLATFORM.TIMEZONE", "Asia/Kuala_Lumpur")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("AMPLIFY.PEERS_PER_7D", 50)
	v.SetDefault("AMPLIFY.STUDENTS_PER_7D", 200)
	v.SetDefault("AMPLIFY.DUP_WINDOW_MINUTES", 60)
	v.SetDefault("KAJABI.LEARN_TAGS", []string{"LEARN_COMPLETED", "elevate-learn-completed"})
}

// Location resolves the organization timezone used for all rolling-window
// date math. Falls back to UTC only when the configured zone is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Platform.Timezone)
	if err != nil {
		zap.L().Warn("unknown platform timezone, falling back to UTC", zap.String("timezone", c.Platform.Timezone))
		return time.UTC
	}
	return loc
}
