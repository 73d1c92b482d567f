package config

// Package config provides a reusable loader for alkanesd configuration files
// and environment variables.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/kungfuflex/alkanes/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for an alkanesd node. It mirrors the
// structure of the YAML files under config/.
type Config struct {
	Chain struct {
		Flavor       string `mapstructure:"flavor" json:"flavor"` // "bitcoin" or "zcash-transparent"
		RPCURL       string `mapstructure:"rpc_url" json:"rpc_url"`
		StartHeight  uint64 `mapstructure:"start_height" json:"start_height"`
		ReorgDepth   int    `mapstructure:"reorg_depth" json:"reorg_depth"`
	} `mapstructure:"chain" json:"chain"`

	VM struct {
		FuelPerBlock uint64 `mapstructure:"fuel_per_block" json:"fuel_per_block"`
		MaxCallDepth int    `mapstructure:"max_call_depth" json:"max_call_depth"`
	} `mapstructure:"vm" json:"vm"`

	Storage struct {
		DataDir          string `mapstructure:"data_dir" json:"data_dir"`
		SnapshotInterval int    `mapstructure:"snapshot_interval" json:"snapshot_interval"`
	} `mapstructure:"storage" json:"storage"`

	View struct {
		ListenAddr   string  `mapstructure:"listen_addr" json:"listen_addr"`
		RateLimitRPS float64 `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`
		RateBurst    int     `mapstructure:"rate_burst" json:"rate_burst"`
	} `mapstructure:"view" json:"view"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ALKANES_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("ALKANES_ENV", ""))
}
