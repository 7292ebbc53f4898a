// Package config loads the CLI configuration: defaults, an optional
// config file, and VOLFS_* environment variables, in ascending
// precedence. CLI flags override on top via cobra bindings.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"log_format"`
	Image     string `mapstructure:"image"`
}

// Instance is the live configuration.
var Instance = defaults()

func defaults() Config {
	return Config{
		Debug:     false,
		LogFormat: "human",
	}
}

// Initialize reads cfgFile (or the standard locations when empty) and
// the environment into Instance.
func Initialize(cfgFile string) error {
	v := viper.New()
	v.SetDefault("debug", false)
	v.SetDefault("log_format", "human")
	v.SetDefault("image", "")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("volfs")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/volfs")
	}
	v.SetEnvPrefix("VOLFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return err
		}
	}
	return v.Unmarshal(&Instance)
}
