package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"odataview/server"
)

const (
	configFileName = "odataview"
	configFileType = "yaml"
	envPrefix      = "ODATAVIEW"
)

// Config keys. Flag names match the keys so BindPFlags can override them.
const (
	cfgKeyAddr        = "addr"
	cfgKeyDB          = "db"
	cfgKeyVersion     = "odata-version"
	cfgKeyMaxPageSize = "max-page-size"
	cfgKeyBasePath    = "base-path"
	cfgKeyEntitySets  = "entity_sets"

	cfgKeyURL        = "url"
	cfgKeyTable      = "table"
	cfgKeyPageSize   = "page-size"
	cfgKeyPage       = "page"
	cfgKeyFilter     = "filter"
	cfgKeyFilterJSON = "filter-json"
	cfgKeySearch     = "search"
	cfgKeyOrderBy    = "orderby"
	cfgKeySelect     = "select"
	cfgKeyKeys       = "keys"
	cfgKeyRetries    = "retries"
	cfgKeyStart      = "start"
	cfgKeyEnd        = "end"
)

// entitySetConfig is one entry of entity_sets in odataview.yaml.
type entitySetConfig struct {
	server.EntitySetDef `mapstructure:",squash"`
	// Seed is a JSON array file loaded into an empty entity set.
	Seed string `mapstructure:"seed"`
}

// loadConfig reads odataview.yaml from the working directory (or the file
// given by --config) and ODATAVIEW_* environment variables. A missing
// config file is not an error.
func loadConfig(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyAddr, ":8080")
	v.SetDefault(cfgKeyDB, ":memory:")
	v.SetDefault(cfgKeyMaxPageSize, 0)
	v.SetDefault(cfgKeyBasePath, "/odata")
	v.SetDefault(cfgKeyRetries, 1)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

func entitySets(v *viper.Viper) ([]entitySetConfig, error) {
	var sets []entitySetConfig
	if err := v.UnmarshalKey(cfgKeyEntitySets, &sets); err != nil {
		return nil, fmt.Errorf("entity_sets: %w", err)
	}
	return sets, nil
}
