// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

// Package config loads toyvm's runtime tunables via viper, the way
// arx-os-arxos layers a viper-backed settings struct under its cobra
// command: environment variables, an optional config file, then built-in
// defaults, in that precedence order.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/toylang/toyvm"
)

// Settings is the on-disk/env-var shape of toyvm's tunables (§4.1/§4.5's
// reference constants, made operator-adjustable).
type Settings struct {
	Arena struct {
		UserHeapBytes   int64 `mapstructure:"user_heap_bytes"`
		SystemHeapBytes int64 `mapstructure:"system_heap_bytes"`
		SpdsRegionBytes int64 `mapstructure:"spds_region_bytes"`
	} `mapstructure:"arena"`

	InitialArrayCapacity   uint32 `mapstructure:"initial_array_capacity"`
	ArrayGrowthCutoffDense uint32 `mapstructure:"array_growth_cutoff_dense"`
	ArrayGrowthCutoffHard  uint32 `mapstructure:"array_growth_cutoff_hard"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads toyvm settings from configFile (if non-empty), TOYVM_-prefixed
// environment variables, and a ./toyvm.yaml / $HOME/.toyvm/toyvm.yaml
// fallback, layering over built-in defaults.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TOYVM")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".toyvm"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("toyvm")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &s, nil
}

func setDefaults(v *viper.Viper) {
	def := toyvm.DefaultConfig()
	v.SetDefault("arena.user_heap_bytes", def.Arena.UserHeapBytes)
	v.SetDefault("arena.system_heap_bytes", def.Arena.SystemHeapBytes)
	v.SetDefault("arena.spds_region_bytes", def.Arena.SpdsRegionBytes)
	v.SetDefault("initial_array_capacity", def.InitialArrayCapacity)
	v.SetDefault("array_growth_cutoff_dense", def.ArrayGrowthCutoffDense)
	v.SetDefault("array_growth_cutoff_hard", def.ArrayGrowthCutoffHard)
	v.SetDefault("log_level", def.LogLevel)
}

// ToVmConfig converts loaded settings into the Config toyvm.New expects.
func (s *Settings) ToVmConfig() toyvm.Config {
	cfg := toyvm.DefaultConfig()
	cfg.Arena.UserHeapBytes = s.Arena.UserHeapBytes
	cfg.Arena.SystemHeapBytes = s.Arena.SystemHeapBytes
	cfg.Arena.SpdsRegionBytes = s.Arena.SpdsRegionBytes
	cfg.InitialArrayCapacity = s.InitialArrayCapacity
	cfg.ArrayGrowthCutoffDense = s.ArrayGrowthCutoffDense
	cfg.ArrayGrowthCutoffHard = s.ArrayGrowthCutoffHard
	cfg.LogLevel = s.LogLevel
	return cfg
}
