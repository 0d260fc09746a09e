// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/toylang/toyvm"
	"github.com/toylang/toyvm/internal/config"
	"github.com/toylang/toyvm/loader"
)

var (
	cfgFile  string
	logLevel string
)

func newLogger() (*zap.Logger, error) {
	switch logLevel {
	case "debug":
		return zap.NewDevelopment()
	case "", "info", "warn", "error":
		cfg := zap.NewProductionConfig()
		if logLevel != "" {
			if err := cfg.Level.UnmarshalText([]byte(logLevel)); err != nil {
				return nil, err
			}
		}
		return cfg.Build()
	default:
		return nil, fmt.Errorf("unknown log level %q", logLevel)
	}
}

// launchScript implements the `launch_script(module)` entry point (§6): it
// loads a JSON chunk, resolves its top-level function against a fresh VM's
// global object, and runs it to completion.
func launchScript(chunkPath string) error {
	settings, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("toyvm: %w", err)
	}

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("toyvm: %w", err)
	}
	defer logger.Sync()

	data, err := os.ReadFile(chunkPath)
	if err != nil {
		return fmt.Errorf("toyvm: reading %s: %w", chunkPath, err)
	}

	vm, err := toyvm.New(settings.ToVmConfig(), logger)
	if err != nil {
		return fmt.Errorf("toyvm: %w", err)
	}
	defer vm.Close()

	ucb, err := loader.Load(vm, data)
	if err != nil {
		return fmt.Errorf("toyvm: loading %s: %w", chunkPath, err)
	}

	entry, err := vm.LoadEntryPoint(ucb, vm.Globals)
	if err != nil {
		return fmt.Errorf("toyvm: %w", err)
	}

	ctx, err := toyvm.NewCoroutine(vm, vm.Globals, 256)
	if err != nil {
		return fmt.Errorf("toyvm: %w", err)
	}

	if _, err := vm.Call(ctx, entry, nil); err != nil {
		return fmt.Errorf("toyvm: running %s: %w", chunkPath, err)
	}
	return nil
}

func main() {
	var runCmd = &cobra.Command{
		Use:   "run [chunk.json]",
		Short: "Runs a compiled bytecode chunk",
		Long:  "Loads a JSON bytecode chunk (§6 format) and runs its top-level function to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return launchScript(args[0])
		},
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the toyvm version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("toyvm 0.1.0")
		},
	}

	var rootCmd = &cobra.Command{
		Use:   "toyvm",
		Short: "A NaN-boxed bytecode VM, built for embedding",
		Long:  "toyvm runs compiled bytecode chunks against a hidden-class, butterfly-backed object model.",
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a toyvm config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
