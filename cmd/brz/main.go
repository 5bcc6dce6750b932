// Command brz bootstraps the breezy application on an embedded WebAssembly
// runtime. Every argument is forwarded to breezy; --profile-imports also
// prints import timings on exit.
//
// Environment:
//
//	BRZ_PATH       extra directories searched for breezy modules
//	BRZ_CACHE_DIR  compilation cache directory, "off" to disable
//	BRZ_LOG        debug log level (debug, info, warn, error)
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-launcher/bootstrap"
	"github.com/wippyai/wasm-launcher/profile"
	"github.com/wippyai/wasm-launcher/runtime"
)

func main() {
	os.Exit(run())
}

func run() int {
	exe, err := os.Executable()
	if err != nil {
		exe = ""
	}

	cfg, err := bootstrap.LoadConfig(os.LookupEnv, exe)
	if err != nil {
		fmt.Fprintf(os.Stderr, "brz: ERROR: %s: %v\n", bootstrap.EnvLog, err)
		return bootstrap.ExitFatal
	}

	if cfg.LogLevel != nil {
		log, err := newLogger(*cfg.LogLevel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "brz: ERROR: logger: %v\n", err)
			return bootstrap.ExitFatal
		}
		defer func() { _ = log.Sync() }()
		runtime.SetLogger(log.Named("runtime"))
		profile.SetLogger(log.Named("profile"))
		bootstrap.SetLogger(log.Named("bootstrap"))
	}

	status, err := bootstrap.New(cfg).Run(context.Background(), os.Args)
	if err != nil {
		bootstrap.Logger().Debug("bootstrap failed", zap.Int("status", status), zap.Error(err))
	}
	return status
}

func newLogger(level zapcore.Level) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}
