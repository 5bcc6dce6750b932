package bootstrap

import (
	"os"
	"path/filepath"

	"go.uber.org/zap/zapcore"
)

// Environment variables read by LoadConfig.
const (
	EnvPath     = "BRZ_PATH"
	EnvCacheDir = "BRZ_CACHE_DIR"
	EnvLog      = "BRZ_LOG"
)

// CacheOff disables the compilation cache when set as BRZ_CACHE_DIR.
const CacheOff = "off"

// Config names the hosted application and where to find it.
type Config struct {
	// Program prefixes every diagnostic.
	Program string
	// Package is the hosted top-level module checked by the version guard.
	Package string
	// Entry is the module holding the entry point.
	Entry string
	// EntryFunc is the exported entry point.
	EntryFunc string
	// ProfileFlag enables import profiling when present in argv.
	ProfileFlag string
	// ProfileModule is imported to install the profiler.
	ProfileModule string
	// VersionInfo is the exported global holding the version record.
	VersionInfo string
	// VersionFormatter formats the version record as a string.
	VersionFormatter string
	// SearchPath lists directories searched for hosted modules.
	SearchPath []string
	// CacheDir holds compiled modules. Empty disables caching.
	CacheDir string
	// LogLevel is the zap level for debug logging. Nil disables logging.
	LogLevel *zapcore.Level
}

// DefaultConfig returns the configuration of the brz launcher.
func DefaultConfig() Config {
	return Config{
		Program:          "brz",
		Package:          "breezy",
		Entry:            "breezy.__main__",
		EntryFunc:        "main",
		ProfileFlag:      "--profile-imports",
		ProfileModule:    "profile_imports",
		VersionInfo:      "version_info",
		VersionFormatter: "_format_version_tuple",
	}
}

// LoadConfig overlays the environment on DefaultConfig. executable is the
// path of the running binary; the default search path is relative to it.
func LoadConfig(lookupEnv func(string) (string, bool), executable string) (Config, error) {
	cfg := DefaultConfig()
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}

	if v, ok := lookupEnv(EnvPath); ok && v != "" {
		for _, dir := range filepath.SplitList(v) {
			if dir != "" {
				cfg.SearchPath = append(cfg.SearchPath, dir)
			}
		}
	}
	if executable != "" {
		dir := filepath.Dir(executable)
		cfg.SearchPath = append(cfg.SearchPath,
			filepath.Join(dir, "..", "lib", cfg.Program),
			filepath.Join(dir, "lib"))
	}

	switch v, _ := lookupEnv(EnvCacheDir); v {
	case CacheOff:
	case "":
		if base, err := os.UserCacheDir(); err == nil {
			cfg.CacheDir = filepath.Join(base, cfg.Program, "wasm")
		}
	default:
		cfg.CacheDir = v
	}

	if v, ok := lookupEnv(EnvLog); ok && v != "" {
		lvl, err := zapcore.ParseLevel(v)
		if err != nil {
			return cfg, err
		}
		cfg.LogLevel = &lvl
	}

	return cfg, nil
}
