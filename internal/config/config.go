// Package config provides application configuration management with support for
// command-line flags, environment variables, .env files and an optional YAML file.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
)

// Config holds the application configuration.
type Config struct {
	App      AppConfig
	Logger   LoggerConfig
	Watch    WatchConfig
	Registry RegistryConfig
	Server   ServerConfig
	State    StateConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string `validate:"oneof=development staging production"`
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=auto pretty json"`
	File   string // Optional rotating log file
}

// WatchConfig holds download directory watcher configuration.
type WatchConfig struct {
	Dir             string        `validate:"required"`
	Backend         string        `validate:"oneof=auto inotify fsnotify"`
	PartialSuffixes []string      // Names ending in these are never tracked
	PollInterval    time.Duration `validate:"gt=0"`  // Time between size readings (default: 500ms)
	GraceDelay      time.Duration `validate:"gte=0"` // Extra wait after the size settled (default: 1s)
	Timeout         time.Duration `validate:"gt=0"`  // Stabilization ceiling (default: 30s)
	StableReadings  int           `validate:"min=1"` // Unchanged readings required (default: 3)
	Enabled         bool
}

// RegistryConfig holds the remote duplicate registry configuration.
type RegistryConfig struct {
	URL string `validate:"required,http_url"`
	// Token is the credential used for files found by the watcher. Optional:
	// without it those files fail locally and nothing is sent.
	Token         string
	CheckTimeout  time.Duration `validate:"gt=0"`
	UploadTimeout time.Duration `validate:"gt=0"`
	MinThroughput int64         `validate:"min=1"` // Bytes per second assumed when sizing upload timeouts
}

// ServerConfig holds the local control API configuration.
type ServerConfig struct {
	Addr         string        `validate:"required,hostname_port"`
	CORSOrigins  []string      // Allowed browser origins, wildcards permitted
	ReadTimeout  time.Duration `validate:"gte=0"` // HTTP read timeout (default: 15s)
	WriteTimeout time.Duration `validate:"gte=0"` // HTTP write timeout (default: 0, uploads are long)
	IdleTimeout  time.Duration `validate:"gte=0"` // HTTP idle timeout (default: 60s)
	ProcessRPS   float64       `validate:"gt=0"`  // Sustained /process requests per second per client
	ProcessBurst int           `validate:"min=1"`
	Enabled      bool
}

// StateConfig holds the agent's runtime state location.
type StateConfig struct {
	Dir string `validate:"required"`
}

// LockPath returns the path of the single-instance lock file.
func (s StateConfig) LockPath() string {
	return filepath.Join(s.Dir, "ddasd.lock")
}

// Load loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. YAML config file (--config or DDAS_CONFIG).
// 5. Default values (lowest priority).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("ddasd", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "Log format (auto, pretty, json)")
	logFile := fs.String("log-file", "", "Also write JSON logs to this rotating file")
	configFile := fs.String("config", "", "Path to YAML config file")
	envFile := fs.String("env-file", ".env", "Path to .env file")

	// Watch flags
	watchDir := fs.String("watch-dir", "", "Directory to watch for completed downloads (default: ~/Downloads)")
	watchEnabled := fs.String("watch-enabled", "", "Enable the download watcher (default: true)")
	watchBackend := fs.String("watch-backend", "", "Watcher backend: auto, inotify, fsnotify")
	partialSuffixes := fs.String("partial-suffixes", "", "Comma separated partial download suffixes")
	pollInterval := fs.String("poll-interval", "", "Interval between size readings (default: 500ms)")
	stableReadings := fs.String("stable-readings", "", "Unchanged size readings before a file is ready (default: 3)")
	graceDelay := fs.String("grace-delay", "", "Extra wait after the size settled (default: 1s)")
	stabilizeTimeout := fs.String("stabilize-timeout", "", "Abandon files that do not settle within this time (default: 30s)")

	// Registry flags
	registryURL := fs.String("registry-url", "", "Base URL of the duplicate registry")
	registryToken := fs.String("registry-token", "", "Credential for watcher uploads")
	checkTimeout := fs.String("check-timeout", "", "Duplicate check timeout (default: 10s)")
	uploadTimeout := fs.String("upload-timeout", "", "Base upload timeout (default: 120s)")
	minThroughput := fs.String("upload-min-throughput", "", "Assumed minimum upload rate, e.g. 1MiB (default: 1MiB)")

	// Server flags
	serverEnabled := fs.String("server-enabled", "", "Enable the local control API (default: true)")
	serverAddr := fs.String("addr", "", "Control API listen address (default: 127.0.0.1:5001)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 0)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	corsOrigins := fs.String("cors-origins", "", "Comma separated allowed origins")

	stateDir := fs.String("state-dir", "", "Directory for the instance lock (default: ~/.ddas)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	file, err := loadYAMLFile(getConfigValue(*configFile, "DDAS_CONFIG", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", file.or("env", "development")),
		},
		Logger: LoggerConfig{
			Level:  strings.ToLower(getConfigValue(*logLevel, "LOG_LEVEL", file.or("log.level", "info"))),
			Format: strings.ToLower(getConfigValue(*logFormat, "LOG_FORMAT", file.or("log.format", "auto"))),
			File:   getConfigValue(*logFile, "LOG_FILE", file.or("log.file", "")),
		},
		Watch: WatchConfig{
			Dir:     getConfigValue(*watchDir, "WATCH_DIR", file.or("watch.dir", "~/Downloads")),
			Enabled: getBoolConfigValue(*watchEnabled, "WATCH_ENABLED", file.boolOr("watch.enabled", true)),
			Backend: getConfigValue(*watchBackend, "WATCH_BACKEND", file.or("watch.backend", "auto")),
			PartialSuffixes: splitList(getConfigValue(*partialSuffixes, "PARTIAL_SUFFIXES",
				file.or("watch.partial_suffixes", ".crdownload,.tmp,.part,.download,.partial"))),
			StableReadings: getIntConfigValue(*stableReadings, "STABLE_READINGS", file.intOr("watch.stable_readings", 3)),
		},
		Registry: RegistryConfig{
			URL:   strings.TrimRight(getConfigValue(*registryURL, "REGISTRY_URL", file.or("registry.url", "http://localhost:8080/api/files")), "/"),
			Token: getConfigValue(*registryToken, "REGISTRY_TOKEN", file.or("registry.token", "")),
		},
		Server: ServerConfig{
			Enabled: getBoolConfigValue(*serverEnabled, "SERVER_ENABLED", file.boolOr("server.enabled", true)),
			Addr:    getConfigValue(*serverAddr, "SERVER_ADDR", file.or("server.addr", "127.0.0.1:5001")),
			CORSOrigins: splitList(getConfigValue(*corsOrigins, "CORS_ORIGINS",
				file.or("server.cors_origins", "chrome-extension://*,http://localhost:*,http://127.0.0.1:*"))),
			ProcessBurst: getIntConfigValue("", "PROCESS_BURST", file.intOr("server.process_burst", 5)),
		},
		State: StateConfig{
			Dir: getConfigValue(*stateDir, "STATE_DIR", file.or("state.dir", "~/.ddas")),
		},
	}

	// Parse durations.
	durations := []struct {
		dst      *time.Duration
		flag     string
		envKey   string
		fileKey  string
		fallback string
	}{
		{&cfg.Watch.PollInterval, *pollInterval, "POLL_INTERVAL", "watch.poll_interval", "500ms"},
		{&cfg.Watch.GraceDelay, *graceDelay, "GRACE_DELAY", "watch.grace_delay", "1s"},
		{&cfg.Watch.Timeout, *stabilizeTimeout, "STABILIZE_TIMEOUT", "watch.stabilize_timeout", "30s"},
		{&cfg.Registry.CheckTimeout, *checkTimeout, "CHECK_TIMEOUT", "registry.check_timeout", "10s"},
		{&cfg.Registry.UploadTimeout, *uploadTimeout, "UPLOAD_TIMEOUT", "registry.upload_timeout", "120s"},
		{&cfg.Server.ReadTimeout, *readTimeout, "SERVER_READ_TIMEOUT", "server.read_timeout", "15s"},
		{&cfg.Server.WriteTimeout, *writeTimeout, "SERVER_WRITE_TIMEOUT", "server.write_timeout", "0s"},
		{&cfg.Server.IdleTimeout, *idleTimeout, "SERVER_IDLE_TIMEOUT", "server.idle_timeout", "60s"},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flag, d.envKey, file.or(d.fileKey, d.fallback))
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.envKey, raw, err)
		}
		*d.dst = parsed
	}

	throughputStr := getConfigValue(*minThroughput, "UPLOAD_MIN_THROUGHPUT", file.or("registry.min_throughput", "1MiB"))
	throughput, err := humanize.ParseBytes(throughputStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UPLOAD_MIN_THROUGHPUT %q: %w", throughputStr, err)
	}
	cfg.Registry.MinThroughput = int64(throughput) //nolint:gosec // G115: parsed rates are far below MaxInt64

	rpsStr := getConfigValue("", "PROCESS_RPS", file.or("server.process_rps", "2"))
	rps, err := strconv.ParseFloat(rpsStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PROCESS_RPS %q: %w", rpsStr, err)
	}
	cfg.Server.ProcessRPS = rps

	// Expand paths.
	if cfg.Watch.Dir, err = expandPath(cfg.Watch.Dir, ""); err != nil {
		return nil, fmt.Errorf("invalid watch dir: %w", err)
	}
	if cfg.State.Dir, err = expandPath(cfg.State.Dir, ""); err != nil {
		return nil, fmt.Errorf("invalid state dir: %w", err)
	}
	if cfg.Logger.File != "" {
		if cfg.Logger.File, err = expandPath(cfg.Logger.File, ""); err != nil {
			return nil, fmt.Errorf("invalid log file: %w", err)
		}
	}

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	if err := validator.New().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Watch.Timeout <= c.Watch.PollInterval {
		return fmt.Errorf("stabilize timeout %s must exceed poll interval %s", c.Watch.Timeout, c.Watch.PollInterval)
	}

	if !c.Watch.Enabled && !c.Server.Enabled {
		return errors.New("nothing to do: both the watcher and the control API are disabled")
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	// Expand tilde.
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, strings.TrimPrefix(path[1:], "/"))
	}

	// Make absolute if needed.
	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// splitList splits a comma separated value, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable (including values loaded from .env).
	if envKey != "" {
		if envValue := os.Getenv(envKey); envValue != "" {
			return envValue
		}
	}

	// Priority 3: Default value (the YAML file value when present).
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	return parseBool(strValue)
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strings.TrimSpace(strValue))
	if err != nil {
		return defaultValue
	}
	return result
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=value.
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Only set if not already set (env vars take precedence over .env file).
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
