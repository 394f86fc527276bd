// Package cli parses the command line of threadsim.
package cli

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ExitError is an error that carries the exit code of the process.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// Config holds everything threadsim needs to run.
type Config struct {
	ScriptPath string
	Worlds     int
	Frames     int
	Quota      time.Duration
	Parallel   int
	Verbosity  int
	LogLevel   string
	LogFormat  string
	Profile    bool
}

// settings is the layout of a -config file.
// Unset keys leave the flag defaults alone; unknown keys are an error.
type settings struct {
	Script    *string `toml:"script"`
	Worlds    *int    `toml:"worlds"`
	Frames    *int    `toml:"frames"`
	Quota     *string `toml:"quota"`
	Parallel  *int    `toml:"parallel"`
	Verbosity *int    `toml:"verbosity"`
	LogLevel  *string `toml:"log_level"`
	LogFormat *string `toml:"log_format"`
	Profile   *bool   `toml:"profile"`
}

// Parse processes command-line arguments. It returns the config, whether
// the program should exit right away (after -h, or with no script), or an
// [*ExitError].
//
// Flags given on the command line override the -config file, which
// overrides the defaults.
func Parse(args []string, output io.Writer) (*Config, bool, error) {
	fs := flag.NewFlagSet("threadsim", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, `
threadsim - runs behavior scripts on cooperative thread schedulers.

Usage:
  threadsim [options] SCRIPT

Arguments:
  SCRIPT
    Path to an .hcl behavior script.

Options:
`)
		fs.PrintDefaults()
	}

	cfg := &Config{}
	configPath := fs.String("config", "", "Path to a TOML settings file.")
	fs.IntVar(&cfg.Worlds, "worlds", 1, "Number of independent worlds to run.")
	fs.IntVar(&cfg.Frames, "frames", 0, "Passes per world. 0 runs until every root finishes.")
	fs.DurationVar(&cfg.Quota, "quota", 10*time.Millisecond, "Time budget of one pass.")
	fs.IntVar(&cfg.Parallel, "parallel", 0, "Worlds running at once. 0 is no limit.")
	fs.IntVar(&cfg.Verbosity, "verbosity", 0, "Trace verbosity of flows that do not set one. Options: 0 to 4.")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	fs.StringVar(&cfg.LogFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	fs.BoolVar(&cfg.Profile, "profile", false, "Print the profile of every root after the run.")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if *configPath != "" {
		if err := cfg.load(*configPath, set); err != nil {
			return nil, false, &ExitError{Code: 2, Message: err.Error()}
		}
	}
	if fs.NArg() > 0 {
		cfg.ScriptPath = fs.Arg(0)
	}
	if cfg.ScriptPath == "" {
		fs.Usage()
		return nil, true, nil
	}

	if err := cfg.validate(); err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	return cfg, false, nil
}

// load applies the settings in the TOML file at path, skipping the ones
// whose flag was given.
func (cfg *Config) load(path string, set map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	var st settings
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&st); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if st.Script != nil {
		// Relative to the config file.
		cfg.ScriptPath = *st.Script
		if !filepath.IsAbs(cfg.ScriptPath) {
			cfg.ScriptPath = filepath.Join(filepath.Dir(path), cfg.ScriptPath)
		}
	}
	apply(set, "worlds", st.Worlds, &cfg.Worlds)
	apply(set, "frames", st.Frames, &cfg.Frames)
	apply(set, "parallel", st.Parallel, &cfg.Parallel)
	apply(set, "verbosity", st.Verbosity, &cfg.Verbosity)
	apply(set, "log-level", st.LogLevel, &cfg.LogLevel)
	apply(set, "log-format", st.LogFormat, &cfg.LogFormat)
	apply(set, "profile", st.Profile, &cfg.Profile)
	if st.Quota != nil && !set["quota"] {
		d, err := time.ParseDuration(*st.Quota)
		if err != nil {
			return fmt.Errorf("invalid quota in %s: %w", path, err)
		}
		cfg.Quota = d
	}
	return nil
}

func apply[T any](set map[string]bool, name string, v *T, dst *T) {
	if v != nil && !set[name] {
		*dst = *v
	}
}

func (cfg *Config) validate() error {
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return errors.New("invalid log-format: must be 'text' or 'json'")
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	switch {
	case cfg.Worlds < 1:
		return fmt.Errorf("invalid worlds %d: must be at least 1", cfg.Worlds)
	case cfg.Frames < 0:
		return fmt.Errorf("invalid frames %d: must not be negative", cfg.Frames)
	case cfg.Quota <= 0:
		return fmt.Errorf("invalid quota %v: must be positive", cfg.Quota)
	case cfg.Parallel < 0:
		return fmt.Errorf("invalid parallel %d: must not be negative", cfg.Parallel)
	case cfg.Verbosity < 0:
		return fmt.Errorf("invalid verbosity %d: must not be negative", cfg.Verbosity)
	}
	return nil
}

// NewLogger creates a logger writing to w at the given level, as text or
// JSON. It does not touch the default logger.
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: l}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
