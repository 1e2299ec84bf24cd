// Package config holds the solver options and loads them from files and
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Transport names.
const (
	TransportLocal = "local"
	TransportWS    = "ws"
	TransportMPI   = "mpi"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the full set of solver options.
type Config struct {
	// N is the interior side length of one tile.
	N         int     `toml:"n" yaml:"n"`
	TimeSteps int     `toml:"time_steps" yaml:"time_steps"`
	Output    bool    `toml:"output" yaml:"output"`
	OutputDir string  `toml:"output_dir" yaml:"output_dir"`
	Boundary  float64 `toml:"boundary" yaml:"boundary"`
	Transport string  `toml:"transport" yaml:"transport"`

	// Processes is the number of goroutine ranks of the local transport.
	Processes int `toml:"processes" yaml:"processes"`

	// Rank and Peers configure the ws transport; Peers lists the listen
	// address of every rank in rank order.
	Rank     int      `toml:"rank" yaml:"rank"`
	Peers    []string `toml:"peers" yaml:"peers"`
	LogLevel string   `toml:"log_level" yaml:"log_level"`
}

// Default returns the options used when nothing else is given.
func Default() Config {
	return Config{
		N:         40,
		TimeSteps: 400,
		OutputDir: ".",
		Transport: TransportLocal,
		Processes: 4,
		LogLevel:  "info",
	}
}

// Load reads path on top of the defaults. The format follows the extension.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("%w: unsupported config file %q", ErrInvalid, path)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// BindFlags registers one flag per option, defaulting to the values in cfg.
func (cfg *Config) BindFlags(fs *pflag.FlagSet) {
	fs.IntVarP(&cfg.N, "size", "n", cfg.N, "interior side length of one tile")
	fs.IntVarP(&cfg.TimeSteps, "time-steps", "t", cfg.TimeSteps, "number of iterations")
	fs.BoolVarP(&cfg.Output, "output", "o", cfg.Output, "dump the field to files periodically")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "directory for dump files")
	fs.Float64Var(&cfg.Boundary, "boundary", cfg.Boundary, "field value on the domain boundary")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "local, ws or mpi")
	fs.IntVarP(&cfg.Processes, "processes", "p", cfg.Processes, "ranks to run with the local transport")
	fs.IntVar(&cfg.Rank, "rank", cfg.Rank, "this process's rank with the ws transport")
	fs.StringSliceVar(&cfg.Peers, "peers", cfg.Peers, "listen addresses of all ranks, in rank order (ws transport)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
}

// Overlay copies the options whose flags were set on fs from src into cfg.
func (cfg *Config) Overlay(fs *pflag.FlagSet, src Config) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "size":
			cfg.N = src.N
		case "time-steps":
			cfg.TimeSteps = src.TimeSteps
		case "output":
			cfg.Output = src.Output
		case "output-dir":
			cfg.OutputDir = src.OutputDir
		case "boundary":
			cfg.Boundary = src.Boundary
		case "transport":
			cfg.Transport = src.Transport
		case "processes":
			cfg.Processes = src.Processes
		case "rank":
			cfg.Rank = src.Rank
		case "peers":
			cfg.Peers = src.Peers
		case "log-level":
			cfg.LogLevel = src.LogLevel
		}
	})
}

// Validate checks the options the solver relies on.
func (cfg Config) Validate() error {
	if cfg.N < 1 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalid, cfg.N)
	}
	if cfg.TimeSteps < 1 {
		return fmt.Errorf("%w: time steps must be positive, got %d", ErrInvalid, cfg.TimeSteps)
	}
	switch cfg.Transport {
	case TransportLocal:
		if cfg.Processes < 1 {
			return fmt.Errorf("%w: processes must be positive, got %d", ErrInvalid, cfg.Processes)
		}
	case TransportWS:
		if len(cfg.Peers) == 0 {
			return fmt.Errorf("%w: ws transport needs peers", ErrInvalid)
		}
		if cfg.Rank < 0 || cfg.Rank >= len(cfg.Peers) {
			return fmt.Errorf("%w: rank %d not among %d peers", ErrInvalid, cfg.Rank, len(cfg.Peers))
		}
	case TransportMPI:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, cfg.Transport)
	}
	return nil
}
