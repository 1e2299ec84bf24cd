// Command relax runs the distributed Jacobi relaxation.
//
// With the default local transport all ranks run inside this process:
//
//	relax -p 9 -n 40 -t 400
//
// With the ws transport start one process per rank, each given the same
// peer list:
//
//	relax --transport=ws --rank=0 --peers=:7000,:7001,:7002,:7003
//	relax --transport=ws --rank=1 --peers=:7000,:7001,:7002,:7003
//	...
//
// With the mpi transport (binary built with -tags mpi) let the MPI launcher
// start the processes:
//
//	mpirun -np 4 relax --transport=mpi
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Turalchik/halo-relax/config"
	"github.com/Turalchik/halo-relax/exchange"
	"github.com/Turalchik/halo-relax/logx"
	"github.com/Turalchik/halo-relax/solver"
	"github.com/Turalchik/halo-relax/transport/mpicgo"
	"github.com/Turalchik/halo-relax/transport/wsnet"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	flags := config.Default()
	var configPath string

	cmd := &cobra.Command{
		Use:           "relax",
		Short:         "Relax a 2-D field over a square grid of ranks",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := flags
			if configPath != "" {
				var err error
				if cfg, err = config.Load(configPath); err != nil {
					slog.Error("loading config", "err", err)
					return err
				}
				cfg.Overlay(cmd.Flags(), flags)
			}
			if err := cfg.Validate(); err != nil {
				slog.Error("bad options", "err", err)
				return err
			}
			level, err := logx.ParseLevel(cfg.LogLevel)
			if err != nil {
				slog.Error("bad options", "err", err)
				return err
			}
			return run(cfg, level)
		},
	}
	flags.BindFlags(cmd.Flags())
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML or YAML file with options; flags win")
	return cmd
}

func run(cfg config.Config, level slog.Level) error {
	newLogger := func(rank int) *slog.Logger { return logx.New(os.Stderr, rank, level) }

	switch cfg.Transport {
	case config.TransportLocal:
		newLogger(0).Info("starting", "n", cfg.N, "time_steps", cfg.TimeSteps,
			"output", cfg.Output, "processes", cfg.Processes)
		if _, err := solver.RunLocal(cfg, newLogger); err != nil {
			newLogger(0).Error("run failed", "err", err)
			return err
		}
		return nil

	case config.TransportWS:
		logger := newLogger(cfg.Rank)
		tr, err := wsnet.Listen(cfg.Rank, cfg.Peers, logger)
		if err != nil {
			logger.Error("listen failed", "err", err)
			return err
		}
		defer tr.Close()
		return runRank(cfg, tr, logger)

	default:
		tr, err := mpicgo.Init()
		if err != nil {
			newLogger(0).Error("mpi init failed", "err", err)
			return err
		}
		logger := newLogger(tr.Rank())
		logger.Info("process ready", "of", tr.Size())
		if err := runRank(cfg, tr, logger); err != nil {
			// neighbors may still be blocked on this rank
			tr.Abort(1)
			return err
		}
		tr.Finalize()
		return nil
	}
}

func runRank(cfg config.Config, tr exchange.Transport, logger *slog.Logger) error {
	if tr.Rank() == 0 {
		logger.Info("starting", "n", cfg.N, "time_steps", cfg.TimeSteps,
			"output", cfg.Output, "processes", tr.Size())
	}
	if _, err := solver.Run(cfg, tr, logger); err != nil {
		logger.Error("run failed", "err", err)
		return err
	}
	return nil
}
