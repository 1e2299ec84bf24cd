package solver

import (
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Turalchik/halo-relax/config"
	"github.com/Turalchik/halo-relax/transport/local"
)

// RunLocal runs cfg.Processes ranks as goroutines of this process. A failing
// rank closes the hub so that its neighbors stop waiting for it.
func RunLocal(cfg config.Config, newLogger func(rank int) *slog.Logger) ([]*Result, error) {
	hub := local.NewHub(cfg.Processes)
	defer hub.Close()

	results := make([]*Result, cfg.Processes)
	var g errgroup.Group
	for rank := range results {
		g.Go(func() error {
			res, err := Run(cfg, hub.Endpoint(rank), newLogger(rank))
			if err != nil {
				hub.Close()
				return err
			}
			results[rank] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
