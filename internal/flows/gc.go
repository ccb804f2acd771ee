package flows

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepRetention = 24 * time.Hour

// GC runs the periodic flow sweep in the background.
type GC struct {
	cron   *cron.Cron
	store  *Store
	logger *slog.Logger
}

func NewGC(logger *slog.Logger, store *Store, schedule string) (*GC, error) {
	if schedule == "" {
		schedule = "@every 10m"
	}
	gc := &GC{
		cron:   cron.New(),
		store:  store,
		logger: logger.With(slog.String("service", "flows-gc")),
	}
	if _, err := gc.cron.AddFunc(schedule, gc.run); err != nil {
		return nil, err
	}
	return gc, nil
}

func (g *GC) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := g.store.Sweep(ctx, sweepRetention); err != nil {
		g.logger.Error("flow sweep failed", slog.String("error", err.Error()))
	}
}

func (g *GC) Start() {
	g.cron.Start()
}

func (g *GC) Stop() {
	g.cron.Stop()
}
