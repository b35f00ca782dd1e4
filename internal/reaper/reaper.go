// Package reaper runs the periodic scan that terminates expired or
// completed runs and publishes their results.
package reaper

import (
	"context"
	"time"

	"github.com/kthcloud/secd/internal/cluster"
	"github.com/kthcloud/secd/internal/config"
	"github.com/kthcloud/secd/internal/forge"
	"github.com/kthcloud/secd/internal/logging"
	"github.com/kthcloud/secd/internal/metrics"
)

const interval = 60 * time.Second

// Daemon runs the reaper loop from process start to process exit.
type Daemon struct {
	cluster  *cluster.Driver
	forge    *forge.Client
	repoPath string
	log      *logging.Logger
}

// New builds a reaper Daemon.
func New(cluster *cluster.Driver, forge *forge.Client, cfg config.Config, log *logging.Logger) *Daemon {
	return &Daemon{
		cluster:  cluster,
		forge:    forge,
		repoPath: cfg.ResolvedRepoPath(),
		log:      log.With("reaper"),
	}
}

// Run blocks, scanning cluster state every 60 seconds until ctx is
// canceled. Within one iteration, runs are processed sequentially:
// cluster termination completes before result publication begins for
// the same run.
func (d *Daemon) Run(ctx context.Context) {
	d.log.Infof("starting reaper loop")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		d.runOnce(ctx)
		select {
		case <-ctx.Done():
			d.log.Infof("reaper loop stopping: %v", ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

func (d *Daemon) runOnce(ctx context.Context) {
	terminated, err := d.cluster.ListTerminal(ctx)
	if err != nil {
		d.log.Errorf("listing terminal runs: %v", err)
		return
	}
	for _, id := range terminated {
		d.log.Infof("run %s expired or completed, publishing results", id)
		at := time.Now()
		if err := d.forge.PushResults(ctx, id, d.repoPath, at); err != nil {
			d.log.Errorf("publishing results for run %s: %v", id, err)
		}
		metrics.ReapedRun()
		d.log.Infof("run %s finished and cleaned up", id)
	}
	metrics.ReapIteration()
}
