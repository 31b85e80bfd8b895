package main

import (
	"context"
	"fmt"

	"github.com/rexliu/davmark/pkg/cache"
	"github.com/rexliu/davmark/pkg/download"
	"github.com/rexliu/davmark/pkg/kv"
	"github.com/rexliu/davmark/pkg/syncer"
	"github.com/rexliu/davmark/pkg/webdav"
)

const (
	autoSyncTimer     = "autoSync"
	periodicSyncTimer = "periodicSync"
)

// setupSync builds the sync engine. Without a configured remote the engine
// still serves snapshot restores.
func (d *daemon) setupSync(session kv.Store) error {
	cfg := d.cfg
	deps := syncer.Deps{
		Tree:      d.store,
		Durable:   d.store.KV(),
		Session:   session,
		Queue:     download.NewQueue(cfg.Sync.DownloadTimeout.Duration),
		Cache:     cache.New(session, cfg.Sync.CacheTTL.Duration, d.logger),
		Snapshots: d.snapshots,
		Logger:    d.logger.With("component", "sync"),
	}
	if cfg.RemoteConfigured() {
		client, err := webdav.NewClient(webdav.Options{
			URL:      cfg.Remote.URL,
			Username: cfg.Remote.Username,
			Password: cfg.Remote.Password,
			Timeout:  cfg.Remote.Timeout.Duration,
			Logger:   d.logger.With("component", "webdav"),
		})
		if err != nil {
			return fmt.Errorf("webdav client: %w", err)
		}
		d.remote = client
		deps.Remote = client
	}
	d.engine = syncer.New(syncer.Config{
		Browser:        cfg.BrowserName,
		Directory:      cfg.Remote.Directory,
		RevisionWindow: cfg.Sync.RevisionWindow.Duration,
		RetentionDays:  cfg.Sync.RetentionDays,
	}, deps)
	return nil
}

// startAutoSync schedules the periodic sync and debounces change
// notifications into automatic syncs.
func (d *daemon) startAutoSync(ctx context.Context) {
	if d.remote == nil || !d.cfg.Sync.AutoSync {
		return
	}
	d.sched.Every(periodicSyncTimer, d.cfg.Sync.Interval.Duration, func() {
		d.runSync(ctx, syncer.TriggerScheduled)
	})

	events := d.changes.subscribe()
	go func() {
		defer d.changes.unsubscribe(events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if !d.engine.ShouldAutoSync(ctx) {
					d.logger.Debug("change ignored", "source", ev.Source)
					continue
				}
				d.sched.After(autoSyncTimer, d.cfg.Sync.Debounce.Duration, func() {
					d.runSync(ctx, syncer.TriggerAuto)
				})
			}
		}
	}()
}

func (d *daemon) runSync(ctx context.Context, trigger syncer.Trigger) syncer.Result {
	res := d.engine.SmartSync(ctx, syncer.Options{Trigger: trigger})
	d.afterSync(ctx, res)
	return res
}

// afterSync journals the tree when an operation rewrote it.
func (d *daemon) afterSync(ctx context.Context, res syncer.Result) {
	switch res.Action {
	case syncer.ActionPulled, syncer.ActionMerged, syncer.ActionRestored:
		d.journal(ctx, fmt.Sprintf("%s: %s", res.Action, res.Message))
		d.changes.publish(changeEvent{Source: "sync"})
	case syncer.ActionConflict:
		d.logger.Warn("sync needs resolution", "message", res.Message)
	}
}
