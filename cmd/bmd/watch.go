package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// watchStore publishes a change event whenever the database file or its
// journal is written, including writes by other processes.
func (d *daemon) watchStore(ctx context.Context, dbPath string) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(dbPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(dbPath), err)
	}
	base := filepath.Base(dbPath)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				if !strings.HasPrefix(filepath.Base(event.Name), base) {
					continue
				}
				d.changes.publish(changeEvent{Source: "file"})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Warn("watcher error", "err", err)
			}
		}
	}()
	return func() {
		watcher.Close()
		<-done
	}, nil
}
