package main

import (
	"context"
	"encoding/json"
	"os"

	gitvcs "github.com/rexliu/davmark/pkg/vcs/git"
)

// writeSnapshot stores the nested tree as snapshot.json next to the database.
func writeSnapshot(path string, tree any) error {
	tmp := path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tree); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// journal writes snapshot.json and commits it when the history journal is
// enabled. Failures are logged; the caller's operation already succeeded.
func (d *daemon) journal(ctx context.Context, message string) gitvcs.Status {
	var status gitvcs.Status
	tree, err := d.store.GetTree(ctx)
	if err != nil {
		d.logger.Warn("journal: read tree failed", "err", err)
		return status
	}
	if err := writeSnapshot(d.snapshotPath(), tree); err != nil {
		d.logger.Warn("journal: snapshot write failed", "err", err)
		return status
	}
	if d.repo == nil {
		return status
	}
	status, err = d.repo.Commit(ctx, message, []string{d.snapshotPath()})
	if err != nil {
		d.logger.Warn("journal: commit failed", "err", err)
		return status
	}
	if status.Committed && d.cfg.VCS.AutoPush {
		if err := d.repo.Push(ctx); err != nil {
			d.logger.Warn("journal: push failed", "err", err)
		}
	}
	return status
}
