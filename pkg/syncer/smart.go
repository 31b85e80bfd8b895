package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rexliu/davmark/pkg/bookmark"
	"github.com/rexliu/davmark/pkg/lock"
	"github.com/rexliu/davmark/pkg/webdav"
)

// SmartSync compares both replicas and pushes, pulls, skips or reports a
// conflict. The lock is taken once and inherited by the delegated operation.
func (e *Engine) SmartSync(ctx context.Context, opts Options) Result {
	return e.run(ctx, "smart", opts, true, func(ctx context.Context) Result {
		inherit := Options{Trigger: opts.Trigger, SkipLock: true}
		if inherit.Trigger == "" {
			inherit.Trigger = TriggerManual
		}

		latest, found, err := e.latestBackup(ctx)
		if err != nil {
			if errors.Is(err, webdav.ErrUnauthorized) || found {
				return failed(describeRemoteError(err))
			}
			return failed(fmt.Sprintf("list remote backups: %v", err))
		}
		if !found {
			return e.Push(ctx, inherit)
		}

		local, err := e.tree.GetTree(ctx)
		if err != nil {
			return failed(fmt.Sprintf("read local bookmarks: %v", err))
		}
		local = bookmark.AssignFingerprints(local)
		remote := latest.Backup.Data
		remoteTime := latest.Backup.Time()

		state, synced, err := e.State(ctx)
		if err != nil {
			e.logger.Warn("read sync state failed", "err", err)
		}
		if !synced {
			switch {
			case bookmark.SignaturesEqual(local, remote):
				e.setState(ctx, e.now(), "smart")
				return skipped(latest.File.Name)
			case bookmark.CountBookmarks(local) == 0:
				return e.Pull(ctx, PullOptions{Options: inherit, Mode: PullOverwrite})
			default:
				return conflict(local, latest)
			}
		}

		lastSync := time.UnixMilli(state.Time)
		if remoteTime.After(lastSync) {
			return e.Pull(ctx, PullOptions{Options: inherit, Mode: PullOverwrite})
		}
		modified, err := e.tree.LastModified(ctx)
		if err != nil {
			return failed(fmt.Sprintf("read local modification time: %v", err))
		}
		if modified.After(lastSync) {
			return e.Push(ctx, inherit)
		}
		if bookmark.SignaturesEqual(local, remote) {
			return skipped(latest.File.Name)
		}
		return conflict(local, latest)
	})
}

func skipped(file string) Result {
	return Result{
		Success:  true,
		Action:   ActionSkipped,
		Message:  "local and remote bookmarks are identical",
		FileName: file,
	}
}

func conflict(local []bookmark.Node, latest remoteBackup) Result {
	report := compare(local, latest.Backup.Data)
	report.RemoteFile = latest.File.Name
	report.RemoteTime = latest.Backup.Metadata.Timestamp
	return Result{
		Action:          ActionConflict,
		Message:         fmt.Sprintf("local and remote bookmarks differ (%d local only, %d remote only); choose push, pull or merge", report.LocalOnly, report.RemoteOnly),
		FileName:        latest.File.Name,
		NeedsResolution: true,
		Report:          &report,
	}
}

// Status describes the engine's bookkeeping without touching the remote.
type Status struct {
	Endpoint     string          `json:"endpoint"`
	Directory    string          `json:"directory"`
	State        *State          `json:"state,omitempty"`
	Lock         *lock.Record    `json:"lock,omitempty"`
	LockHeld     bool            `json:"lockHeld"`
	LastWrite    *BackupFileInfo `json:"lastWrite,omitempty"`
	LastModified int64           `json:"lastModified,omitempty"`
	Restoring    bool            `json:"restoring"`
	Snapshots    int             `json:"snapshots"`
	Downloads    []string        `json:"downloads,omitempty"`
}

// Status collects the recorded sync state, lock and file tracking.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	st := Status{
		Endpoint:  e.remote.URL(),
		Directory: e.cfg.Directory,
		Restoring: e.Restoring(ctx),
		Downloads: e.queue.InFlight(),
	}
	state, found, err := e.State(ctx)
	if err != nil {
		return st, fmt.Errorf("sync state: %w", err)
	}
	if found {
		st.State = &state
	}
	rec, locked, err := e.lock.Status(ctx)
	if err != nil {
		return st, fmt.Errorf("sync lock: %w", err)
	}
	if locked {
		st.Lock = &rec
		if st.LockHeld, err = e.lock.Locked(ctx); err != nil {
			return st, fmt.Errorf("sync lock: %w", err)
		}
	}
	info, found, err := e.FileInfo(ctx)
	if err != nil {
		return st, fmt.Errorf("backup file info: %w", err)
	}
	if found {
		st.LastWrite = &info
	}
	modified, err := e.tree.LastModified(ctx)
	if err != nil {
		return st, fmt.Errorf("last modified: %w", err)
	}
	if !modified.IsZero() {
		st.LastModified = modified.UnixMilli()
	}
	if st.Snapshots, err = e.snapshots.Count(ctx); err != nil {
		return st, fmt.Errorf("snapshots: %w", err)
	}
	return st, nil
}

// ShouldAutoSync reports whether a change notification should schedule an
// automatic sync: not while a pull is writing, and only when the local tree
// changed after the last recorded sync.
func (e *Engine) ShouldAutoSync(ctx context.Context) bool {
	if e.Restoring(ctx) {
		return false
	}
	modified, err := e.tree.LastModified(ctx)
	if err != nil {
		e.logger.Warn("read local modification time failed", "err", err)
		return false
	}
	last, ok := e.lastSync(ctx)
	return !ok || modified.After(last)
}
