package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rexliu/davmark/pkg/backup"
	"github.com/rexliu/davmark/pkg/backupname"
	"github.com/rexliu/davmark/pkg/bookmark"
	"github.com/rexliu/davmark/pkg/webdav"
)

// Push uploads the local tree as a new remote backup.
func (e *Engine) Push(ctx context.Context, opts Options) Result {
	return e.run(ctx, "push", opts, true, func(ctx context.Context) Result {
		return e.push(ctx, opts)
	})
}

func (e *Engine) push(ctx context.Context, opts Options) Result {
	tree, err := e.tree.GetTree(ctx)
	if err != nil {
		return failed(fmt.Sprintf("read local bookmarks: %v", err))
	}
	count := bookmark.CountBookmarks(tree)
	if count == 0 {
		return failed("local bookmark tree is empty; refusing to upload")
	}
	e.snapshot(ctx, tree, count, "before-push")

	now := e.now()
	doc := backup.New(tree, now)

	latest, found, err := e.latestBackup(ctx)
	if err != nil {
		if errors.Is(err, webdav.ErrUnauthorized) {
			return failed(describeRemoteError(err))
		}
		e.logger.Warn("latest remote backup unavailable; uploading as new", "err", err)
		found = false
	}
	if found {
		lastSync, _ := e.lastSync(ctx)
		remoteTime := latest.Backup.Time()
		if remoteTime.After(lastSync) && opts.Trigger != TriggerManual {
			return Result{
				Action:   ActionBlocked,
				Message:  "remote has updates that have not been pulled; pull first or push manually",
				FileName: latest.File.Name,
			}
		}
		if bookmark.SignaturesEqual(doc.Data, latest.Backup.Data) {
			sameBrowser := latest.Info.Browser != "" && latest.Info.Browser == backupname.BrowserTag(e.cfg.Browser)
			if opts.Trigger != TriggerManual || !sameBrowser {
				e.setState(ctx, now, "push")
				return Result{
					Success:  true,
					Action:   ActionSkipped,
					Message:  "remote backup already matches local bookmarks",
					FileName: latest.File.Name,
				}
			}
		}
	}
	return e.upload(ctx, doc, count)
}

// upload writes doc as a new file, or as the next revision of the file this
// client last wrote when that write is inside the revision window. A
// replaced file is deleted only after its successor is stored.
func (e *Engine) upload(ctx context.Context, doc backup.RemoteBackup, count int) Result {
	now := e.now()
	revision := 1
	var previous BackupFileInfo
	replace := false
	if info, found, err := e.FileInfo(ctx); err != nil {
		e.logger.Warn("read backup file info failed", "err", err)
	} else if found && info.FilePath != "" && now.Sub(time.UnixMilli(info.CreatedAt)) < e.cfg.RevisionWindow {
		previous = info
		replace = true
		revision = info.Revision + 1
	}

	name := backupname.GenerateArchive(e.cfg.Browser, count, revision, now)
	target := e.remotePath(name)
	content, err := backup.Pack(doc)
	if err != nil {
		return failed(fmt.Sprintf("encode backup: %v", err))
	}
	if err := e.remote.CreateDirectory(ctx, e.cfg.Directory); err != nil {
		e.logger.Warn("create remote directory failed", "dir", e.cfg.Directory, "err", err)
		if errors.Is(err, webdav.ErrUnauthorized) {
			return failed(describeRemoteError(err))
		}
	}
	if err := e.remote.PutFile(ctx, target, content); err != nil {
		e.logger.Warn("upload failed", "file", name, "err", err)
		if errors.Is(err, webdav.ErrUnauthorized) {
			return failed(describeRemoteError(err))
		}
		return failed("upload to remote server failed")
	}

	if replace && previous.FilePath != target {
		if err := e.remote.DeleteFile(ctx, previous.FilePath); err != nil {
			e.logger.Warn("delete replaced revision failed", "file", previous.FilePath, "err", err)
		}
	}
	e.setFileInfo(ctx, BackupFileInfo{FileName: name, FilePath: target, CreatedAt: now.UnixMilli(), Revision: revision})

	if !replace {
		deleted, err := backupname.CleanOldBackups(ctx, e.remote, e.cfg.Directory, e.cfg.RetentionDays, now, e.logger)
		if err != nil {
			e.logger.Warn("prune old backups failed", "err", err)
		} else if deleted > 0 {
			e.logger.Info("pruned old backups", "deleted", deleted)
		}
	}
	e.cache.Invalidate(ctx)
	e.setState(ctx, now, "push")

	msg := fmt.Sprintf("uploaded %d bookmarks", count)
	if replace {
		msg = fmt.Sprintf("uploaded %d bookmarks as revision %d", count, revision)
	}
	return Result{Success: true, Action: ActionUploaded, Message: msg, FileName: name, Revision: revision}
}
