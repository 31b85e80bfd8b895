package syncer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rexliu/davmark/pkg/backup"
	"github.com/rexliu/davmark/pkg/backupname"
	"github.com/rexliu/davmark/pkg/cache"
	"github.com/rexliu/davmark/pkg/download"
	"github.com/rexliu/davmark/pkg/webdav"
)

type remoteBackup struct {
	File   webdav.FileInfo
	Info   backupname.Info
	Backup backup.RemoteBackup
}

// Backups lists the remote backup files, newest first.
func (e *Engine) Backups(ctx context.Context) ([]webdav.FileInfo, error) {
	if files, ok := e.cache.BackupList(ctx); ok {
		return files, nil
	}
	all, err := e.remote.ListFiles(ctx, e.cfg.Directory)
	if err != nil {
		return nil, err
	}
	files := make([]webdav.FileInfo, 0, len(all))
	for _, f := range all {
		if backupname.IsBackupFile(f.Name) {
			files = append(files, f)
		}
	}
	slices.SortStableFunc(files, func(a, b webdav.FileInfo) int { return newer(b, a) })
	e.cache.SetBackupList(ctx, files)
	return files, nil
}

// newer orders by the timestamp and revision in the name, then by the
// server's modification time. Names that do not parse rank below every name
// that does.
func newer(a, b webdav.FileInfo) int {
	ai, aok := backupname.Parse(a.Name)
	bi, bok := backupname.Parse(b.Name)
	switch {
	case aok && !bok:
		return 1
	case !aok && bok:
		return -1
	case aok && bok:
		if c := ai.Timestamp.Compare(bi.Timestamp); c != 0 {
			return c
		}
		if c := cmp.Compare(ai.Revision, bi.Revision); c != 0 {
			return c
		}
	}
	if c := a.LastModified.Compare(b.LastModified); c != 0 {
		return c
	}
	return cmp.Compare(a.Name, b.Name)
}

// latestBackup downloads and parses the newest remote backup. found is false
// when the directory holds none.
func (e *Engine) latestBackup(ctx context.Context) (remoteBackup, bool, error) {
	if cached, ok := e.cache.LatestBackup(ctx); ok {
		b, err := backup.Unmarshal(cached.Document)
		if err == nil {
			info, _ := backupname.Parse(cached.File.Name)
			return remoteBackup{File: cached.File, Info: info, Backup: b}, true, nil
		}
		e.logger.Warn("dropping unreadable cached backup", "err", err)
		e.cache.Invalidate(ctx, cache.KindLatestBackup)
	}

	files, err := e.Backups(ctx)
	if err != nil {
		return remoteBackup{}, false, fmt.Errorf("list backups: %w", err)
	}
	if len(files) == 0 {
		return remoteBackup{}, false, nil
	}
	file := files[0]
	content, err := e.queue.Get(ctx, e.remote, file.Path)
	if err != nil {
		return remoteBackup{}, true, fmt.Errorf("download %s: %w", file.Name, err)
	}
	b, raw, err := backup.Unpack(content)
	if err != nil {
		return remoteBackup{}, true, fmt.Errorf("read %s: %w", file.Name, err)
	}
	e.cache.SetLatestBackup(ctx, cache.Latest{File: file, Document: raw})
	info, _ := backupname.Parse(file.Name)
	return remoteBackup{File: file, Info: info, Backup: b}, true, nil
}

// describeRemoteError turns a remote failure into a message without raw
// protocol detail.
func describeRemoteError(err error) string {
	switch {
	case errors.Is(err, webdav.ErrUnauthorized):
		return "remote server rejected the credentials"
	case errors.Is(err, backup.ErrEmptyContent):
		return "remote backup is empty"
	case errors.Is(err, backup.ErrInvalidBackup):
		return "remote backup is not a valid bookmark backup"
	case errors.Is(err, download.ErrTimeout):
		return "downloading the remote backup timed out"
	default:
		return "remote backup could not be read"
	}
}
