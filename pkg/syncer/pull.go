package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rexliu/davmark/pkg/bookmark"
	"github.com/rexliu/davmark/pkg/merge"
)

// ErrNoLocalRoot is returned when the local tree has no system folders.
var ErrNoLocalRoot = errors.New("local tree has no system folders")

// Pull applies the newest remote backup to the local tree.
func (e *Engine) Pull(ctx context.Context, opts PullOptions) Result {
	return e.run(ctx, "pull", opts.Options, true, func(ctx context.Context) Result {
		return e.pull(ctx, opts.Mode)
	})
}

func (e *Engine) pull(ctx context.Context, mode PullMode) Result {
	if mode == "" {
		mode = PullOverwrite
	}
	latest, found, err := e.latestBackup(ctx)
	if err != nil {
		e.logger.Warn("latest remote backup unavailable", "err", err)
		return failed(describeRemoteError(err))
	}
	if !found {
		return failed("no remote backup found")
	}

	local, err := e.tree.GetTree(ctx)
	if err != nil {
		return failed(fmt.Sprintf("read local bookmarks: %v", err))
	}
	e.snapshot(ctx, local, bookmark.CountBookmarks(local), "before-pull")

	remote := latest.Backup.Roots()
	var stats merge.Stats
	switch mode {
	case PullOverwrite:
		stats, err = e.overwrite(ctx, local, remote)
	case PullMerge:
		stats, err = e.mergeRoots(ctx, local, remote)
	default:
		return failed(fmt.Sprintf("unknown pull mode %q", mode))
	}
	if err != nil {
		return failed(fmt.Sprintf("apply remote bookmarks: %v", err))
	}

	at := e.now()
	if rt := latest.Backup.Time(); rt.After(at) {
		at = rt
	}
	e.setState(ctx, at, "pull")

	report := compare(bookmark.AssignFingerprints(local), latest.Backup.Data)
	report.RemoteFile = latest.File.Name
	report.RemoteTime = latest.Backup.Metadata.Timestamp
	res := Result{Success: true, FileName: latest.File.Name, Stats: &stats, Report: &report}
	if mode == PullMerge {
		res.Action = ActionMerged
		res.Message = fmt.Sprintf("merged %s: %d new bookmarks offered, %d nodes created", latest.File.Name, report.RemoteOnly, stats.Created)
	} else {
		res.Action = ActionPulled
		res.Message = fmt.Sprintf("replaced local bookmarks with %s (%d bookmarks)", latest.File.Name, report.RemoteBookmarks)
	}
	if stats.Failed > 0 {
		res.Message += fmt.Sprintf("; %d nodes failed", stats.Failed)
	}
	return res
}

// Restore replaces the local tree with a stored snapshot. It does not touch
// the remote store.
func (e *Engine) Restore(ctx context.Context, id string, opts Options) Result {
	return e.run(ctx, "restore", opts, false, func(ctx context.Context) Result {
		snap, err := e.snapshots.Get(ctx, id)
		if err != nil {
			return failed(err.Error())
		}
		local, err := e.tree.GetTree(ctx)
		if err != nil {
			return failed(fmt.Sprintf("read local bookmarks: %v", err))
		}
		e.snapshot(ctx, local, bookmark.CountBookmarks(local), "before-restore")
		var roots []bookmark.Node
		if len(snap.Tree) > 0 {
			roots = snap.Tree[0].Children
		}
		stats, err := e.overwrite(ctx, local, roots)
		if err != nil {
			return failed(fmt.Sprintf("restore snapshot: %v", err))
		}
		return Result{
			Success: true,
			Action:  ActionRestored,
			Message: fmt.Sprintf("restored snapshot %s (%d bookmarks)", snap.ID, snap.Count),
			Stats:   &stats,
		}
	})
}

func localSystemFolders(local []bookmark.Node) ([]bookmark.Node, error) {
	if len(local) == 0 || len(local[0].Children) == 0 {
		return nil, ErrNoLocalRoot
	}
	return local[0].Children, nil
}

// fallbackFolder is where remote roots without a local counterpart go.
func fallbackFolder(folders []bookmark.Node) bookmark.Node {
	for _, f := range folders {
		if f.FolderType == bookmark.FolderTypeOther {
			return f
		}
	}
	return folders[0]
}

type rootMatch struct {
	local  bookmark.Node
	remote bookmark.Node
}

// matchRoots pairs every remote root with at most one local system folder.
// Unpaired remote roots are returned separately. System roots that exist in
// only one browser family, such as a menu root, are never paired.
func matchRoots(localFolders, remote []bookmark.Node) ([]rootMatch, []bookmark.Node) {
	free := append([]bookmark.Node(nil), localFolders...)
	var matched []rootMatch
	var unmatched []bookmark.Node
	for _, r := range remote {
		if !r.IsFolder() || (bookmark.IsSystemRootFolder(r) && !bookmark.HasCrossBrowserMapping(r)) {
			unmatched = append(unmatched, r)
			continue
		}
		l, ok := bookmark.FindMatchingSystemFolder(r, free)
		if !ok {
			unmatched = append(unmatched, r)
			continue
		}
		matched = append(matched, rootMatch{local: l, remote: r})
		for i := range free {
			if free[i].ID == l.ID {
				free = append(free[:i], free[i+1:]...)
				break
			}
		}
	}
	return matched, unmatched
}

// overwrite clears every local system folder and recreates the remote
// content in the matching folders. Remote roots with no local counterpart
// become ordinary folders in the fallback folder.
func (e *Engine) overwrite(ctx context.Context, local, remote []bookmark.Node) (merge.Stats, error) {
	var stats merge.Stats
	folders, err := localSystemFolders(local)
	if err != nil {
		return stats, err
	}
	e.setRestoring(ctx, true)
	defer e.setRestoring(context.WithoutCancel(ctx), false)

	for _, f := range folders {
		for _, child := range f.Children {
			if err := e.tree.RemoveTree(ctx, child.ID); err != nil {
				return stats, fmt.Errorf("clear %s: %w", f.Title, err)
			}
		}
	}
	matched, unmatched := matchRoots(folders, remote)
	for _, m := range matched {
		sub, err := e.merger.CreateChildren(ctx, m.local.ID, m.remote.Children)
		stats.Add(sub)
		if err != nil {
			return stats, err
		}
	}
	if len(unmatched) > 0 {
		sub, err := e.merger.CreateChildren(ctx, fallbackFolder(folders).ID, unmatched)
		stats.Add(sub)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// mergeRoots merges each remote root into its matching local folder without
// removing anything.
func (e *Engine) mergeRoots(ctx context.Context, local, remote []bookmark.Node) (merge.Stats, error) {
	var stats merge.Stats
	folders, err := localSystemFolders(local)
	if err != nil {
		return stats, err
	}
	e.setRestoring(ctx, true)
	defer e.setRestoring(context.WithoutCancel(ctx), false)

	matched, unmatched := matchRoots(folders, remote)
	for _, m := range matched {
		sub, err := e.merger.MergeNodes(ctx, m.local.ID, m.remote.Children)
		stats.Add(sub)
		if err != nil {
			return stats, err
		}
	}
	if len(unmatched) > 0 {
		sub, err := e.merger.MergeNodes(ctx, fallbackFolder(folders).ID, unmatched)
		stats.Add(sub)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}
