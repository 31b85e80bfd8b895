package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rexliu/davmark/pkg/core"
	"github.com/rexliu/davmark/pkg/ipc"
	"github.com/rexliu/davmark/pkg/snapshot"
	"github.com/rexliu/davmark/pkg/syncer"
	gitvcs "github.com/rexliu/davmark/pkg/vcs/git"
)

func (d *daemon) registerHandlers(srv *ipc.Server) {
	srv.Register("ping", pingHandler(d.logger))
	srv.Register("get_tree", d.handleGetTree)
	srv.Register("apply_ops", d.handleApplyOps)
	srv.Register("search", d.handleSearch)
	srv.Register("sync_push", d.handleSyncPush)
	srv.Register("sync_pull", d.handleSyncPull)
	srv.Register("sync_smart", d.handleSyncSmart)
	srv.Register("sync_status", d.handleSyncStatus)
	srv.Register("snapshot_list", d.handleSnapshotList)
	srv.Register("snapshot_restore", d.handleSnapshotRestore)
	srv.Register("remote_test", d.handleRemoteTest)
	srv.Register("backups_list", d.handleBackupsList)
	srv.Register("vcs_push", d.handleVCSPush)
}

func (d *daemon) handleGetTree(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	tree, err := d.store.LoadTree(ctx)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeStorage, err.Error(), nil)
	}
	return map[string]any{"tree": tree, "bookmarks": tree.Bookmarks()}, nil
}

func (d *daemon) handleApplyOps(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var payload applyOpsParams
	if err := json.Unmarshal(params, &payload); err != nil {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, "invalid params", nil)
	}
	if len(payload.Ops) == 0 {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, "ops required", nil)
	}
	tree, err := d.store.LoadTree(ctx)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeStorage, err.Error(), nil)
	}
	ops, err := payload.toCoreOps()
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, err.Error(), nil)
	}
	if err := core.ValidateOps(tree, ops); err != nil {
		return nil, ipc.Errorf(ipc.CodeValidationFailed, err.Error(), nil)
	}
	updated, err := d.store.ApplyOps(ctx, ops)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeStorage, err.Error(), nil)
	}
	status := d.journal(ctx, fmt.Sprintf("apply %d ops: %s", len(ops), payload.firstOpType()))
	if status.Hash != "" {
		updated.Version = status.Hash
	}
	d.changes.publish(changeEvent{Source: "ipc"})
	return map[string]any{
		"tree":      updated,
		"vcsStatus": status,
	}, nil
}

func (d *daemon) handleSearch(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, "invalid search params", nil)
	}
	if req.Limit <= 0 || req.Limit > 500 {
		req.Limit = 50
	}
	nodes, err := d.store.Search(ctx, req.Query, req.Limit)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeStorage, err.Error(), nil)
	}
	matches := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		matches = append(matches, map[string]any{
			"id":    node.ID,
			"title": node.Title,
			"url":   node.URL,
			"kind":  node.Kind,
		})
	}
	return map[string]any{"matches": matches}, nil
}

type syncParams struct {
	Trigger syncer.Trigger  `json:"trigger"`
	Mode    syncer.PullMode `json:"mode"`
}

func decodeSyncParams(params json.RawMessage) (syncParams, *ipc.Error) {
	var p syncParams
	if len(params) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return p, ipc.Errorf(ipc.CodeInvalidRequest, "invalid sync params", nil)
	}
	switch p.Trigger {
	case "", syncer.TriggerManual, syncer.TriggerAuto, syncer.TriggerScheduled:
	default:
		return p, ipc.Errorf(ipc.CodeInvalidRequest, fmt.Sprintf("unknown trigger %q", p.Trigger), nil)
	}
	switch p.Mode {
	case "", syncer.PullOverwrite, syncer.PullMerge:
	default:
		return p, ipc.Errorf(ipc.CodeInvalidRequest, fmt.Sprintf("unknown pull mode %q", p.Mode), nil)
	}
	return p, nil
}

func (d *daemon) requireRemote() *ipc.Error {
	if d.remote == nil {
		return ipc.Errorf(ipc.CodeRemoteNotConfigured, "no WebDAV server configured (run 'davmark remote set')", nil)
	}
	return nil
}

func (d *daemon) handleSyncPush(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	if rpcErr := d.requireRemote(); rpcErr != nil {
		return nil, rpcErr
	}
	p, rpcErr := decodeSyncParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return d.engine.Push(ctx, syncer.Options{Trigger: p.Trigger}), nil
}

func (d *daemon) handleSyncPull(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	if rpcErr := d.requireRemote(); rpcErr != nil {
		return nil, rpcErr
	}
	p, rpcErr := decodeSyncParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	mode := p.Mode
	if mode == "" {
		mode = syncer.PullMode(d.cfg.Sync.PullMode)
	}
	res := d.engine.Pull(ctx, syncer.PullOptions{Options: syncer.Options{Trigger: p.Trigger}, Mode: mode})
	d.afterSync(ctx, res)
	return res, nil
}

func (d *daemon) handleSyncSmart(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	if rpcErr := d.requireRemote(); rpcErr != nil {
		return nil, rpcErr
	}
	p, rpcErr := decodeSyncParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	trigger := p.Trigger
	if trigger == "" {
		trigger = syncer.TriggerManual
	}
	return d.runSync(ctx, trigger), nil
}

func (d *daemon) handleSyncStatus(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	if d.remote == nil {
		return map[string]any{"configured": false}, nil
	}
	st, err := d.engine.Status(ctx)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeStorage, err.Error(), nil)
	}
	return map[string]any{"configured": true, "status": st}, nil
}

func (d *daemon) handleSnapshotList(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	all, err := d.snapshots.All(ctx)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeStorage, err.Error(), nil)
	}
	type entry struct {
		ID        string `json:"id"`
		Count     int    `json:"count"`
		Reason    string `json:"reason"`
		Timestamp int64  `json:"timestamp"`
	}
	out := make([]entry, 0, len(all))
	for _, s := range all {
		out = append(out, entry{ID: s.ID, Count: s.Count, Reason: s.Reason, Timestamp: s.Timestamp})
	}
	return map[string]any{"snapshots": out}, nil
}

func (d *daemon) handleSnapshotRestore(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &req); err != nil || req.ID == "" {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, "id required", nil)
	}
	if _, err := d.snapshots.Get(ctx, req.ID); errors.Is(err, snapshot.ErrNotFound) {
		return nil, ipc.Errorf(ipc.CodeNotFound, err.Error(), map[string]any{"id": req.ID})
	}
	res := d.engine.Restore(ctx, req.ID, syncer.Options{Trigger: syncer.TriggerManual})
	d.afterSync(ctx, res)
	return res, nil
}

func (d *daemon) handleRemoteTest(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	if rpcErr := d.requireRemote(); rpcErr != nil {
		return nil, rpcErr
	}
	if err := d.remote.TestConnection(ctx); err != nil {
		return map[string]any{"ok": false, "message": err.Error()}, nil
	}
	return map[string]any{"ok": true, "message": "connection ok", "url": d.remote.URL()}, nil
}

func (d *daemon) handleBackupsList(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	if rpcErr := d.requireRemote(); rpcErr != nil {
		return nil, rpcErr
	}
	files, err := d.engine.Backups(ctx)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeRemote, err.Error(), nil)
	}
	return map[string]any{"directory": d.engine.Directory(), "files": files}, nil
}

func (d *daemon) handleVCSPush(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	if d.repo == nil {
		return nil, ipc.Errorf(ipc.CodeVCS, "history journal disabled", nil)
	}
	if err := d.repo.Push(ctx); err != nil {
		if errors.Is(err, gitvcs.ErrNoRemote) {
			return nil, ipc.Errorf(ipc.CodeVCS, "no git remote configured", nil)
		}
		return nil, ipc.Errorf(ipc.CodeVCS, err.Error(), nil)
	}
	hash := d.repo.Head()
	return map[string]any{"status": "ok", "hash": hash}, nil
}

type applyOpsParams struct {
	Ops []rpcOp `json:"ops"`
}

func (p applyOpsParams) toCoreOps() ([]core.Op, error) {
	ops := make([]core.Op, 0, len(p.Ops))
	for _, raw := range p.Ops {
		op, err := raw.toCoreOp()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (p applyOpsParams) firstOpType() string {
	if len(p.Ops) == 0 {
		return "unknown"
	}
	return p.Ops[0].Type
}

type rpcOp struct {
	Type        string     `json:"type"`
	ParentID    string     `json:"parentId"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Index       *int       `json:"index"`
	NodeID      string     `json:"nodeId"`
	NewParentID string     `json:"newParentId"`
	NewIndex    *int       `json:"newIndex"`
	Recursive   bool       `json:"recursive"`
	Tabs        []core.Tab `json:"tabs"`
}

func (op rpcOp) toCoreOp() (core.Op, error) {
	switch op.Type {
	case "add_folder":
		if op.ParentID == "" {
			return nil, fmt.Errorf("parentId required for add_folder")
		}
		return core.AddFolderOp{ParentID: op.ParentID, Title: op.Title, Index: op.Index}, nil
	case "add_bookmark":
		if op.ParentID == "" || op.URL == "" {
			return nil, fmt.Errorf("parentId and url required for add_bookmark")
		}
		return core.AddBookmarkOp{ParentID: op.ParentID, Title: op.Title, URL: op.URL, Index: op.Index}, nil
	case "rename_node":
		if op.NodeID == "" {
			return nil, fmt.Errorf("nodeId required for rename_node")
		}
		return core.RenameNodeOp{NodeID: op.NodeID, Title: op.Title}, nil
	case "move_node":
		if op.NodeID == "" || op.NewParentID == "" {
			return nil, fmt.Errorf("nodeId and newParentId required for move_node")
		}
		return core.MoveNodeOp{NodeID: op.NodeID, NewParentID: op.NewParentID, NewIndex: op.NewIndex}, nil
	case "delete_node":
		if op.NodeID == "" {
			return nil, fmt.Errorf("nodeId required for delete_node")
		}
		return core.DeleteNodeOp{NodeID: op.NodeID, Recursive: op.Recursive}, nil
	case "update_bookmark":
		if op.NodeID == "" {
			return nil, fmt.Errorf("nodeId required for update_bookmark")
		}
		return core.UpdateBookmarkOp{NodeID: op.NodeID, Title: optStr(op.Title), URL: optStr(op.URL)}, nil
	case "save_session":
		if op.ParentID == "" {
			return nil, fmt.Errorf("parentId required for save_session")
		}
		return core.SaveSessionOp{ParentID: op.ParentID, Title: op.Title, Tabs: op.Tabs, Index: op.Index}, nil
	default:
		return nil, fmt.Errorf("unknown op type %s", op.Type)
	}
}

func optStr(val string) *string {
	if val == "" {
		return nil
	}
	return &val
}
