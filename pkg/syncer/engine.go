// Package syncer keeps the local bookmark tree and the remote backup files
// consistent. Push, Pull and SmartSync never return errors; every outcome,
// including failure, is reported through Result.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/rexliu/davmark/pkg/bookmark"
	"github.com/rexliu/davmark/pkg/cache"
	"github.com/rexliu/davmark/pkg/download"
	"github.com/rexliu/davmark/pkg/kv"
	"github.com/rexliu/davmark/pkg/lock"
	"github.com/rexliu/davmark/pkg/merge"
	"github.com/rexliu/davmark/pkg/snapshot"
	"github.com/rexliu/davmark/pkg/webdav"
)

// Durable and session store keys owned by the engine.
const (
	StateKey     = "syncState"
	FileInfoKey  = "backupFileInfo"
	RestoringKey = "restoring"
)

// Defaults for Config.
const (
	DefaultDirectory      = "bookmarks"
	DefaultRevisionWindow = 10 * time.Minute
	DefaultRetentionDays  = 30
)

// Action is what an operation ended up doing.
type Action string

const (
	ActionUploaded Action = "uploaded"
	ActionSkipped  Action = "skipped"
	ActionBlocked  Action = "blocked"
	ActionBusy     Action = "busy"
	ActionPulled   Action = "pulled"
	ActionMerged   Action = "merged"
	ActionRestored Action = "restored"
	ActionConflict Action = "conflict"
	ActionFailed   Action = "failed"
)

// Trigger identifies what started an operation. It doubles as the lock holder.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerAuto      Trigger = "auto"
	TriggerScheduled Trigger = "scheduled"
)

// PullMode selects how Pull applies the remote tree.
type PullMode string

const (
	PullOverwrite PullMode = "overwrite"
	PullMerge     PullMode = "merge"
)

// Options are shared by all operations.
type Options struct {
	Trigger Trigger `json:"trigger"`
	// SkipLock is set by a caller that already holds the lock.
	SkipLock bool `json:"skipLock,omitempty"`
}

// PullOptions extends Options with the apply mode.
type PullOptions struct {
	Options
	Mode PullMode `json:"mode"`
}

// Result is the outcome of an operation.
type Result struct {
	Success         bool         `json:"success"`
	Action          Action       `json:"action"`
	Message         string       `json:"message"`
	FileName        string       `json:"fileName,omitempty"`
	Revision        int          `json:"revision,omitempty"`
	NeedsResolution bool         `json:"needsResolution,omitempty"`
	Report          *Report      `json:"report,omitempty"`
	Stats           *merge.Stats `json:"stats,omitempty"`
}

// Report compares the two replicas.
type Report struct {
	LocalBookmarks  int    `json:"localBookmarks"`
	RemoteBookmarks int    `json:"remoteBookmarks"`
	LocalOnly       int    `json:"localOnly"`
	RemoteOnly      int    `json:"remoteOnly"`
	RemoteFile      string `json:"remoteFile,omitempty"`
	RemoteTime      int64  `json:"remoteTime,omitempty"`
}

// State is the last successful sync against an endpoint.
type State struct {
	Time int64  `json:"time"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

// BackupFileInfo tracks the last remote file this client wrote.
type BackupFileInfo struct {
	FileName  string `json:"fileName"`
	FilePath  string `json:"filePath"`
	CreatedAt int64  `json:"createdAt"`
	Revision  int    `json:"revisionNumber"`
}

// TreeStore is the local bookmark tree.
type TreeStore interface {
	merge.TreeStore
	GetTree(ctx context.Context) ([]bookmark.Node, error)
	RemoveTree(ctx context.Context, id string) error
	LastModified(ctx context.Context) (time.Time, error)
}

// Remote is the remote object store.
type Remote interface {
	URL() string
	Reachable(ctx context.Context) bool
	PutFile(ctx context.Context, p string, content []byte) error
	GetFile(ctx context.Context, p string) ([]byte, error)
	CreateDirectory(ctx context.Context, p string) error
	ListFiles(ctx context.Context, dir string) ([]webdav.FileInfo, error)
	DeleteFile(ctx context.Context, p string) error
}

// Config tunes the engine.
type Config struct {
	// Browser names this client in backup file names.
	Browser        string
	Directory      string
	RevisionWindow time.Duration
	RetentionDays  int
}

// Deps are the collaborators of an Engine. Session may be nil.
type Deps struct {
	Tree      TreeStore
	Remote    Remote
	Durable   kv.Store
	Session   kv.Store
	Lock      *lock.Lock
	Queue     *download.Queue
	Cache     *cache.Cache
	Snapshots *snapshot.Store
	Logger    *slog.Logger
}

// Engine runs sync operations.
type Engine struct {
	cfg       Config
	tree      TreeStore
	remote    Remote
	durable   kv.Store
	session   kv.Store
	lock      *lock.Lock
	queue     *download.Queue
	cache     *cache.Cache
	snapshots *snapshot.Store
	merger    *merge.Merger
	logger    *slog.Logger
	now       func() time.Time
}

// New returns an Engine. Missing optional collaborators get defaults.
func New(cfg Config, deps Deps) *Engine {
	if cfg.Directory == "" {
		cfg.Directory = DefaultDirectory
	}
	if cfg.RevisionWindow <= 0 {
		cfg.RevisionWindow = DefaultRevisionWindow
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		cfg:       cfg,
		tree:      deps.Tree,
		remote:    deps.Remote,
		durable:   deps.Durable,
		session:   deps.Session,
		lock:      deps.Lock,
		queue:     deps.Queue,
		cache:     deps.Cache,
		snapshots: deps.Snapshots,
		logger:    logger,
		now:       time.Now,
	}
	if e.lock == nil {
		e.lock = lock.New(deps.Durable, logger)
	}
	if e.queue == nil {
		e.queue = download.NewQueue(download.DefaultTimeout)
	}
	if e.cache == nil {
		e.cache = cache.New(deps.Session, cache.DefaultTTL, logger)
	}
	if e.snapshots == nil {
		e.snapshots = snapshot.NewStore(deps.Durable, snapshot.DefaultCapacity)
	}
	e.merger = merge.New(deps.Tree, logger)
	return e
}

// Directory returns the remote directory holding backups.
func (e *Engine) Directory() string { return e.cfg.Directory }

// run wraps every public operation: it checks connectivity, takes the lock
// unless inherited, always releases it, and turns panics into failures.
func (e *Engine) run(ctx context.Context, op string, opts Options, needsRemote bool, body func(context.Context) Result) (res Result) {
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}
	logger := e.logger.With("op", op, "trigger", opts.Trigger)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("sync operation panicked", "panic", r)
			res = failed(fmt.Sprintf("%s: internal error: %v", op, r))
		}
	}()

	if needsRemote && !e.remote.Reachable(ctx) {
		return failed("remote server is unreachable")
	}
	if !opts.SkipLock {
		holder := string(opts.Trigger)
		lockID, ok, err := e.lock.Acquire(ctx, holder)
		if err != nil {
			return failed(fmt.Sprintf("acquire sync lock: %v", err))
		}
		if !ok {
			return Result{Action: ActionBusy, Message: "another sync operation is in progress"}
		}
		defer func() {
			if _, err := e.lock.Release(context.WithoutCancel(ctx), holder, lockID); err != nil {
				logger.Warn("release sync lock failed", "err", err)
			}
		}()
	}
	res = body(ctx)
	logger.Info("sync operation finished", "action", res.Action, "success", res.Success, "message", res.Message)
	return res
}

func failed(msg string) Result {
	return Result{Action: ActionFailed, Message: msg}
}

// State returns the recorded sync state for the current endpoint.
func (e *Engine) State(ctx context.Context) (State, bool, error) {
	var st State
	found, err := kv.GetJSON(ctx, e.durable, StateKey, &st)
	if err != nil || !found {
		return State{}, false, err
	}
	if st.URL != e.remote.URL() {
		return State{}, false, nil
	}
	return st, true, nil
}

func (e *Engine) lastSync(ctx context.Context) (time.Time, bool) {
	st, found, err := e.State(ctx)
	if err != nil {
		e.logger.Warn("read sync state failed", "err", err)
		return time.Time{}, false
	}
	if !found {
		return time.Time{}, false
	}
	return time.UnixMilli(st.Time), true
}

func (e *Engine) setState(ctx context.Context, at time.Time, typ string) {
	st := State{Time: at.UnixMilli(), URL: e.remote.URL(), Type: typ}
	if err := kv.SetJSON(ctx, e.durable, StateKey, st); err != nil {
		e.logger.Warn("write sync state failed", "err", err)
	}
}

// FileInfo returns the tracking record of the last file this client wrote.
func (e *Engine) FileInfo(ctx context.Context) (BackupFileInfo, bool, error) {
	var info BackupFileInfo
	found, err := kv.GetJSON(ctx, e.durable, FileInfoKey, &info)
	return info, found, err
}

func (e *Engine) setFileInfo(ctx context.Context, info BackupFileInfo) {
	if err := kv.SetJSON(ctx, e.durable, FileInfoKey, info); err != nil {
		e.logger.Warn("write backup file info failed", "err", err)
	}
}

// Restoring reports whether a pull is currently writing the local tree.
// Without a session store it is always false.
func (e *Engine) Restoring(ctx context.Context) bool {
	if e.session == nil {
		return false
	}
	var on bool
	found, err := kv.GetJSON(ctx, e.session, RestoringKey, &on)
	return err == nil && found && on
}

func (e *Engine) setRestoring(ctx context.Context, on bool) {
	if e.session == nil {
		return
	}
	var err error
	if on {
		err = kv.SetJSON(ctx, e.session, RestoringKey, true)
	} else {
		err = e.session.Remove(ctx, RestoringKey)
	}
	if err != nil {
		e.logger.Warn("update restoring flag failed", "err", err)
	}
}

func (e *Engine) snapshot(ctx context.Context, tree []bookmark.Node, count int, reason string) {
	if _, err := e.snapshots.Create(ctx, tree, count, reason); err != nil {
		e.logger.Warn("snapshot failed", "reason", reason, "err", err)
	}
}

func (e *Engine) remotePath(name string) string {
	return path.Join("/", e.cfg.Directory, name)
}

func compare(local, remote []bookmark.Node) Report {
	li := bookmark.BuildGlobalIndex(local)
	ri := bookmark.BuildGlobalIndex(remote)
	r := Report{
		LocalBookmarks:  bookmark.CountBookmarks(local),
		RemoteBookmarks: bookmark.CountBookmarks(remote),
	}
	for fp := range li.ByFingerprint {
		if !ri.HasFingerprint(fp) {
			r.LocalOnly += len(li.ByFingerprint[fp])
		}
	}
	for fp := range ri.ByFingerprint {
		if !li.HasFingerprint(fp) {
			r.RemoteOnly += len(ri.ByFingerprint[fp])
		}
	}
	return r
}
