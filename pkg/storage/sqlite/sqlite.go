package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rexliu/davmark/pkg/bookmark"
	"github.com/rexliu/davmark/pkg/core"
)

const metaLastModified = "lastModified"

// Store owns the SQLite database for a profile.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Path returns the underlying SQLite file path.
func (s *Store) Path() string {
	return s.path
}

// Open initializes a SQLite database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	// DSN pragmas are per connection; one connection keeps them uniform.
	db.SetMaxOpenConns(1)
	return &Store{db: db, path: path, now: time.Now}, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(DELETE)")
	q.Add("_pragma", "synchronous(FULL)")
	return "file:" + path + "?" + q.Encode()
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Init ensures the schema is configured and the root layout exists.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("nil store")
	}
	if err := s.applySchema(ctx); err != nil {
		return err
	}
	return s.ensureRoot(ctx)
}

func (s *Store) applySchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES ('schemaVersion','2');`,
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			parent_id TEXT REFERENCES nodes(id) ON DELETE CASCADE,
			kind TEXT NOT NULL CHECK (kind IN ('folder','bookmark')),
			title TEXT NOT NULL,
			url TEXT,
			folder_type TEXT,
			ord REAL NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_parent_ord ON nodes(parent_id, ord);`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_title_nocase ON nodes(title COLLATE NOCASE);`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_url ON nodes(url);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) ensureRoot(ctx context.Context) error {
	now := s.now().UnixMilli()
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO nodes(id, parent_id, kind, title, ord, created_at, updated_at)
		VALUES (?, NULL, 'folder', '', 0, ?, ?);
	`, core.RootID, now, now); err != nil {
		return err
	}
	for i, f := range core.SystemFolders {
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO nodes(id, parent_id, kind, title, folder_type, ord, created_at, updated_at)
			VALUES (?, ?, 'folder', ?, ?, ?, ?, ?);
		`, f.ID, core.RootID, f.Title, f.FolderType, float64(i), now, now); err != nil {
			return err
		}
	}
	return nil
}

// LoadTree returns the canonical tree snapshot.
func (s *Store) LoadTree(ctx context.Context) (core.Tree, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, kind, title, url, folder_type, ord, created_at, updated_at
		FROM nodes
		ORDER BY parent_id IS NOT NULL, parent_id, ord;
	`)
	if err != nil {
		return core.Tree{}, err
	}
	defer rows.Close()

	nodes := make(map[string]core.Node)
	children := make(map[string][]string)
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return core.Tree{}, err
		}
		nodes[node.ID] = node
		if node.ParentID != nil {
			children[*node.ParentID] = append(children[*node.ParentID], node.ID)
		}
	}
	if err := rows.Err(); err != nil {
		return core.Tree{}, err
	}
	return core.Tree{
		Version:  core.TreeVersion,
		RootID:   core.RootID,
		Nodes:    nodes,
		Children: children,
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (core.Node, error) {
	var (
		node       core.Node
		kind       string
		folderType sql.NullString
	)
	if err := row.Scan(&node.ID, &node.ParentID, &kind, &node.Title, &node.URL, &folderType, &node.Ord, &node.CreatedAt, &node.UpdatedAt); err != nil {
		return core.Node{}, err
	}
	node.Kind = core.NodeKind(kind)
	node.FolderType = folderType.String
	return node, nil
}

// GetTree returns the whole tree in nested form, rooted at core.RootID.
func (s *Store) GetTree(ctx context.Context) ([]bookmark.Node, error) {
	tree, err := s.LoadTree(ctx)
	if err != nil {
		return nil, err
	}
	return tree.Bookmarks(), nil
}

// GetChildren returns the direct children of id in order. Folders are
// returned without their descendants.
func (s *Store) GetChildren(ctx context.Context, id string) ([]bookmark.Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, kind, title, url, folder_type, ord, created_at, updated_at
		FROM nodes WHERE parent_id = ? ORDER BY ord, id;
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []bookmark.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		idx := len(out)
		b := bookmark.Node{ID: n.ID, ParentID: id, Title: n.Title, FolderType: n.FolderType, Index: &idx}
		if n.URL != nil {
			b.URL = *n.URL
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Create inserts node as the last child of parentID and returns its id. The
// node's children are ignored.
func (s *Store) Create(ctx context.Context, parentID string, node bookmark.Node) (string, error) {
	if parentID == core.RootID {
		return "", core.ErrInvalidParent
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var kind string
	if err := tx.QueryRowContext(ctx, `SELECT kind FROM nodes WHERE id = ?`, parentID).Scan(&kind); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", core.ErrInvalidParent, parentID)
		}
		return "", err
	}
	if core.NodeKind(kind) != core.KindFolder {
		return "", fmt.Errorf("%w: %s is a bookmark", core.ErrInvalidParent, parentID)
	}
	ord, err := s.calcOrd(ctx, tx, parentID, nil)
	if err != nil {
		return "", err
	}
	now := s.now().UnixMilli()
	id := core.NewNodeID()
	if node.IsFolder() {
		_, err = tx.ExecContext(ctx, `INSERT INTO nodes(id, parent_id, kind, title, ord, created_at, updated_at) VALUES(?,?,?,?,?,?,?)`,
			id, parentID, string(core.KindFolder), node.Title, ord, now, now)
	} else {
		_, err = tx.ExecContext(ctx, `INSERT INTO nodes(id, parent_id, kind, title, url, ord, created_at, updated_at) VALUES(?,?,?,?,?,?,?,?)`,
			id, parentID, string(core.KindBookmark), node.Title, node.URL, ord, now, now)
	}
	if err != nil {
		return "", err
	}
	if err := s.touch(ctx, tx); err != nil {
		return "", err
	}
	return id, tx.Commit()
}

// RemoveTree deletes id and all of its descendants. Removing a node that
// does not exist is not an error; removing a system folder is.
func (s *Store) RemoveTree(ctx context.Context, id string) error {
	if core.IsSystemID(id) {
		return core.ErrRootImmutable
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `
		WITH RECURSIVE doomed(id) AS (
			SELECT id FROM nodes WHERE id = ?
			UNION ALL
			SELECT n.id FROM nodes n JOIN doomed d ON n.parent_id = d.id
		)
		DELETE FROM nodes WHERE id IN (SELECT id FROM doomed);
	`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		if err := s.touch(ctx, tx); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LastModified returns when the tree last changed.
func (s *Store) LastModified(ctx context.Context) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaLastModified).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", metaLastModified, err)
	}
	return time.UnixMilli(ms), nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) touch(ctx context.Context, db execer) error {
	_, err := db.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaLastModified, strconv.FormatInt(s.now().UnixMilli(), 10))
	return err
}

// Search returns up to limit nodes whose title or URL contains query,
// ignoring case.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]core.Node, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, kind, title, url, folder_type, ord, created_at, updated_at
		FROM nodes
		WHERE parent_id IS NOT NULL
		  AND (lower(title) LIKE ? ESCAPE '\' OR lower(coalesce(url, '')) LIKE ? ESCAPE '\')
		ORDER BY title COLLATE NOCASE, id
		LIMIT ?;
	`, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ApplyOps applies a batch atomically.
func (s *Store) ApplyOps(ctx context.Context, ops []core.Op) (core.Tree, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Tree{}, err
	}
	defer tx.Rollback()
	for _, op := range ops {
		if err := s.applyOp(ctx, tx, op); err != nil {
			return core.Tree{}, err
		}
	}
	if err := s.touch(ctx, tx); err != nil {
		return core.Tree{}, err
	}
	if err := tx.Commit(); err != nil {
		return core.Tree{}, err
	}
	return s.LoadTree(ctx)
}

func (s *Store) applyOp(ctx context.Context, tx *sql.Tx, op core.Op) error {
	switch v := op.(type) {
	case core.AddFolderOp:
		return s.applyAddFolder(ctx, tx, v)
	case core.AddBookmarkOp:
		return s.applyAddBookmark(ctx, tx, v)
	case core.RenameNodeOp:
		return s.applyRename(ctx, tx, v)
	case core.MoveNodeOp:
		return s.applyMove(ctx, tx, v)
	case core.DeleteNodeOp:
		return s.applyDelete(ctx, tx, v.NodeID)
	case core.UpdateBookmarkOp:
		return s.applyUpdateBookmark(ctx, tx, v)
	case core.SaveSessionOp:
		return s.applySaveSession(ctx, tx, v)
	default:
		return fmt.Errorf("unsupported op %T", op)
	}
}

func (s *Store) applyAddFolder(ctx context.Context, tx *sql.Tx, op core.AddFolderOp) error {
	ord, err := s.calcOrd(ctx, tx, op.ParentID, op.Index)
	if err != nil {
		return err
	}
	now := s.now().UnixMilli()
	_, err = tx.ExecContext(ctx, `INSERT INTO nodes(id, parent_id, kind, title, ord, created_at, updated_at) VALUES(?,?,?,?,?,?,?)`,
		core.NewNodeID(), op.ParentID, string(core.KindFolder), op.Title, ord, now, now)
	return err
}

func (s *Store) applyAddBookmark(ctx context.Context, tx *sql.Tx, op core.AddBookmarkOp) error {
	ord, err := s.calcOrd(ctx, tx, op.ParentID, op.Index)
	if err != nil {
		return err
	}
	now := s.now().UnixMilli()
	_, err = tx.ExecContext(ctx, `INSERT INTO nodes(id, parent_id, kind, title, url, ord, created_at, updated_at) VALUES(?,?,?,?,?,?,?,?)`,
		core.NewNodeID(), op.ParentID, string(core.KindBookmark), op.Title, op.URL, ord, now, now)
	return err
}

func (s *Store) applyRename(ctx context.Context, tx *sql.Tx, op core.RenameNodeOp) error {
	res, err := tx.ExecContext(ctx, `UPDATE nodes SET title = ?, updated_at = ? WHERE id = ?`, op.Title, s.now().UnixMilli(), op.NodeID)
	return wrapRowsAffected(res, err)
}

func (s *Store) applyMove(ctx context.Context, tx *sql.Tx, op core.MoveNodeOp) error {
	ord, err := s.calcOrd(ctx, tx, op.NewParentID, op.NewIndex)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE nodes SET parent_id = ?, ord = ?, updated_at = ? WHERE id = ?`, op.NewParentID, ord, s.now().UnixMilli(), op.NodeID)
	return wrapRowsAffected(res, err)
}

func (s *Store) applyDelete(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	return wrapRowsAffected(res, err)
}

func (s *Store) applyUpdateBookmark(ctx context.Context, tx *sql.Tx, op core.UpdateBookmarkOp) error {
	setClauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if op.Title != nil {
		setClauses = append(setClauses, "title = ?")
		args = append(args, *op.Title)
	}
	if op.URL != nil {
		setClauses = append(setClauses, "url = ?")
		args = append(args, *op.URL)
	}
	if len(setClauses) == 0 {
		return nil
	}
	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, s.now().UnixMilli(), op.NodeID)
	stmt := fmt.Sprintf("UPDATE nodes SET %s WHERE id = ?", strings.Join(setClauses, ", "))
	res, err := tx.ExecContext(ctx, stmt, args...)
	return wrapRowsAffected(res, err)
}

func (s *Store) applySaveSession(ctx context.Context, tx *sql.Tx, op core.SaveSessionOp) error {
	ord, err := s.calcOrd(ctx, tx, op.ParentID, op.Index)
	if err != nil {
		return err
	}
	now := s.now().UnixMilli()
	folderID := core.NewNodeID()
	if _, err := tx.ExecContext(ctx, `INSERT INTO nodes(id, parent_id, kind, title, ord, created_at, updated_at) VALUES(?,?,?,?,?,?,?)`,
		folderID, op.ParentID, string(core.KindFolder), op.Title, ord, now, now); err != nil {
		return err
	}
	for idx, tab := range op.Tabs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO nodes(id, parent_id, kind, title, url, ord, created_at, updated_at) VALUES(?,?,?,?,?,?,?,?)`,
			core.NewNodeID(), folderID, string(core.KindBookmark), tab.Title, tab.URL, float64(idx), now, now); err != nil {
			return err
		}
	}
	return nil
}

// calcOrd returns the ord for inserting at index among parentID's children,
// renumbering the siblings first when the neighbouring gap is too small.
func (s *Store) calcOrd(ctx context.Context, tx *sql.Tx, parentID string, index *int) (float64, error) {
	ords, err := siblingOrds(ctx, tx, parentID)
	if err != nil {
		return 0, err
	}
	ord, renumber := core.OrdAt(ords, index)
	if renumber {
		if err := rebalance(ctx, tx, parentID); err != nil {
			return 0, err
		}
	}
	return ord, nil
}

func siblingOrds(ctx context.Context, tx *sql.Tx, parentID string) ([]float64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT ord FROM nodes WHERE parent_id = ? ORDER BY ord ASC`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ords []float64
	for rows.Next() {
		var ord float64
		if err := rows.Scan(&ord); err != nil {
			return nil, err
		}
		ords = append(ords, ord)
	}
	return ords, rows.Err()
}

func rebalance(ctx context.Context, tx *sql.Tx, parentID string) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM nodes WHERE parent_id = ? ORDER BY ord, id`, parentID)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE nodes SET ord = ? WHERE id = ?`, float64(i), id); err != nil {
			return err
		}
	}
	return nil
}

func wrapRowsAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return errors.New("no rows affected")
	}
	return nil
}
