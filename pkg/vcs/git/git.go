// Package git keeps a local history of the bookmark tree in a git
// repository inside the profile directory.
package git

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

const remoteName = "origin"

// ErrNoRemote is returned by Push when no remote URL is configured.
var ErrNoRemote = errors.New("git remote not configured")

// Status represents Git state following a commit attempt.
type Status struct {
	Committed bool   `json:"committed"`
	Pending   bool   `json:"pending"`
	Hash      string `json:"hash,omitempty"`
}

// Options configure a Repo.
type Options struct {
	Branch    string
	RemoteURL string
	Username  string
	Password  string
}

// Repo is a git working tree.
type Repo struct {
	path string
	opts Options
	now  func() time.Time

	mu   sync.Mutex
	repo *gogit.Repository
}

// Open opens the repository at path, initializing it when missing.
func Open(path string, opts Options) (*Repo, error) {
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	repo, err := gogit.PlainOpen(path)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		repo, err = gogit.PlainInitWithOptions(path, &gogit.PlainInitOptions{
			InitOptions: gogit.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(opts.Branch)},
		})
	}
	if err != nil {
		return nil, fmt.Errorf("open git repo %s: %w", path, err)
	}
	r := &Repo{path: path, opts: opts, now: time.Now, repo: repo}
	if err := r.syncRemote(); err != nil {
		return nil, err
	}
	return r, nil
}

// syncRemote makes origin match the configured URL.
func (r *Repo) syncRemote() error {
	existing, err := r.repo.Remote(remoteName)
	switch {
	case errors.Is(err, gogit.ErrRemoteNotFound):
	case err != nil:
		return err
	case r.opts.RemoteURL != "" && len(existing.Config().URLs) > 0 && existing.Config().URLs[0] == r.opts.RemoteURL:
		return nil
	default:
		if err := r.repo.DeleteRemote(remoteName); err != nil {
			return err
		}
	}
	if r.opts.RemoteURL == "" {
		return nil
	}
	_, err = r.repo.CreateRemote(&gitconfig.RemoteConfig{Name: remoteName, URLs: []string{r.opts.RemoteURL}})
	return err
}

// Commit stages files and records a commit. Nothing is committed when the
// files are unchanged.
func (r *Repo) Commit(ctx context.Context, message string, files []string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{Pending: true}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	wt, err := r.repo.Worktree()
	if err != nil {
		return Status{Pending: true}, err
	}
	for _, f := range files {
		rel := f
		if filepath.IsAbs(f) {
			if rel, err = filepath.Rel(r.path, f); err != nil {
				return Status{Pending: true}, err
			}
		}
		if _, err := wt.Add(filepath.ToSlash(rel)); err != nil {
			return Status{Pending: true}, fmt.Errorf("stage %s: %w", rel, err)
		}
	}
	st, err := wt.Status()
	if err != nil {
		return Status{Pending: true}, err
	}
	if st.IsClean() {
		return Status{Hash: r.head()}, nil
	}
	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{Name: "davmark", Email: "davmark@localhost", When: r.now()},
	})
	if err != nil {
		return Status{Pending: true}, fmt.Errorf("commit: %w", err)
	}
	return Status{Committed: true, Hash: hash.String()}, nil
}

func (r *Repo) head() string {
	ref, err := r.repo.Head()
	if err != nil {
		return ""
	}
	return ref.Hash().String()
}

// Head returns the current commit hash, or "" before the first commit.
func (r *Repo) Head() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head()
}

// Push pushes the branch to origin.
func (r *Repo) Push(ctx context.Context) error {
	if r.opts.RemoteURL == "" {
		return ErrNoRemote
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ref := plumbing.NewBranchReferenceName(r.opts.Branch)
	err := r.repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(ref + ":" + ref)},
		Auth:       r.auth(),
	})
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

func (r *Repo) auth() transport.AuthMethod {
	if r.opts.Username == "" && r.opts.Password == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: r.opts.Username, Password: r.opts.Password}
}
