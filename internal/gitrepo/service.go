// Package gitrepo stores app definitions in one git repository per app.
// Every version owns a branch; creating a version forks the source version's
// branch at its head.
package gitrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"forge/api/internal/store"
)

const definitionFile = "definition.json"

// ErrBranchNotFound is returned when a version branch does not exist.
var ErrBranchNotFound = errors.New("version branch not found")

// EmptyDefinition is the definition a new app starts from.
var EmptyDefinition = json.RawMessage(`{"pages":[],"queries":[],"components":{}}`)

// BranchName is the branch holding the definition of versionID.
func BranchName(versionID string) string {
	return "version-" + versionID
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// CheckWritable verifies that repositories can be created under the base directory.
func (s *Service) CheckWritable() error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("create repos dir: %w", err)
	}
	marker, err := os.CreateTemp(s.baseDir, ".writable-*")
	if err != nil {
		return fmt.Errorf("repos dir not writable: %w", err)
	}
	name := marker.Name()
	_ = marker.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("clean up repos dir check: %w", err)
	}
	return nil
}

// EnsureAppRepo creates the app repository with branch holding the initial
// definition. It is a no-op when the repository already exists.
func (s *Service) EnsureAppRepo(appID, branch string, initial json.RawMessage, author string) error {
	lock := s.appLock(appID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(appID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	payload, err := formatDefinition(initial)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(path, definitionFile), payload, 0o644); err != nil {
		return fmt.Errorf("write initial definition: %w", err)
	}
	if _, err := worktree.Add(definitionFile); err != nil {
		return fmt.Errorf("git add initial definition: %w", err)
	}
	hash, err := worktree.Commit("Create app", &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit initial definition: %w", err)
	}
	branchRef := plumbing.NewBranchReferenceName(branch)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRef, hash)); err != nil {
		return fmt.Errorf("set %s branch ref: %w", branch, err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
		return fmt.Errorf("set HEAD to %s: %w", branch, err)
	}
	return nil
}

// ForkBranch points branch at the head of fromBranch. An existing branch is
// left untouched.
func (s *Service) ForkBranch(appID, branch, fromBranch string) (store.CommitInfo, error) {
	lock := s.appLock(appID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(appID))
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	branchRef := plumbing.NewBranchReferenceName(branch)
	if ref, err := repo.Reference(branchRef, true); err == nil {
		return commitInfoAt(repo, ref.Hash())
	}

	fromRef, err := repo.Reference(plumbing.NewBranchReferenceName(fromBranch), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return store.CommitInfo{}, fmt.Errorf("source %s: %w", fromBranch, ErrBranchNotFound)
		}
		return store.CommitInfo{}, fmt.Errorf("read source branch ref: %w", err)
	}

	if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRef, fromRef.Hash())); err != nil {
		return store.CommitInfo{}, fmt.Errorf("create branch ref: %w", err)
	}
	return commitInfoAt(repo, fromRef.Hash())
}

// CommitDefinition writes definition to the head of branch.
func (s *Service) CommitDefinition(appID, branch string, definition json.RawMessage, author, message string) (store.CommitInfo, error) {
	lock := s.appLock(appID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(appID))
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	hash, err := s.commit(repo, branch, definition, author, message)
	if err != nil {
		return store.CommitInfo{}, err
	}
	return commitInfoAt(repo, hash)
}

// HeadDefinition returns the definition at the head of branch.
func (s *Service) HeadDefinition(appID, branch string) (json.RawMessage, store.CommitInfo, error) {
	lock := s.appLock(appID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(appID))
	if err != nil {
		return nil, store.CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, store.CommitInfo{}, fmt.Errorf("%s: %w", branch, ErrBranchNotFound)
		}
		return nil, store.CommitInfo{}, fmt.Errorf("resolve branch %s: %w", branch, err)
	}

	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, store.CommitInfo{}, fmt.Errorf("load commit object: %w", err)
	}

	definition, err := readDefinition(commitObj)
	if err != nil {
		return nil, store.CommitInfo{}, err
	}
	return definition, toCommitInfo(commitObj), nil
}

// History lists the commits reachable from branch, newest first.
func (s *Service) History(appID, branch string, limit int) ([]store.CommitInfo, error) {
	lock := s.appLock(appID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(appID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, fmt.Errorf("%s: %w", branch, ErrBranchNotFound)
		}
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]store.CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) repoPath(appID string) string {
	return filepath.Join(s.baseDir, appID)
}

func (s *Service) appLock(appID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[appID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[appID] = lock
	return lock
}

func (s *Service) commit(repo *git.Repository, branch string, definition json.RawMessage, author, message string) (plumbing.Hash, error) {
	if err := checkoutBranch(repo, branch); err != nil {
		return plumbing.ZeroHash, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := formatDefinition(definition)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, definitionFile), payload, 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", definitionFile, err)
	}

	if _, err := worktree.Add(definitionFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add definition: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(author),
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit definition: %w", err)
	}
	return hash, nil
}

func checkoutBranch(repo *git.Repository, branch string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	branchRef := plumbing.NewBranchReferenceName(branch)
	if _, err := repo.Reference(branchRef, true); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("%s: %w", branch, ErrBranchNotFound)
		}
		return fmt.Errorf("resolve branch %s: %w", branch, err)
	}

	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", branch, err)
	}
	return nil
}

func readDefinition(commitObj *object.Commit) (json.RawMessage, error) {
	file, err := commitObj.File(definitionFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", definitionFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open definition reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read definition bytes: %w", err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("decode commit definition: invalid JSON")
	}
	return json.RawMessage(bytes.TrimSpace(raw)), nil
}

// formatDefinition indents definition for stable diffs. Only JSON objects are accepted.
func formatDefinition(definition json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(definition)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, fmt.Errorf("definition must be a JSON object")
	}
	var out bytes.Buffer
	if err := json.Indent(&out, trimmed, "", "  "); err != nil {
		return nil, fmt.Errorf("format definition: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func commitInfoAt(repo *git.Repository, hash plumbing.Hash) (store.CommitInfo, error) {
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.forge.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
