package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func decode(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode definition: %v", err)
	}
	return out
}

func TestAppRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureAppRepo("app-1", BranchName("ver-1"), EmptyDefinition, "Avery"); err != nil {
		t.Fatalf("EnsureAppRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "app-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}
	if err := svc.EnsureAppRepo("app-1", BranchName("ver-1"), json.RawMessage(`{"other":true}`), "Avery"); err != nil {
		t.Fatalf("EnsureAppRepo() second call error = %v", err)
	}

	edited := json.RawMessage(`{"pages":[{"id":"home"}],"queries":[],"components":{}}`)
	commit, err := svc.CommitDefinition("app-1", BranchName("ver-1"), edited, "Avery", "Add home page")
	if err != nil {
		t.Fatalf("CommitDefinition() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	forked, err := svc.ForkBranch("app-1", BranchName("ver-2"), BranchName("ver-1"))
	if err != nil {
		t.Fatalf("ForkBranch() error = %v", err)
	}
	if forked.Hash != commit.Hash {
		t.Fatalf("fork should start at source head %s, got %s", commit.Hash, forked.Hash)
	}

	got, info, err := svc.HeadDefinition("app-1", BranchName("ver-2"))
	if err != nil {
		t.Fatalf("HeadDefinition() error = %v", err)
	}
	if info.Hash != commit.Hash {
		t.Fatalf("unexpected head %s", info.Hash)
	}
	pages, _ := decode(t, got)["pages"].([]any)
	if len(pages) != 1 {
		t.Fatalf("fork lost source definition: %s", got)
	}

	if _, err := svc.CommitDefinition("app-1", BranchName("ver-2"), EmptyDefinition, "Avery", "Reset"); err != nil {
		t.Fatalf("CommitDefinition() on fork error = %v", err)
	}
	source, _, err := svc.HeadDefinition("app-1", BranchName("ver-1"))
	if err != nil {
		t.Fatalf("HeadDefinition() source error = %v", err)
	}
	pages, _ = decode(t, source)["pages"].([]any)
	if len(pages) != 1 {
		t.Fatalf("commit to fork changed source: %s", source)
	}

	history, err := svc.History("app-1", BranchName("ver-2"), 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 commits on fork, got %d", len(history))
	}
}

func TestForkBranchMissingSource(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureAppRepo("app-1", BranchName("ver-1"), EmptyDefinition, "Avery"); err != nil {
		t.Fatalf("EnsureAppRepo() error = %v", err)
	}

	_, err := svc.ForkBranch("app-1", BranchName("ver-2"), BranchName("missing"))
	if !errors.Is(err, ErrBranchNotFound) {
		t.Fatalf("expected ErrBranchNotFound, got %v", err)
	}
	if _, _, err := svc.HeadDefinition("app-1", BranchName("missing")); !errors.Is(err, ErrBranchNotFound) {
		t.Fatalf("expected ErrBranchNotFound from HeadDefinition, got %v", err)
	}
}

func TestForkBranchKeepsExistingBranch(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureAppRepo("app-1", BranchName("ver-1"), EmptyDefinition, "Avery"); err != nil {
		t.Fatalf("EnsureAppRepo() error = %v", err)
	}
	if _, err := svc.ForkBranch("app-1", BranchName("ver-2"), BranchName("ver-1")); err != nil {
		t.Fatalf("ForkBranch() error = %v", err)
	}
	moved, err := svc.CommitDefinition("app-1", BranchName("ver-2"), json.RawMessage(`{"pages":[1]}`), "Avery", "Edit")
	if err != nil {
		t.Fatalf("CommitDefinition() error = %v", err)
	}

	again, err := svc.ForkBranch("app-1", BranchName("ver-2"), BranchName("ver-1"))
	if err != nil {
		t.Fatalf("ForkBranch() repeat error = %v", err)
	}
	if again.Hash != moved.Hash {
		t.Fatalf("repeat fork reset the branch: %s != %s", again.Hash, moved.Hash)
	}
}

func TestCommitDefinitionRejectsNonObject(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureAppRepo("app-1", BranchName("ver-1"), EmptyDefinition, "Avery"); err != nil {
		t.Fatalf("EnsureAppRepo() error = %v", err)
	}
	for _, input := range []string{``, `[]`, `"text"`, `{"broken"`} {
		if _, err := svc.CommitDefinition("app-1", BranchName("ver-1"), json.RawMessage(input), "Avery", "bad"); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestConcurrentCommitDefinitionSameBranch(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureAppRepo("app-1", BranchName("ver-1"), EmptyDefinition, "Avery"); err != nil {
		t.Fatalf("EnsureAppRepo() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := json.RawMessage(fmt.Sprintf(`{"title":"title-%02d"}`, idx))
			if _, err := svc.CommitDefinition("app-1", BranchName("ver-1"), next, "Avery", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitDefinition() concurrent error = %v", err)
		}
	}

	history, err := svc.History("app-1", BranchName("ver-1"), 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("expected %d commits in history, got %d", writers+1, len(history))
	}

	head, _, err := svc.HeadDefinition("app-1", BranchName("ver-1"))
	if err != nil {
		t.Fatalf("HeadDefinition() error = %v", err)
	}
	title, _ := decode(t, head)["title"].(string)
	if !strings.HasPrefix(title, "title-") {
		t.Fatalf("unexpected head definition after concurrent commits: %s", head)
	}
}

func TestCheckWritable(t *testing.T) {
	base := filepath.Join(t.TempDir(), "repos")
	if err := New(base).CheckWritable(); err != nil {
		t.Fatalf("CheckWritable() error = %v", err)
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatalf("read repos dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("check left files behind: %v", entries)
	}

	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := New(file).CheckWritable(); err == nil {
		t.Fatal("expected error when the repos path is a file")
	}
}

func TestSanitizeEmail(t *testing.T) {
	cases := map[string]string{
		"Avery Stone": "Avery.Stone",
		"":            "user",
		"!!!":         "user",
		"a_b-c":       "a.b.c",
	}
	for input, want := range cases {
		if got := sanitizeEmail(input); got != want {
			t.Fatalf("sanitizeEmail(%q) = %q, want %q", input, got, want)
		}
	}
}
