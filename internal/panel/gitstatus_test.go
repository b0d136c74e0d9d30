package panel

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/dshills/sidetree/internal/git"
	"github.com/dshills/sidetree/internal/vfs"
)

// newGitFixture returns a repository holding a modified tracked.txt and an
// untracked new.txt, and a fixture whose host sits in it.
func newGitFixture(t *testing.T) (*fixture, string) {
	t.Helper()
	dir := gitRepo(t)
	writeTree(t, dir, "tracked.txt")
	runGit(t, dir, "add", "tracked.txt")
	runGit(t, dir, "commit", "-q", "-m", "init")
	if err := os.WriteFile(filepath.Join(dir, "tracked.txt"), []byte("changed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeTree(t, dir, "new.txt")

	fx := newFixture(t)
	fx.deps.FS = vfs.NewOSFS()
	fx.host.SetCwd(dir)
	repos := git.NewManager(git.Config{Publisher: fx.bus})
	t.Cleanup(func() { _ = repos.Close() })
	fx.deps.Repos = repos
	return fx, dir
}

func openGitStatus(t *testing.T, fx *fixture, cfg GitStatusConfig) *GitStatus {
	t.Helper()
	g := NewGitStatus(fx.deps, cfg)
	g.SetVisible(true)
	if err := g.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(g.Delete)
	return g
}

func TestGitStatusLists(t *testing.T) {
	fx, dir := newGitFixture(t)
	g := openGitStatus(t, fx, GitStatusConfig{})

	if g.Tree().RootPath() != dir {
		t.Fatalf("root = %q, want %q", g.Tree().RootPath(), dir)
	}
	if got := childNames(g.Tree(), dir); !slices.Equal(got, []string{"new.txt", "tracked.txt"}) {
		t.Fatalf("children = %v", got)
	}
	repo := g.Repository()
	if repo == nil {
		t.Fatal("no repository")
	}
	if f := repo.FlagsFor(filepath.Join(dir, "new.txt")); !f.Has(git.Untracked) {
		t.Errorf("new.txt flags = %v", f)
	}
	if f := repo.FlagsFor(filepath.Join(dir, "tracked.txt")); !f.Has(git.Modified) {
		t.Errorf("tracked.txt flags = %v", f)
	}
}

func TestGitStatusStageUnstage(t *testing.T) {
	fx, dir := newGitFixture(t)
	g := openGitStatus(t, fx, GitStatusConfig{})
	ctx := context.Background()
	path := filepath.Join(dir, "new.txt")

	g.SetCursor(path)
	if err := g.Do(ctx, "stage"); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if f := g.Repository().FlagsFor(path); !f.Has(git.Staged) || !f.Has(git.Added) {
		t.Errorf("after stage flags = %v", f)
	}
	if g.Tree().GetNode(path) == nil {
		t.Error("staged path left the tree")
	}

	if err := g.Do(ctx, "unstage"); err != nil {
		t.Fatalf("unstage: %v", err)
	}
	if f := g.Repository().FlagsFor(path); !f.Has(git.Untracked) {
		t.Errorf("after unstage flags = %v", f)
	}

	if err := g.Do(ctx, "stage_all"); err != nil {
		t.Fatalf("stage_all: %v", err)
	}
	for _, name := range []string{"new.txt", "tracked.txt"} {
		if f := g.Repository().FlagsFor(filepath.Join(dir, name)); !f.Has(git.Staged) {
			t.Errorf("%s not staged: %v", name, f)
		}
	}
}

func TestGitStatusRevert(t *testing.T) {
	fx, dir := newGitFixture(t)
	g := openGitStatus(t, fx, GitStatusConfig{})
	ctx := context.Background()
	path := filepath.Join(dir, "tracked.txt")
	g.SetCursor(path)

	if err := g.Do(ctx, "revert"); !errors.Is(err, ErrCancelled) {
		t.Fatalf("unconfirmed revert = %v", err)
	}
	fx.host.QueueConfirm(true)
	if err := g.Do(ctx, "revert"); err != nil {
		t.Fatalf("revert: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "x\n" {
		t.Errorf("content = %q", data)
	}
	if g.Tree().GetNode(path) != nil {
		t.Error("reverted path still listed")
	}
}

func TestGitStatusClean(t *testing.T) {
	fx, dir := newGitFixture(t)
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-q", "-m", "all")
	g := openGitStatus(t, fx, GitStatusConfig{})

	if !hasLine(lastLines(t, fx.host, g.ID()), textClean) {
		t.Errorf("lines = %q", lastLines(t, fx.host, g.ID()))
	}
	if err := g.Do(context.Background(), "cursor_bottom"); err != nil {
		t.Fatal(err)
	}
	if err := g.Do(context.Background(), "stage"); !errors.Is(err, ErrNoSelection) {
		t.Errorf("stage on placeholder = %v", err)
	}
}

func TestGitStatusPlaceholders(t *testing.T) {
	t.Run("not a repository", func(t *testing.T) {
		dir, err := filepath.EvalSymlinks(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		fx := newFixture(t)
		fx.deps.FS = vfs.NewOSFS()
		repos := git.NewManager(git.Config{Publisher: fx.bus})
		t.Cleanup(func() { _ = repos.Close() })
		fx.deps.Repos = repos

		g := openGitStatus(t, fx, GitStatusConfig{Root: dir})
		if g.Repository() != nil {
			t.Error("found a repository in a temp dir")
		}
		if !hasLine(lastLines(t, fx.host, g.ID()), textNotRepository) {
			t.Errorf("lines = %q", lastLines(t, fx.host, g.ID()))
		}
		if err := g.Do(context.Background(), "stage_all"); err == nil {
			t.Error("stage_all outside a repository succeeded")
		}
	})
	t.Run("disabled", func(t *testing.T) {
		fx := newFixture(t)
		g := openGitStatus(t, fx, GitStatusConfig{})
		if !hasLine(lastLines(t, fx.host, g.ID()), textGitDisabled) {
			t.Errorf("lines = %q", lastLines(t, fx.host, g.ID()))
		}
	})
}

func TestGitStatusFollowsWorkTree(t *testing.T) {
	fx, dir := newGitFixture(t)
	g := openGitStatus(t, fx, GitStatusConfig{})

	writeTree(t, dir, "later.txt")
	if err := g.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if g.Tree().GetNode(filepath.Join(dir, "later.txt")) == nil {
		t.Errorf("children = %v", childNames(g.Tree(), dir))
	}
}
