package panel

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/git"
	"github.com/dshills/sidetree/internal/host"
	"github.com/dshills/sidetree/internal/search"
	"github.com/dshills/sidetree/internal/tree"
	"github.com/dshills/sidetree/internal/vfs"
)

func TestFilesProjScenario(t *testing.T) {
	fx := newFixture(t)
	f := openFiles(t, fx, FilesConfig{})

	if got := childNames(f.Tree(), "/proj"); !slices.Equal(got, []string{"src", "README.md"}) {
		t.Fatalf("children = %v", got)
	}
	lines := lastLines(t, fx.host, f.ID())
	if !hasLine(lines, "src") || !hasLine(lines, "README.md") {
		t.Fatalf("lines = %q", lines)
	}

	fx.fs.Remove("/proj/README.md")
	fx.bus.Publish(events.TopicFSChanged, events.FSChanged{Dir: "/proj", Names: []string{"README.md"}})
	f.Wait()

	if got := childNames(f.Tree(), "/proj"); !slices.Equal(got, []string{"src"}) {
		t.Fatalf("children after delete = %v", got)
	}
	if lines := lastLines(t, fx.host, f.ID()); hasLine(lines, "README.md") {
		t.Errorf("stale line after refresh: %q", lines)
	}
}

func TestFilesChangeInUnloadedDirIgnored(t *testing.T) {
	fx := newFixture(t)
	f := openFiles(t, fx, FilesConfig{})
	before := fx.fs.ScanCount("/proj/src")

	fx.fs.AddFile("/proj/src/extra.go", "")
	fx.bus.Publish(events.TopicFSChanged, events.FSChanged{Dir: "/proj/src", Names: []string{"extra.go"}})
	f.Wait()

	if fx.fs.ScanCount("/proj/src") != before {
		t.Error("collapsed, unscanned directory was scanned")
	}
}

func TestFilesAdd(t *testing.T) {
	fx := newFixture(t)
	f := openFiles(t, fx, FilesConfig{})
	ctx := context.Background()

	f.SetCursor("/proj/src")
	fx.host.QueueReply("pkg/new.go")
	if err := f.Do(ctx, "add"); err != nil {
		t.Fatalf("add: %v", err)
	}
	f.Wait()
	if !fx.fs.IsFile("/proj/src/pkg/new.go") {
		t.Fatal("file not created")
	}
	if f.Cursor() != "/proj/src/pkg/new.go" {
		t.Errorf("cursor = %q, want the new file", f.Cursor())
	}

	f.SetCursor("/proj/README.md")
	fx.host.QueueReply("docs/")
	if err := f.Do(ctx, "add"); err != nil {
		t.Fatalf("add dir: %v", err)
	}
	f.Wait()
	if !fx.fs.IsDir("/proj/docs") {
		t.Fatal("directory not created")
	}
	if got := childNames(f.Tree(), "/proj"); !slices.Equal(got, []string{"docs", "src", "README.md"}) {
		t.Errorf("children = %v", got)
	}

	// Adding from a directory creates inside it, so go back to a file.
	f.SetCursor("/proj/README.md")
	fx.host.QueueReply("docs/")
	if err := f.Do(ctx, "add"); err == nil || !strings.Contains(err.Error(), "exists") {
		t.Errorf("duplicate add = %v", err)
	}
}

func TestFilesAddCancelled(t *testing.T) {
	fx := newFixture(t)
	f := openFiles(t, fx, FilesConfig{})

	fx.host.QueueCancel()
	if err := f.Do(context.Background(), "add"); !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v", err)
	}
	for _, n := range fx.host.Notes() {
		if n.Level == host.LevelError {
			t.Errorf("cancellation notified: %+v", n)
		}
	}
}

func TestFilesDelete(t *testing.T) {
	fx := newFixture(t)
	f := openFiles(t, fx, FilesConfig{})
	ctx := context.Background()
	f.SetCursor("/proj/README.md")

	fx.host.QueueConfirm(false)
	if err := f.Do(ctx, "delete"); !errors.Is(err, ErrCancelled) {
		t.Fatalf("declined delete = %v", err)
	}
	if !fx.fs.Exists("/proj/README.md") {
		t.Fatal("declined delete removed the file")
	}

	fx.host.QueueConfirm(true)
	if err := f.Do(ctx, "delete"); err != nil {
		t.Fatal(err)
	}
	f.Wait()
	if fx.fs.Exists("/proj/README.md") {
		t.Error("file still exists")
	}
	if got := childNames(f.Tree(), "/proj"); !slices.Equal(got, []string{"src"}) {
		t.Errorf("children = %v", got)
	}

	f.SetCursor("/proj")
	if err := f.Do(ctx, "delete"); err == nil {
		t.Error("deleting the root succeeded")
	}
}

func TestFilesRename(t *testing.T) {
	fx := newFixture(t)
	f := openFiles(t, fx, FilesConfig{})
	f.SetCursor("/proj/README.md")

	fx.host.QueueReply("NOTES.md")
	if err := f.Do(context.Background(), "rename"); err != nil {
		t.Fatal(err)
	}
	f.Wait()
	if got := childNames(f.Tree(), "/proj"); !slices.Equal(got, []string{"src", "NOTES.md"}) {
		t.Errorf("children = %v", got)
	}
	if f.Cursor() != "/proj/NOTES.md" {
		t.Errorf("cursor = %q", f.Cursor())
	}

	f.SetCursor("/proj/src")
	fx.host.QueueReply("/proj/src/inner")
	if err := f.Do(context.Background(), "rename"); err == nil {
		t.Error("moved a directory into itself")
	}
}

func TestFilesCopyCutPaste(t *testing.T) {
	fx := newFixture(t)
	f := openFiles(t, fx, FilesConfig{})
	ctx := context.Background()

	f.SetCursor("/proj/README.md")
	if err := f.Do(ctx, "copy"); err != nil {
		t.Fatal(err)
	}
	if f.clip.mark("/proj/README.md") != "C" {
		t.Error("copy mark missing")
	}
	f.SetCursor("/proj/src")
	if err := f.Do(ctx, "paste"); err != nil {
		t.Fatal(err)
	}
	f.Wait()
	if !fx.fs.IsFile("/proj/src/README.md") || !fx.fs.IsFile("/proj/README.md") {
		t.Fatal("copy did not keep both files")
	}

	// Pasting into the same directory asks for a new name.
	f.SetCursor("/proj")
	fx.host.QueueReply("README.copy.md")
	if err := f.Do(ctx, "paste"); err != nil {
		t.Fatal(err)
	}
	f.Wait()
	if !fx.fs.IsFile("/proj/README.copy.md") {
		t.Error("renamed copy missing")
	}

	f.SetCursor("/proj/src")
	if err := f.Do(ctx, "expand"); err != nil {
		t.Fatal(err)
	}
	f.SetCursor("/proj/src/main.go")
	if err := f.Do(ctx, "cut"); err != nil {
		t.Fatal(err)
	}
	if f.clip.mark("/proj/src/main.go") != "X" || f.clip.mark("/proj/README.md") != "" {
		t.Error("cut did not replace the copy marks")
	}
	f.SetCursor("/proj")
	if err := f.Do(ctx, "paste"); err != nil {
		t.Fatal(err)
	}
	f.Wait()
	if !fx.fs.IsFile("/proj/main.go") || fx.fs.Exists("/proj/src/main.go") {
		t.Error("cut did not move the file")
	}
	if paths, _ := f.clip.contents(); len(paths) != 0 {
		t.Errorf("clipboard after cut-paste = %v", paths)
	}
}

func TestFilesSetRootAndFollow(t *testing.T) {
	fx := newFixture(t)
	f := openFiles(t, fx, FilesConfig{Follow: true})
	ctx := context.Background()

	if err := f.SetRoot(ctx, "/proj/src"); err != nil {
		t.Fatal(err)
	}
	if f.Tree().RootPath() != "/proj/src" {
		t.Fatalf("root = %q", f.Tree().RootPath())
	}
	if got := childNames(f.Tree(), "/proj/src"); !slices.Equal(got, []string{"main.go"}) {
		t.Errorf("children = %v", got)
	}
	if err := f.SetRoot(ctx, "/proj/README.md"); err == nil {
		t.Error("file accepted as root")
	}

	if err := f.SetRoot(ctx, "/proj"); err != nil {
		t.Fatal(err)
	}
	f.Follow(ctx, "/proj/src/main.go")
	if f.Cursor() != "/proj/src/main.go" {
		t.Errorf("cursor = %q", f.Cursor())
	}
	if n := f.Tree().GetNode("/proj/src"); n == nil || !n.Expanded {
		t.Error("follow did not expand the parent")
	}

	f.Follow(ctx, "/elsewhere/x.go")
	if f.Cursor() != "/proj/src/main.go" {
		t.Error("follow outside the root moved the cursor")
	}

	f.Tree().CollapseAll()
	f.Follow(ctx, "/proj/src/unsaved.go")
	if f.Cursor() != "/proj/src" {
		t.Errorf("cursor = %q, want the parent of an unsaved buffer", f.Cursor())
	}
	if n := f.Tree().GetNode("/proj/src"); n == nil || !n.Expanded {
		t.Error("follow of an unsaved buffer did not expand its parent")
	}
}

func TestFilesSetRootWhileRefreshing(t *testing.T) {
	fx := newFixture(t)
	fx.fs.AddFile("/other/a.txt", "")
	f := openFiles(t, fx, FilesConfig{})
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fx.fs.OnScan(func(dir string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})
	done := make(chan error, 1)
	go func() { done <- f.Refresh(ctx) }()
	<-entered

	if err := f.SetRoot(ctx, "/other"); err != nil {
		t.Fatalf("set root: %v", err)
	}
	close(release)
	<-done
	f.Wait()

	if f.Tree().RootPath() != "/other" {
		t.Fatalf("root = %q", f.Tree().RootPath())
	}
	if got := childNames(f.Tree(), "/other"); !slices.Equal(got, []string{"a.txt"}) {
		t.Errorf("children = %v, want the new root scanned", got)
	}
	if f.State() != StateScanned {
		t.Errorf("state = %v, want scanned", f.State())
	}
}

func TestFilesFollowDisabled(t *testing.T) {
	fx := newFixture(t)
	f := openFiles(t, fx, FilesConfig{})
	f.Follow(context.Background(), "/proj/src/main.go")
	if f.Cursor() == "/proj/src/main.go" {
		t.Error("followed with follow disabled")
	}
}

func TestFilesToggleDotfiles(t *testing.T) {
	fx := newFixture(t)
	fx.fs.AddFile("/proj/.env", "")
	f := openFiles(t, fx, FilesConfig{})

	if !slices.Contains(childNames(f.Tree(), "/proj"), ".env") {
		t.Fatal("dotfile hidden by default")
	}
	if err := f.Do(context.Background(), "toggle_dotfiles"); err != nil {
		t.Fatal(err)
	}
	if lines := lastLines(t, fx.host, f.ID()); hasLine(lines, ".env") {
		t.Errorf("dotfile still drawn: %q", lines)
	}
}

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFilesSearch(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a/b/c.txt", "a/b/d.txt", "e/f.go")

	fx := newFixture(t)
	fx.deps.FS = vfs.NewOSFS()
	fx.host.SetCwd(root)
	searcher := search.New(search.Config{LookPath: func(string) bool { return false }})
	f := openFiles(t, fx, FilesConfig{Searcher: searcher})
	files := f.Tree()
	f.SetCursor(filepath.Join(root, "e"))

	if err := f.Search(context.Background(), "*.txt"); err != nil {
		t.Fatal(err)
	}
	if !f.Searching() || f.Query() != "*.txt" {
		t.Fatal("not in search mode")
	}
	st := f.Tree()
	if st == files {
		t.Fatal("search did not replace the view")
	}
	if got := childNames(st, root); !slices.Equal(got, []string{"a"}) {
		t.Errorf("search root children = %v", got)
	}
	if got := childNames(st, filepath.Join(root, "a", "b")); !slices.Equal(got, []string{"c.txt", "d.txt"}) {
		t.Errorf("search leaves = %v", got)
	}
	if f.Cursor() != filepath.Join(root, "a", "b", "c.txt") {
		t.Errorf("cursor = %q, want first hit", f.Cursor())
	}
	if files.GetNode(filepath.Join(root, "e")) == nil {
		t.Error("files tree lost while searching")
	}

	f.ClearSearch()
	if f.Searching() || f.Tree() != files {
		t.Fatal("clear did not restore the files tree")
	}
	if f.Cursor() != filepath.Join(root, "e") {
		t.Errorf("cursor after clear = %q", f.Cursor())
	}
}

func TestFilesSearchNotConfigured(t *testing.T) {
	fx := newFixture(t)
	f := openFiles(t, fx, FilesConfig{})
	if err := f.Search(context.Background(), "x"); err == nil {
		t.Error("search without a searcher succeeded")
	}
}

func gitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test User"},
		{"config", "commit.gpgsign", "false"},
	} {
		runGit(t, dir, args...)
	}
	return dir
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
}

func TestFilesGitStatus(t *testing.T) {
	dir := gitRepo(t)
	writeTree(t, dir, "tracked.txt")
	runGit(t, dir, "add", "tracked.txt")
	runGit(t, dir, "commit", "-q", "-m", "init")
	writeTree(t, dir, "new.txt")

	fx := newFixture(t)
	fx.deps.FS = vfs.NewOSFS()
	fx.host.SetCwd(dir)
	repos := git.NewManager(git.Config{Publisher: fx.bus})
	t.Cleanup(func() { _ = repos.Close() })
	fx.deps.Repos = repos

	f := openFiles(t, fx, FilesConfig{})
	if got := f.Tree().Repositories(); !slices.Equal(got, []string{dir}) {
		t.Fatalf("repositories = %v", got)
	}
	n := f.Tree().GetNode(filepath.Join(dir, "new.txt"))
	if n == nil || !n.GitFlags().Has(git.Untracked) {
		t.Fatalf("new.txt flags = %v", n)
	}
	if n := f.Tree().GetNode(filepath.Join(dir, "tracked.txt")); n == nil || n.GitFlags() != git.Clean {
		t.Errorf("tracked.txt not clean")
	}
	if !slices.Contains(f.Paths(), dir) {
		t.Errorf("paths = %v", f.Paths())
	}
}

func TestTargetDir(t *testing.T) {
	dir := &tree.Node{Path: "/p/d", Kind: tree.KindDirectory}
	file := &tree.Node{Path: "/p/d/f.go", Kind: tree.KindFile}
	if targetDir(dir) != "/p/d" || targetDir(file) != "/p/d" {
		t.Error("targetDir")
	}
	if firstComponent("/p", "/p/a/b/c") != "a" {
		t.Error("firstComponent")
	}
	if !within("/p", "/p") || !within("/p", "/p/x") || within("/p", "/px") {
		t.Error("within")
	}
}
