package vfs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

// TestAccessorInterface runs the same suite against OSFS and MemFS.
func TestAccessorInterface(t *testing.T) {
	t.Run("MemFS", func(t *testing.T) {
		testAccessor(t, NewMemFS(), "/root")
	})

	t.Run("OSFS", func(t *testing.T) {
		testAccessor(t, NewOSFS(), t.TempDir())
	})
}

func testAccessor(t *testing.T, a Accessor, root string) {
	if err := a.CreateDir(root + "/src"); err != nil && !errors.Is(err, ErrExists) {
		t.Fatalf("CreateDir failed: %v", err)
	}
	if err := a.CreateFile(root + "/README.md"); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}

	t.Run("ScanDir", func(t *testing.T) {
		entries, err := a.ScanDir(root)
		if err != nil {
			t.Fatalf("ScanDir failed: %v", err)
		}
		kinds := map[string]Kind{}
		for _, e := range entries {
			kinds[e.Name] = e.Kind
		}
		if kinds["src"] != KindDir {
			t.Errorf("src kind = %v, want directory", kinds["src"])
		}
		if kinds["README.md"] != KindFile {
			t.Errorf("README.md kind = %v, want file", kinds["README.md"])
		}
	})

	t.Run("ScanDir_Missing", func(t *testing.T) {
		entries, err := a.ScanDir(root + "/nope")
		if err == nil {
			t.Fatal("expected error for missing directory")
		}
		if entries == nil || len(entries) != 0 {
			t.Errorf("entries = %v, want empty non-nil slice", entries)
		}
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("NodeFor", func(t *testing.T) {
		e, err := a.NodeFor(root + "/README.md")
		if err != nil {
			t.Fatalf("NodeFor failed: %v", err)
		}
		if e.Name != "README.md" || e.IsDir() {
			t.Errorf("entry = %+v", e)
		}
		if _, err := a.NodeFor(root + "/missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("NodeFor(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("Queries", func(t *testing.T) {
		if !a.IsDir(root + "/src") {
			t.Error("IsDir(src) = false")
		}
		if !a.IsFile(root + "/README.md") {
			t.Error("IsFile(README.md) = false")
		}
		if a.Exists(root + "/missing") {
			t.Error("Exists(missing) = true")
		}
	})

	t.Run("CopyRenameRemove", func(t *testing.T) {
		if err := a.CopyFile(root+"/README.md", root+"/COPY.md"); err != nil {
			t.Fatalf("CopyFile failed: %v", err)
		}
		if err := a.CopyFile(root+"/README.md", root+"/COPY.md"); !errors.Is(err, ErrExists) {
			t.Errorf("CopyFile over existing error = %v, want ErrExists", err)
		}
		if err := a.CreateFile(root + "/src/main.go"); err != nil {
			t.Fatalf("CreateFile failed: %v", err)
		}
		if err := a.CopyDir(root+"/src", root+"/src2"); err != nil {
			t.Fatalf("CopyDir failed: %v", err)
		}
		if !a.IsFile(root + "/src2/main.go") {
			t.Error("CopyDir did not copy children")
		}
		if err := a.Rename(root+"/src2", root+"/lib"); err != nil {
			t.Fatalf("Rename failed: %v", err)
		}
		if a.Exists(root+"/src2") || !a.IsFile(root+"/lib/main.go") {
			t.Error("Rename did not move subtree")
		}
		if err := a.RemoveFile(root + "/COPY.md"); err != nil {
			t.Fatalf("RemoveFile failed: %v", err)
		}
		if err := a.RemoveDir(root + "/lib"); err != nil {
			t.Fatalf("RemoveDir failed: %v", err)
		}
		if a.Exists(root + "/lib/main.go") {
			t.Error("RemoveDir left children behind")
		}
		if err := a.RemoveFile(root + "/src"); err == nil {
			t.Error("RemoveFile on directory should fail")
		}
	})
}

func TestMemFS_Symlinks(t *testing.T) {
	m := NewMemFS()
	m.AddDir("/a/dir")
	m.AddFile("/a/file.txt", "x")
	m.AddSymlink("/a/to-dir", "dir")
	m.AddSymlink("/a/to-file", "/a/file.txt")
	m.AddSymlink("/a/broken", "nowhere")

	entries, err := m.ScanDir("/a")
	if err != nil {
		t.Fatalf("ScanDir failed: %v", err)
	}
	byName := map[string]Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}

	if e := byName["to-dir"]; !e.IsLink() || !e.IsDir() || e.AbsTarget != "/a/dir" {
		t.Errorf("to-dir = %+v", e)
	}
	if e := byName["to-file"]; e.EffectiveKind() != KindFile || e.Orphaned {
		t.Errorf("to-file = %+v", e)
	}
	if e := byName["broken"]; !e.Orphaned || e.EffectiveKind() != KindFile {
		t.Errorf("broken = %+v, want orphaned file", e)
	}
}

func TestMemFS_SpecialFiles(t *testing.T) {
	m := NewMemFS()
	m.AddSpecial("/dev/fifo", KindFIFO)
	m.AddSpecial("/dev/sock", KindSocket)
	m.AddSpecial("/dev/tty", KindCharDevice)
	m.AddSpecial("/dev/sda", KindBlockDevice)

	want := map[string]Kind{
		"fifo": KindFIFO,
		"sock": KindSocket,
		"tty":  KindCharDevice,
		"sda":  KindBlockDevice,
	}
	entries, _ := m.ScanDir("/dev")
	for _, e := range entries {
		if e.Kind != want[e.Name] {
			t.Errorf("%s kind = %v, want %v", e.Name, e.Kind, want[e.Name])
		}
		if got := KindFromMode(e.Mode); got != want[e.Name] {
			t.Errorf("KindFromMode(%s) = %v, want %v", e.Name, got, want[e.Name])
		}
	}
}

func TestMemFS_InjectedError(t *testing.T) {
	m := NewMemFS()
	m.AddFile("/locked/secret", "")
	m.SetError("/locked", fs.ErrPermission)

	entries, err := m.ScanDir("/locked")
	if !errors.Is(err, fs.ErrPermission) {
		t.Fatalf("error = %v, want permission error", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0", len(entries))
	}

	m.SetError("/locked", nil)
	if entries, err := m.ScanDir("/locked"); err != nil || len(entries) != 1 {
		t.Errorf("after clear: entries=%d err=%v", len(entries), err)
	}
	if got := m.ScanCount("/locked"); got != 2 {
		t.Errorf("ScanCount = %d, want 2", got)
	}
}

func TestMemFS_Executable(t *testing.T) {
	m := NewMemFS()
	m.AddFileMode("/bin/run", "#!/bin/sh", 0o755)
	m.AddFile("/bin/data", "")

	run, _ := m.NodeFor("/bin/run")
	data, _ := m.NodeFor("/bin/data")
	if !run.Executable {
		t.Error("run should be executable")
	}
	if data.Executable {
		t.Error("data should not be executable")
	}
}

func TestOSFS_Symlinks(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "target.sh"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("target.sh", filepath.Join(dir, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink("missing", filepath.Join(dir, "broken")); err != nil {
		t.Fatal(err)
	}

	a := NewOSFS()
	link, err := a.NodeFor(filepath.Join(dir, "link"))
	if err != nil {
		t.Fatalf("NodeFor failed: %v", err)
	}
	if !link.IsLink() || link.Orphaned || link.EffectiveKind() != KindFile {
		t.Errorf("link = %+v", link)
	}
	if link.AbsTarget != filepath.Join(dir, "target.sh") {
		t.Errorf("AbsTarget = %q", link.AbsTarget)
	}
	if !link.Executable {
		t.Error("link to executable should be executable")
	}

	broken, err := a.NodeFor(filepath.Join(dir, "broken"))
	if err != nil {
		t.Fatalf("NodeFor(broken) failed: %v", err)
	}
	if !broken.Orphaned {
		t.Error("broken link should be orphaned")
	}
	if !a.Exists(filepath.Join(dir, "broken")) {
		t.Error("broken link should exist")
	}
}
