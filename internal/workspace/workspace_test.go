package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "ws")
	w, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if w.Root != root {
		t.Errorf("Root = %q, want %q", w.Root, root)
	}
	info, err := os.Stat(root)
	if err != nil {
		t.Fatalf("stat root: %v", err)
	}
	if !info.IsDir() {
		t.Error("root is not a directory")
	}
}

func TestDirAccessorsCreateDirectories(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for name, dir := range map[string]string{
		"data":    w.DataDir(),
		"sandbox": w.SandboxDir(),
		"logs":    w.LogsDir(),
	} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("%s dir not created: %v", name, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", name)
		}
	}
}

func TestDatabasePath(t *testing.T) {
	root := t.TempDir()
	w, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := filepath.Join(root, "data", "nextvibe.db")
	if got := w.DatabasePath(); got != want {
		t.Errorf("DatabasePath = %q, want %q", got, want)
	}
}

func TestCleanSandbox(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	orphan := filepath.Join(w.SandboxDir(), "nextvibe-sbx-orphan")
	if err := os.MkdirAll(orphan, 0750); err != nil {
		t.Fatalf("creating orphan dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(orphan, "main.py"), []byte("print(1)"), 0600); err != nil {
		t.Fatalf("writing orphan file: %v", err)
	}

	if err := w.CleanSandbox(); err != nil {
		t.Fatalf("CleanSandbox: %v", err)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Error("orphan scratch dir survived CleanSandbox")
	}

	// Sandbox dir itself stays.
	if _, err := os.Stat(w.SandboxDir()); err != nil {
		t.Errorf("sandbox dir removed: %v", err)
	}
}

func TestCleanSandbox_MissingDirIsNoop(t *testing.T) {
	w := &Workspace{Root: filepath.Join(t.TempDir(), "never-created"), created: map[string]bool{}}
	if err := w.CleanSandbox(); err != nil {
		t.Errorf("CleanSandbox on missing dir: %v", err)
	}
}

func TestEnsureAll(t *testing.T) {
	root := t.TempDir()
	w, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.EnsureAll(); err != nil {
		t.Fatalf("EnsureAll: %v", err)
	}
	for _, name := range []string{"data", "sandbox", "logs"} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
}
