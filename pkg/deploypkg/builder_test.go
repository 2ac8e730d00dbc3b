package deploypkg

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// fakeRun stands in for the external toolchain: it records steps and writes
// the bootstrap output when the build step runs.
func fakeRun(t *testing.T, steps *[]string) func(cmd *exec.Cmd) error {
	t.Helper()
	return func(cmd *exec.Cmd) error {
		step := strings.Join(cmd.Args, " ")
		*steps = append(*steps, step)
		for i, a := range cmd.Args {
			if a == "-o" && i+1 < len(cmd.Args) {
				if err := os.WriteFile(cmd.Args[i+1], []byte("fake-binary"), 0o755); err != nil {
					t.Fatalf("write fake bootstrap: %v", err)
				}
			}
		}
		return nil
	}
}

func TestBuildProducesArchive(t *testing.T) {
	workdir := t.TempDir()
	b := NewBuilder(workdir, t.TempDir(), "example.com/mod/cmd/handler", "arm64", "archive-d-0.zip")
	var steps []string
	b.run = fakeRun(t, &steps)

	archive, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if archive != filepath.Join(workdir, "archive-d-0.zip") {
		t.Fatalf("archive path = %q", archive)
	}
	if len(steps) != 2 {
		t.Fatalf("steps = %v", steps)
	}
	if !strings.Contains(steps[1], "example.com/mod/cmd/handler") {
		t.Fatalf("build step missing handler package: %q", steps[1])
	}

	zr, err := zip.OpenReader(archive)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 1 || zr.File[0].Name != "bootstrap" {
		t.Fatalf("archive entries = %v", zr.File)
	}
	if zr.File[0].Mode()&0o111 == 0 {
		t.Fatalf("bootstrap entry not executable: %v", zr.File[0].Mode())
	}
}

func TestBuildRunsInModuleRoot(t *testing.T) {
	workdir := t.TempDir()
	moduleRoot := t.TempDir()
	b := NewBuilder(workdir, moduleRoot, "example.com/mod/cmd/handler", "arm64", "archive-d-0.zip")
	var dirs []string
	inner := fakeRun(t, new([]string))
	b.run = func(cmd *exec.Cmd) error {
		dirs = append(dirs, cmd.Dir)
		return inner(cmd)
	}

	if _, err := b.Build(context.Background()); err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(dirs) != 2 {
		t.Fatalf("steps = %d", len(dirs))
	}
	for _, d := range dirs {
		if d != moduleRoot {
			t.Fatalf("step ran in %q, want %q", d, moduleRoot)
		}
	}
}

func TestBuildFailingStepYieldsInstallError(t *testing.T) {
	workdir := t.TempDir()
	b := NewBuilder(workdir, t.TempDir(), "example.com/mod/cmd/handler", "arm64", "archive-d-0.zip")
	b.run = func(cmd *exec.Cmd) error {
		cmd.Stderr.Write([]byte("go: module not found"))
		return errors.New("exit status 1")
	}

	_, err := b.Build(context.Background())
	var ie *InstallError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InstallError, got %v", err)
	}
	if !strings.Contains(ie.Stderr, "module not found") {
		t.Fatalf("stderr not captured: %q", ie.Stderr)
	}
	if !strings.HasPrefix(ie.Step, "go mod download") {
		t.Fatalf("step = %q", ie.Step)
	}
}

func TestBuildResetsTargetDir(t *testing.T) {
	workdir := t.TempDir()
	stale := filepath.Join(workdir, "package", "stale")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("write stale: %v", err)
	}

	b := NewBuilder(workdir, t.TempDir(), "example.com/mod/cmd/handler", "amd64", "a.zip")
	var steps []string
	b.run = fakeRun(t, &steps)
	if _, err := b.Build(context.Background()); err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale file survived the reset")
	}
}
