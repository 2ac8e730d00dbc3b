// Package deploypkg builds the deployment archive for the remote function:
// a self-contained Lambda bootstrap compiled from the handler package, zipped
// for zip-from-store provisioning.
package deploypkg

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// bootstrapName is the binary name the provided.al2023 runtime executes.
const bootstrapName = "bootstrap"

// InstallError reports a failed build step. Stderr carries the captured
// error stream of the external process.
type InstallError struct {
	Step   string
	Stderr string
	Err    error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("deploy package step %q: %v: %s", e.Step, e.Err, strings.TrimSpace(e.Stderr))
}

func (e *InstallError) Unwrap() error { return e.Err }

// Builder assembles one deployment archive inside a per-dispatch working
// directory. All paths derive from Workdir, so concurrent builds for
// different dispatches never collide; a Builder itself is single-use.
type Builder struct {
	// Workdir is the per-dispatch scratch directory.
	Workdir string
	// ModuleRoot is the directory the build commands run in. HandlerPkg
	// resolves against the module found there, not against whatever
	// directory the process happened to start in.
	ModuleRoot string
	// HandlerPkg is the Go package path compiled into the bootstrap.
	HandlerPkg string
	// GOARCH is the Lambda target architecture (arm64 or amd64).
	GOARCH string
	// ArchiveName is the output archive file name.
	ArchiveName string

	// run executes one build command; replaceable in tests.
	run func(cmd *exec.Cmd) error
}

// NewBuilder constructs a builder for one dispatch.
func NewBuilder(workdir, moduleRoot, handlerPkg, goarch, archiveName string) *Builder {
	return &Builder{
		Workdir:     workdir,
		ModuleRoot:  moduleRoot,
		HandlerPkg:  handlerPkg,
		GOARCH:      goarch,
		ArchiveName: archiveName,
		run:         func(cmd *exec.Cmd) error { return cmd.Run() },
	}
}

// Build resets the target directory, runs the fixed build steps as checked
// external-process invocations, compresses the result, and returns the local
// archive path. No remote state is touched; local scratch cleanup belongs to
// the lifecycle controller.
func (b *Builder) Build(ctx context.Context) (string, error) {
	target := filepath.Join(b.Workdir, "package")
	if err := os.RemoveAll(target); err != nil {
		return "", fmt.Errorf("reset package dir: %w", err)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("create package dir: %w", err)
	}

	bootstrap := filepath.Join(target, bootstrapName)
	steps := [][]string{
		{"go", "mod", "download"},
		{"go", "build", "-trimpath", "-tags", "lambda.norpc", "-o", bootstrap, b.HandlerPkg},
	}
	env := append(os.Environ(), "CGO_ENABLED=0", "GOOS=linux", "GOARCH="+b.GOARCH)
	for _, step := range steps {
		if err := b.runStep(ctx, step, env); err != nil {
			return "", err
		}
	}

	archive := filepath.Join(b.Workdir, b.ArchiveName)
	if err := writeArchive(archive, bootstrap); err != nil {
		return "", err
	}
	zap.L().Debug("deployment archive built", zap.String("archive", archive))
	return archive, nil
}

func (b *Builder) runStep(ctx context.Context, args []string, env []string) error {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = b.ModuleRoot
	cmd.Env = env
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := b.run(cmd); err != nil {
		return &InstallError{Step: strings.Join(args, " "), Stderr: stderr.String(), Err: err}
	}
	return nil
}

// writeArchive zips the bootstrap binary with an executable mode so the
// Lambda runtime can run it directly.
func writeArchive(archive, bootstrap string) error {
	out, err := os.Create(archive)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	src, err := os.Open(bootstrap)
	if err != nil {
		zw.Close()
		return fmt.Errorf("open bootstrap: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		zw.Close()
		return fmt.Errorf("stat bootstrap: %w", err)
	}
	hdr := &zip.FileHeader{Name: bootstrapName, Method: zip.Deflate}
	hdr.SetMode(0o755)
	hdr.Modified = info.ModTime()
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		zw.Close()
		return fmt.Errorf("archive entry: %w", err)
	}
	if _, err := io.Copy(w, src); err != nil {
		zw.Close()
		return fmt.Errorf("write archive: %w", err)
	}
	return zw.Close()
}
