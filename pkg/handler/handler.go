// Package handler implements the remote side of a task transfer: the code
// that runs inside the Lambda. It downloads the serialized task, executes
// the registered callable, and uploads either the result or a description of
// the failure. Exactly one store write happens per invocation unless that
// final write itself fails.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/objstore"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/task"
)

// Event is the invocation payload. Field names are the wire contract shared
// with the dispatcher side.
type Event struct {
	BucketName        string `json:"S3_BUCKET_NAME"`
	FuncFilename      string `json:"COVALENT_TASK_FUNC_FILENAME"`
	ResultFilename    string `json:"RESULT_FILENAME"`
	ExceptionFilename string `json:"EXCEPTION_FILENAME"`
}

// MissingFieldError reports a malformed event. Fields are validated one by
// one so the caller learns exactly which one is absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("invocation event missing required field %s", e.Field)
}

// Handler executes tasks delivered through the store.
type Handler struct {
	Store    objstore.Store
	Registry *task.Registry
	// ScratchDir is the guaranteed-writable working directory; /tmp in
	// Lambda.
	ScratchDir string
}

// Handle runs one invocation. Validation failures return immediately; any
// failure while running the task is serialized to the exception key instead
// of being returned, so the dispatcher can observe it through the store.
// The exception upload itself is the last line of defense and is not
// guarded further.
func (h *Handler) Handle(ctx context.Context, ev Event) error {
	switch {
	case ev.BucketName == "":
		return &MissingFieldError{Field: "S3_BUCKET_NAME"}
	case ev.FuncFilename == "":
		return &MissingFieldError{Field: "COVALENT_TASK_FUNC_FILENAME"}
	case ev.ResultFilename == "":
		return &MissingFieldError{Field: "RESULT_FILENAME"}
	case ev.ExceptionFilename == "":
		return &MissingFieldError{Field: "EXCEPTION_FILENAME"}
	}

	if err := h.runTask(ctx, ev); err != nil {
		zap.L().Error("task failed; uploading exception", zap.Error(err))
		desc, mErr := json.Marshal(err.Error())
		if mErr != nil {
			return mErr
		}
		return h.Store.Put(ctx, ev.BucketName, ev.ExceptionFilename, desc)
	}
	return nil
}

func (h *Handler) runTask(ctx context.Context, ev Event) error {
	raw, err := h.Store.Get(ctx, ev.BucketName, ev.FuncFilename)
	if err != nil {
		return fmt.Errorf("download task: %w", err)
	}
	// keep a local copy in scratch, mirroring the transfer layout for
	// post-mortem inspection of the execution environment
	local := filepath.Join(h.ScratchDir, ev.FuncFilename)
	if err := os.WriteFile(local, raw, 0o600); err != nil {
		return fmt.Errorf("write scratch copy: %w", err)
	}

	p, err := task.DecodePayload(raw)
	if err != nil {
		return fmt.Errorf("decode task: %w", err)
	}
	callable, err := h.Registry.Resolve(p.Name)
	if err != nil {
		return err
	}

	value, err := callable.Fn(ctx, p.Args, p.Kwargs)
	if err != nil {
		return err
	}

	out, err := task.EncodeResult(value)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(h.ScratchDir, ev.ResultFilename), out, 0o600); err != nil {
		return fmt.Errorf("write scratch result: %w", err)
	}
	if err := h.Store.Put(ctx, ev.BucketName, ev.ResultFilename, out); err != nil {
		return fmt.Errorf("upload result: %w", err)
	}
	return nil
}
