package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/config"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/handler"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/objstore"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/provision"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/task"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/transport"
)

// fakeLambda plays the remote side: Invoke runs the real handler inline
// against the same in-memory store, so the full lifecycle round-trips through
// the actual transfer objects.
type fakeLambda struct {
	store    *objstore.Mem
	registry *task.Registry
	scratch  string

	// invokeMarker, when set, makes Invoke return a FunctionError response.
	invokeMarker string
	// pendingGets makes the function report Pending that many times first.
	pendingGets int
	// deleteErr, when set, fails every DeleteFunction call.
	deleteErr error

	gets    int
	created []string
	deleted []string
}

func (f *fakeLambda) CreateFunction(ctx context.Context, in *lambda.CreateFunctionInput, opts ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error) {
	f.created = append(f.created, aws.ToString(in.FunctionName))
	return &lambda.CreateFunctionOutput{}, nil
}

func (f *fakeLambda) GetFunction(ctx context.Context, in *lambda.GetFunctionInput, opts ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error) {
	f.gets++
	state := lambdatypes.StateActive
	if f.gets <= f.pendingGets {
		state = lambdatypes.StatePending
	}
	return &lambda.GetFunctionOutput{
		Configuration: &lambdatypes.FunctionConfiguration{State: state},
	}, nil
}

func (f *fakeLambda) DeleteFunction(ctx context.Context, in *lambda.DeleteFunctionInput, opts ...func(*lambda.Options)) (*lambda.DeleteFunctionOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.FunctionName))
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &lambda.DeleteFunctionOutput{}, nil
}

func (f *fakeLambda) Invoke(ctx context.Context, in *lambda.InvokeInput, opts ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	if f.invokeMarker != "" {
		return &lambda.InvokeOutput{
			StatusCode:    200,
			FunctionError: aws.String(f.invokeMarker),
			Payload:       []byte(`{"errorMessage":"bootstrap crashed"}`),
		}, nil
	}
	var ev handler.Event
	if err := json.Unmarshal(in.Payload, &ev); err != nil {
		return nil, err
	}
	h := &handler.Handler{Store: f.store, Registry: f.registry, ScratchDir: f.scratch}
	if err := h.Handle(ctx, ev); err != nil {
		return nil, err
	}
	return &lambda.InvokeOutput{StatusCode: 202}, nil
}

type fakeIAM struct {
	missing bool
}

func (f *fakeIAM) GetRole(ctx context.Context, in *iam.GetRoleInput, opts ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	if f.missing {
		return nil, &iamtypes.NoSuchEntityException{Message: aws.String("no such role")}
	}
	arn := "arn:aws:iam::000000000000:role/" + aws.ToString(in.RoleName)
	return &iam.GetRoleOutput{Role: &iamtypes.Role{Arn: aws.String(arn)}}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.AWS.S3Bucket = "test-bucket"
	cfg.CacheDir = t.TempDir()
	cfg.Poll.IntervalS = 1
	cfg.Poll.TimeoutS = 5
	cfg.Poll.ActiveIntervalMS = 1
	cfg.Poll.ActiveTimeoutS = 1
	return cfg
}

func newTestExecutor(t *testing.T, cfg *config.Config) (*Executor, *objstore.Mem, *fakeLambda) {
	t.Helper()
	m := objstore.NewMem()
	r := task.NewRegistry()
	r.MustRegister("math.double", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return args[0].(int64) * 2, nil
	})
	r.MustRegister("always.fail", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, fmt.Errorf("division by zero")
	})
	fl := &fakeLambda{store: m, registry: r, scratch: t.TempDir()}

	e := New(cfg, m, fl, &fakeIAM{}, nil)
	e.buildArchive = func(ctx context.Context, workdir string, meta task.Metadata) (string, error) {
		p := filepath.Join(workdir, meta.ArchiveKey())
		return p, os.WriteFile(p, []byte("fake archive"), 0o644)
	}
	return e, m, fl
}

func TestExecuteFullLifecycle(t *testing.T) {
	cfg := testConfig(t)
	e, m, fl := newTestExecutor(t, cfg)
	resultsDir := t.TempDir()

	fn := task.Callable{Name: "math.double"}
	v, _, _, err := e.Execute(context.Background(), fn, []any{int64(21)}, nil, "abcd", resultsDir, 0)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if n, ok := v.(int64); !ok || n != 42 {
		t.Fatalf("value = %#v", v)
	}
	if e.State() != StateTornDown {
		t.Fatalf("state = %s", e.State())
	}

	if keys := m.Keys("test-bucket"); len(keys) != 0 {
		t.Fatalf("store not cleaned up: %v", keys)
	}
	if len(fl.created) != 1 || fl.created[0] != "lambda-abcd-0" {
		t.Fatalf("created = %v", fl.created)
	}
	if len(fl.deleted) != 1 || fl.deleted[0] != "lambda-abcd-0" {
		t.Fatalf("deleted = %v", fl.deleted)
	}
	workdir := filepath.Join(resultsDir, "abcd")
	if _, err := os.Stat(workdir); !os.IsNotExist(err) {
		t.Fatalf("workdir not removed: %v", err)
	}
	if e.workdirRoot != cfg.CacheDir {
		t.Fatalf("configured workdir root mutated to %q", e.workdirRoot)
	}
}

func TestExecuteRemoteTaskError(t *testing.T) {
	cfg := testConfig(t)
	e, m, _ := newTestExecutor(t, cfg)

	fn := task.Callable{Name: "always.fail"}
	_, _, _, err := e.Execute(context.Background(), fn, nil, nil, "efgh", t.TempDir(), 3)
	var rte *RemoteTaskError
	if !errors.As(err, &rte) {
		t.Fatalf("expected RemoteTaskError, got %v", err)
	}
	if rte.Description != "division by zero" {
		t.Fatalf("description = %q", rte.Description)
	}
	if rte.Task.DispatchID != "efgh" || rte.Task.NodeID != 3 {
		t.Fatalf("task identity = %+v", rte.Task)
	}
	// teardown still ran after the failed run
	if keys := m.Keys("test-bucket"); len(keys) != 0 {
		t.Fatalf("store not cleaned up: %v", keys)
	}
}

func TestRunInvocationErrorSkipsPolling(t *testing.T) {
	cfg := testConfig(t)
	e, m, fl := newTestExecutor(t, cfg)
	fl.invokeMarker = "Unhandled"

	meta := task.Metadata{DispatchID: "ijkl", NodeID: 0}
	if err := e.Setup(context.Background(), meta, ""); err != nil {
		t.Fatalf("setup: %v", err)
	}
	_, err := e.Run(context.Background(), task.Callable{Name: "math.double"}, []any{int64(1)}, nil)
	var rie *transport.RemoteInvocationError
	if !errors.As(err, &rie) {
		t.Fatalf("expected RemoteInvocationError, got %v", err)
	}
	if got := m.Metrics().Exists; got != 0 {
		t.Fatalf("existence sweeps after invocation failure = %d, want 0", got)
	}
	if e.State() != StateFailed {
		t.Fatalf("state = %s", e.State())
	}
}

func TestTeardownDisabledLeavesEverything(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cleanup = false
	e, m, fl := newTestExecutor(t, cfg)
	resultsDir := t.TempDir()

	fn := task.Callable{Name: "math.double"}
	v, _, _, err := e.Execute(context.Background(), fn, []any{int64(5)}, nil, "mnop", resultsDir, 1)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if n, ok := v.(int64); !ok || n != 10 {
		t.Fatalf("value = %#v", v)
	}

	if got := m.Metrics().Deletes; got != 0 {
		t.Fatalf("store deletes = %d, want 0", got)
	}
	if len(fl.deleted) != 0 {
		t.Fatalf("function deletes = %v, want none", fl.deleted)
	}
	workdir := filepath.Join(resultsDir, "mnop")
	if _, err := os.Stat(workdir); err != nil {
		t.Fatalf("workdir must remain: %v", err)
	}
	// function, archive, and result objects all still present
	if keys := m.Keys("test-bucket"); len(keys) != 3 {
		t.Fatalf("remaining keys = %v", keys)
	}
}

// failingDeleteStore fails Delete for one key and records every attempt.
type failingDeleteStore struct {
	*objstore.Mem
	failKey  string
	attempts []string
}

func (s *failingDeleteStore) Delete(ctx context.Context, bucket, key string) error {
	s.attempts = append(s.attempts, key)
	if key == s.failKey {
		return &objstore.TransferError{Op: "delete", Bucket: bucket, Key: key, Err: errors.New("access denied")}
	}
	return s.Mem.Delete(ctx, bucket, key)
}

func TestTeardownBestEffort(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	m := objstore.NewMem()
	r := task.NewRegistry()
	r.MustRegister("math.double", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return args[0].(int64) * 2, nil
	})
	fl := &fakeLambda{store: m, registry: r, scratch: t.TempDir()}
	fl.deleteErr = errors.New("function busy")

	meta := task.Metadata{DispatchID: "wxyz", NodeID: 0}
	fs := &failingDeleteStore{Mem: m, failKey: meta.FuncKey()}
	e := New(cfg, fs, fl, &fakeIAM{}, nil)
	e.buildArchive = func(ctx context.Context, workdir string, meta task.Metadata) (string, error) {
		p := filepath.Join(workdir, meta.ArchiveKey())
		return p, os.WriteFile(p, []byte("fake archive"), 0o644)
	}
	resultsDir := t.TempDir()

	if err := e.Setup(ctx, meta, resultsDir); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := e.Run(ctx, task.Callable{Name: "math.double"}, []any{int64(2)}, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	err := e.Teardown(ctx)
	if err == nil {
		t.Fatalf("expected teardown error")
	}
	// the failed func-object delete must not stop the remaining deletes
	if len(fs.attempts) != 4 {
		t.Fatalf("delete attempts = %v, want all four objects", fs.attempts)
	}
	if fs.attempts[0] != meta.FuncKey() {
		t.Fatalf("first delete = %q", fs.attempts[0])
	}
	if len(fl.deleted) != 1 || fl.deleted[0] != meta.FunctionName() {
		t.Fatalf("function delete attempts = %v", fl.deleted)
	}
	workdir := filepath.Join(resultsDir, "wxyz")
	if _, statErr := os.Stat(workdir); !os.IsNotExist(statErr) {
		t.Fatalf("workdir not removed: %v", statErr)
	}
	// both failures are collected in the returned error
	var te *objstore.TransferError
	if !errors.As(err, &te) {
		t.Fatalf("store failure not reported: %v", err)
	}
	var pe *provision.ProvisionError
	if !errors.As(err, &pe) {
		t.Fatalf("function delete failure not reported: %v", err)
	}
	if e.State() != StateTornDown {
		t.Fatalf("state = %s", e.State())
	}
}

func TestSetupMissingRole(t *testing.T) {
	cfg := testConfig(t)
	m := objstore.NewMem()
	fl := &fakeLambda{store: m, registry: task.NewRegistry(), scratch: t.TempDir()}
	e := New(cfg, m, fl, &fakeIAM{missing: true}, nil)
	e.buildArchive = func(ctx context.Context, workdir string, meta task.Metadata) (string, error) {
		p := filepath.Join(workdir, meta.ArchiveKey())
		return p, os.WriteFile(p, []byte("fake archive"), 0o644)
	}

	err := e.Setup(context.Background(), task.Metadata{DispatchID: "qrst", NodeID: 0}, "")
	var rnf *provision.RoleNotFoundError
	if !errors.As(err, &rnf) {
		t.Fatalf("expected RoleNotFoundError, got %v", err)
	}
	if len(fl.created) != 0 {
		t.Fatalf("no function may be created without a role, got %v", fl.created)
	}
	if e.State() != StateCreated {
		t.Fatalf("state = %s", e.State())
	}
}

func TestAwaitActiveWaitsThroughPending(t *testing.T) {
	cfg := testConfig(t)
	e, _, fl := newTestExecutor(t, cfg)
	fl.pendingGets = 3

	if err := e.Setup(context.Background(), task.Metadata{DispatchID: "uvwx", NodeID: 0}, ""); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if fl.gets < 4 {
		t.Fatalf("state checks = %d, want at least 4", fl.gets)
	}
}

func TestCancelNotSupported(t *testing.T) {
	e, _, _ := newTestExecutor(t, testConfig(t))
	err := e.Cancel(context.Background())
	var ns *NotSupportedError
	if !errors.As(err, &ns) {
		t.Fatalf("expected NotSupportedError, got %v", err)
	}
}

func TestRunBeforeSetupRejected(t *testing.T) {
	e, _, _ := newTestExecutor(t, testConfig(t))
	if _, err := e.Run(context.Background(), task.Callable{Name: "math.double"}, nil, nil); err == nil {
		t.Fatalf("run must be rejected before setup")
	}
}
