// Package executor implements the per-task execution lifecycle:
// setup (provision remote compute) -> run (serialize, upload, invoke, poll,
// fetch) -> teardown (delete provisioned resources). One Executor owns one
// task; the host workflow engine runs many lifecycles concurrently, each on
// its own goroutine, sharing only the bounded blocking-call pool.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"go.uber.org/zap"

	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/config"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/deploypkg"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/handler"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/objstore"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/poller"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/provision"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/task"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/transport"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/workpool"
)

// State of one task lifecycle. Transitions are strictly sequential:
// Created -> Setup -> Running -> Succeeded|Failed -> TornDown.
type State int

const (
	StateCreated State = iota
	StateSetup
	StateRunning
	StateSucceeded
	StateFailed
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSetup:
		return "setup"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateTornDown:
		return "torn-down"
	default:
		return "unknown"
	}
}

// RemoteTaskError means the user's task raised inside the remote handler.
// Description is the remote exception's string form, fetched from the
// exception transfer object.
type RemoteTaskError struct {
	Task        task.Metadata
	Description string
}

func (e *RemoteTaskError) Error() string {
	return fmt.Sprintf("task %s failed remotely: %s", e.Task, e.Description)
}

// NotSupportedError rejects operations this design cannot honor.
type NotSupportedError struct {
	Op string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("%s is not supported by the lambda executor", e.Op)
}

// LambdaAPI is the union of the Lambda client surface the lifecycle needs.
// *lambda.Client satisfies it.
type LambdaAPI interface {
	provision.LambdaAPI
	transport.InvokeAPI
}

// Executor drives one task lifecycle.
type Executor struct {
	cfg   *config.Config
	store objstore.Store
	prov  *provision.Provisioner
	trans *transport.Transport
	pool  *workpool.Pool

	// workdirRoot is the configured default workdir parent (CacheDir);
	// a per-call results dir overrides it through Setup, never here.
	workdirRoot string

	mu      sync.Mutex
	state   State
	meta    task.Metadata
	workdir string

	// buildArchive builds the deployment archive; replaceable in tests.
	buildArchive func(ctx context.Context, workdir string, meta task.Metadata) (string, error)
}

// New wires an executor over explicit backend clients. Every store and SDK
// round trip is routed through a bounded pool so concurrent lifecycles
// cannot exhaust the process; pass a shared pool to bound them globally, or
// nil to give this executor its own.
func New(cfg *config.Config, store objstore.Store, lambdaAPI LambdaAPI, iamAPI provision.IAMAPI, pool *workpool.Pool) *Executor {
	if pool == nil {
		pool = workpool.New(cfg.WorkerPoolSize)
	}
	bounded := objstore.Bounded(store, pool)
	blam := &boundedLambda{api: lambdaAPI, pool: pool}
	biam := &boundedIAM{api: iamAPI, pool: pool}

	e := &Executor{
		cfg:   cfg,
		store: bounded,
		prov: provision.New(blam, biam,
			msToDuration(cfg.Poll.ActiveIntervalMS),
			secToDuration(cfg.Poll.ActiveTimeoutS)),
		trans:       transport.New(bounded, blam, cfg.AWS.S3Bucket, cfg.Lambda.InvocationType),
		pool:        pool,
		workdirRoot: cfg.CacheDir,
		state:       StateCreated,
	}
	e.buildArchive = func(ctx context.Context, workdir string, meta task.Metadata) (string, error) {
		b := deploypkg.NewBuilder(workdir, cfg.Build.ModuleRoot, cfg.Build.HandlerPkg, cfg.Build.GOARCH, meta.ArchiveKey())
		var archive string
		err := pool.Do(ctx, func() error {
			var err error
			archive, err = b.Build(ctx)
			return err
		})
		return archive, err
	}
	return e
}

// NewFromAWS builds the real AWS clients from the immutable plugin
// configuration. Process environment is never mutated; credentials file,
// profile, and region are threaded explicitly.
func NewFromAWS(ctx context.Context, cfg *config.Config, pool *workpool.Pool) (*Executor, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(cfg,
		objstore.NewS3(s3Client(awsCfg)),
		lambda.NewFromConfig(awsCfg),
		iam.NewFromConfig(awsCfg),
		pool), nil
}

// Setup provisions everything the run needs: the per-dispatch working
// directory, the deployment archive, and an Active remote function. root
// overrides the configured cache dir as the workdir parent when non-empty.
// Any failure aborts before Running; teardown is still owed by the caller,
// the controller does not tear down on its own here.
func (e *Executor) Setup(ctx context.Context, meta task.Metadata, root string) error {
	if root == "" {
		root = e.workdirRoot
	}
	e.mu.Lock()
	if e.state != StateCreated {
		st := e.state
		e.mu.Unlock()
		return fmt.Errorf("task %s: setup in state %s", meta, st)
	}
	e.meta = meta
	e.workdir = meta.Workdir(root)
	e.mu.Unlock()

	if err := e.setup(ctx); err != nil {
		return fmt.Errorf("task %s: setup: %w", meta, err)
	}
	e.setState(StateSetup)
	return nil
}

func (e *Executor) setup(ctx context.Context) error {
	if _, err := os.Stat(e.workdir); os.IsNotExist(err) {
		if err := os.MkdirAll(e.workdir, 0o755); err != nil {
			return fmt.Errorf("create workdir: %w", err)
		}
	}

	archive, err := e.buildArchive(ctx, e.workdir, e.meta)
	if err != nil {
		return err
	}
	b, err := os.ReadFile(archive)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	if err := e.store.Put(ctx, e.cfg.AWS.S3Bucket, e.meta.ArchiveKey(), b); err != nil {
		return err
	}
	zap.L().Info("deployment archive uploaded",
		zap.String("task", e.meta.String()), zap.String("key", e.meta.ArchiveKey()))

	arn, err := e.prov.ResolveExecutionRole(ctx, e.cfg.Lambda.RoleName)
	if err != nil {
		return err
	}
	if err := e.prov.CreateFunction(ctx, provision.FunctionSpec{
		Name:       e.meta.FunctionName(),
		Bucket:     e.cfg.AWS.S3Bucket,
		ArchiveKey: e.meta.ArchiveKey(),
		RoleARN:    arn,
		TimeoutS:   e.cfg.Lambda.TimeoutS,
		MemoryMB:   e.cfg.Lambda.MemoryMB,
		GOARCH:     e.cfg.Build.GOARCH,
	}); err != nil {
		return err
	}
	return e.prov.AwaitActive(ctx, e.meta.FunctionName())
}

// Run executes the task remotely and returns its value. The which-key-
// appeared outcome of the poll distinguishes a successful task from one
// that raised: the exception object becomes a RemoteTaskError.
func (e *Executor) Run(ctx context.Context, fn task.Callable, args []any, kwargs map[string]any) (any, error) {
	e.mu.Lock()
	if e.state != StateSetup {
		st := e.state
		e.mu.Unlock()
		return nil, fmt.Errorf("task %s: run in state %s", e.meta, st)
	}
	e.state = StateRunning
	e.mu.Unlock()

	value, err := e.run(ctx, fn, args, kwargs)
	if err != nil {
		e.setState(StateFailed)
		var rte *RemoteTaskError
		if errors.As(err, &rte) {
			return nil, err
		}
		return nil, fmt.Errorf("task %s: run: %w", e.meta, err)
	}
	e.setState(StateSucceeded)
	return value, nil
}

func (e *Executor) run(ctx context.Context, fn task.Callable, args []any, kwargs map[string]any) (any, error) {
	meta := e.meta
	payload := task.Payload{Name: fn.Name, Args: args, Kwargs: kwargs}
	if err := transport.WriteTaskFile(e.workdir, meta.FuncKey(), payload); err != nil {
		return nil, err
	}
	if err := e.trans.UploadFunctionPayload(ctx, e.workdir, meta.FuncKey()); err != nil {
		return nil, err
	}

	if err := e.trans.Invoke(ctx, meta.FunctionName(), handler.Event{
		BucketName:        e.cfg.AWS.S3Bucket,
		FuncFilename:      meta.FuncKey(),
		ResultFilename:    meta.ResultKey(),
		ExceptionFilename: meta.ExceptionKey(),
	}); err != nil {
		// invocation-level failures (FunctionError marker) are fatal
		// without polling: no transfer object will ever appear
		return nil, err
	}

	matched, err := poller.FirstExisting(ctx, e.store, e.cfg.AWS.S3Bucket,
		[]string{meta.ResultKey(), meta.ExceptionKey()},
		secToDuration(e.cfg.Poll.IntervalS), secToDuration(e.cfg.Poll.TimeoutS))
	if err != nil {
		return nil, err
	}

	if matched == meta.ExceptionKey() {
		desc, dErr := e.trans.DownloadException(ctx, e.workdir, meta.ExceptionKey())
		if dErr != nil {
			return nil, dErr
		}
		return nil, &RemoteTaskError{Task: meta, Description: desc}
	}
	return e.trans.DownloadResult(ctx, e.workdir, meta.ResultKey())
}

// Teardown deletes what setup and run left behind, when cleanup is enabled.
// Deletes are best effort: every object is attempted and failures are
// collected, so one stuck object does not orphan the rest. With cleanup
// disabled nothing is touched, remote or local.
func (e *Executor) Teardown(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateTornDown {
		e.mu.Unlock()
		return nil
	}
	meta := e.meta
	workdir := e.workdir
	e.mu.Unlock()

	if !e.cfg.Cleanup {
		zap.L().Info("cleanup disabled; leaving resources in place", zap.String("task", meta.String()))
		e.setState(StateTornDown)
		return nil
	}

	var errs []error
	for _, key := range []string{meta.FuncKey(), meta.ResultKey(), meta.ExceptionKey(), meta.ArchiveKey()} {
		if err := e.store.Delete(ctx, e.cfg.AWS.S3Bucket, key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.prov.DeleteFunction(ctx, meta.FunctionName()); err != nil {
		errs = append(errs, err)
	}
	if workdir != "" {
		if err := os.RemoveAll(workdir); err != nil {
			errs = append(errs, err)
		}
	}
	e.setState(StateTornDown)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("task %s: teardown: %w", meta, err)
	}
	return nil
}

// Execute is the workflow-engine boundary: one full lifecycle for one task.
// The returned stdout/stderr are placeholders in the engine's calling
// convention; remote console output is not captured by this plugin.
func (e *Executor) Execute(ctx context.Context, fn task.Callable, args []any, kwargs map[string]any, dispatchID, resultsDir string, nodeID int) (any, string, string, error) {
	meta := task.Metadata{DispatchID: dispatchID, NodeID: nodeID}

	if err := e.Setup(ctx, meta, resultsDir); err != nil {
		// teardown after a failed setup is owed to the caller; the
		// engine owns that policy
		return nil, "", "", err
	}

	value, runErr := e.Run(ctx, fn, args, kwargs)
	tdErr := e.Teardown(ctx)
	if runErr != nil {
		if tdErr != nil {
			zap.L().Warn("teardown after failed run also failed",
				zap.String("task", meta.String()), zap.Error(tdErr))
		}
		return nil, "", "", runErr
	}
	if tdErr != nil {
		return nil, "", "", tdErr
	}
	return value, "", "", nil
}

// Cancel always fails: once invoked, the remote compute unit cannot be
// cooperatively interrupted by this design.
func (e *Executor) Cancel(ctx context.Context) error {
	return &NotSupportedError{Op: "cancel"}
}

// State reports the lifecycle state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Executor) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}
