// Package transport moves one task and its outcome between the dispatcher
// and the remote function: serialize and upload the payload, trigger the
// invocation, and fetch back whichever transfer object appeared.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"go.uber.org/zap"

	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/handler"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/objstore"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/task"
)

// RemoteInvocationError means the remote environment failed to start or run
// the handler at all (cold-start crash, bad bootstrap). This is an
// invocation-level failure distinct from the user's task raising: no
// transfer object will ever appear, so it surfaces immediately without
// polling.
type RemoteInvocationError struct {
	Function string
	Marker   string
	Detail   string
}

func (e *RemoteInvocationError) Error() string {
	return fmt.Sprintf("remote invocation of %q failed (%s): %s", e.Function, e.Marker, e.Detail)
}

// InvokeAPI is the subset of the Lambda client the transport uses.
type InvokeAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, opts ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Transport carries tasks for one bucket/invocation-type configuration.
type Transport struct {
	store   objstore.Store
	invoker InvokeAPI
	bucket  string
	// invocationType is "Event" or "RequestResponse".
	invocationType string
}

// New constructs a transport.
func New(store objstore.Store, invoker InvokeAPI, bucket, invocationType string) *Transport {
	return &Transport{store: store, invoker: invoker, bucket: bucket, invocationType: invocationType}
}

// WriteTaskFile serializes the payload into the working directory under
// funcKey, the local twin of the transfer object about to be uploaded.
func WriteTaskFile(workdir, funcKey string, p task.Payload) error {
	b, err := p.Encode()
	if err != nil {
		return fmt.Errorf("serialize task: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workdir, funcKey), b, 0o600); err != nil {
		return fmt.Errorf("write task file: %w", err)
	}
	return nil
}

// UploadFunctionPayload reads the locally serialized task and writes it to
// the store under funcKey.
func (t *Transport) UploadFunctionPayload(ctx context.Context, workdir, funcKey string) error {
	b, err := os.ReadFile(filepath.Join(workdir, funcKey))
	if err != nil {
		return fmt.Errorf("read task file: %w", err)
	}
	return t.store.Put(ctx, t.bucket, funcKey, b)
}

// Invoke triggers the remote function with the self-contained event payload.
// A FunctionError marker in the response short-circuits into
// RemoteInvocationError.
func (t *Transport) Invoke(ctx context.Context, functionName string, ev handler.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal invocation payload: %w", err)
	}
	out, err := t.invoker.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(functionName),
		InvocationType: lambdatypes.InvocationType(t.invocationType),
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("invoke %q: %w", functionName, err)
	}
	if marker := aws.ToString(out.FunctionError); marker != "" {
		return &RemoteInvocationError{
			Function: functionName,
			Marker:   marker,
			Detail:   string(out.Payload),
		}
	}
	zap.L().Debug("lambda invoked", zap.String("function", functionName), zap.String("type", t.invocationType))
	return nil
}

// DownloadResult fetches and deserializes the result object, keeping a
// local copy in the working directory.
func (t *Transport) DownloadResult(ctx context.Context, workdir, resultKey string) (any, error) {
	raw, err := t.store.Get(ctx, t.bucket, resultKey)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(workdir, resultKey), raw, 0o600); err != nil {
		return nil, fmt.Errorf("write result file: %w", err)
	}
	return task.DecodeResult(raw)
}

// DownloadException fetches the remote exception description.
func (t *Transport) DownloadException(ctx context.Context, workdir, exceptionKey string) (string, error) {
	raw, err := t.store.Get(ctx, t.bucket, exceptionKey)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(workdir, exceptionKey), raw, 0o600); err != nil {
		return "", fmt.Errorf("write exception file: %w", err)
	}
	var desc string
	if err := json.Unmarshal(raw, &desc); err != nil {
		return "", fmt.Errorf("decode exception description: %w", err)
	}
	return desc, nil
}
