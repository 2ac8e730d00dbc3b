// Package provision creates and deletes the remote compute function
// resource. Provisioning failures are fatal to the current task lifecycle;
// retry policy, if any, belongs to the workflow engine above.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"go.uber.org/zap"

	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/poller"
)

// Fixed provisioning constants: the archive carries a compiled bootstrap for
// the provided runtime, so the entry-point symbol is the binary name itself.
const (
	RuntimeID         = "provided.al2023"
	HandlerEntryPoint = "bootstrap"
)

// RoleNotFoundError reports a missing execution role. Roles are provisioned
// out of band; this plugin never creates them.
type RoleNotFoundError struct {
	Role string
	Err  error
}

func (e *RoleNotFoundError) Error() string {
	return fmt.Sprintf("execution role %q not found", e.Role)
}

func (e *RoleNotFoundError) Unwrap() error { return e.Err }

// ProvisionError reports a rejected provisioning operation.
type ProvisionError struct {
	Op   string
	Name string
	Err  error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// LambdaAPI is the subset of the Lambda client the provisioner uses.
type LambdaAPI interface {
	CreateFunction(ctx context.Context, in *lambda.CreateFunctionInput, opts ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error)
	GetFunction(ctx context.Context, in *lambda.GetFunctionInput, opts ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
	DeleteFunction(ctx context.Context, in *lambda.DeleteFunctionInput, opts ...func(*lambda.Options)) (*lambda.DeleteFunctionOutput, error)
}

// IAMAPI is the subset of the IAM client the provisioner uses.
type IAMAPI interface {
	GetRole(ctx context.Context, in *iam.GetRoleInput, opts ...func(*iam.Options)) (*iam.GetRoleOutput, error)
}

// FunctionSpec describes one function resource to create.
type FunctionSpec struct {
	Name       string
	Bucket     string
	ArchiveKey string
	RoleARN    string
	TimeoutS   int
	MemoryMB   int
	GOARCH     string // arm64 or amd64
}

// Provisioner issues the resource calls for one account context.
type Provisioner struct {
	lambda LambdaAPI
	iam    IAMAPI

	// Active-wait bounds. The wait for a created function to leave Pending
	// uses the shared poller so it cannot hang indefinitely.
	ActiveInterval time.Duration
	ActiveTimeout  time.Duration
}

// New constructs a provisioner over the given clients.
func New(lambdaAPI LambdaAPI, iamAPI IAMAPI, activeInterval, activeTimeout time.Duration) *Provisioner {
	return &Provisioner{
		lambda:         lambdaAPI,
		iam:            iamAPI,
		ActiveInterval: activeInterval,
		ActiveTimeout:  activeTimeout,
	}
}

// ResolveExecutionRole looks up the pre-existing role and returns its ARN.
func (p *Provisioner) ResolveExecutionRole(ctx context.Context, roleName string) (string, error) {
	out, err := p.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(roleName)})
	if err != nil {
		var nse *iamtypes.NoSuchEntityException
		if errors.As(err, &nse) {
			return "", &RoleNotFoundError{Role: roleName, Err: err}
		}
		return "", &ProvisionError{Op: "get-role", Name: roleName, Err: err}
	}
	return aws.ToString(out.Role.Arn), nil
}

// CreateFunction issues the create call with the fixed runtime and entry
// point, packaging the archive from the store.
func (p *Provisioner) CreateFunction(ctx context.Context, spec FunctionSpec) error {
	arch := lambdatypes.ArchitectureArm64
	if spec.GOARCH == "amd64" {
		arch = lambdatypes.ArchitectureX8664
	}
	_, err := p.lambda.CreateFunction(ctx, &lambda.CreateFunctionInput{
		FunctionName: aws.String(spec.Name),
		Role:         aws.String(spec.RoleARN),
		Runtime:      lambdatypes.Runtime(RuntimeID),
		Handler:      aws.String(HandlerEntryPoint),
		PackageType:  lambdatypes.PackageTypeZip,
		Code: &lambdatypes.FunctionCode{
			S3Bucket: aws.String(spec.Bucket),
			S3Key:    aws.String(spec.ArchiveKey),
		},
		Timeout:       aws.Int32(int32(spec.TimeoutS)),
		MemorySize:    aws.Int32(int32(spec.MemoryMB)),
		Architectures: []lambdatypes.Architecture{arch},
	})
	if err != nil {
		return &ProvisionError{Op: "create-function", Name: spec.Name, Err: err}
	}
	zap.L().Info("lambda created", zap.String("function", spec.Name))
	return nil
}

// AwaitActive polls the function state until it reaches Active. Invocation
// before Active is meaningless, so setup blocks here. The wait is bounded;
// a function stuck in Pending or ending in Failed surfaces as an error
// instead of hanging the lifecycle.
func (p *Provisioner) AwaitActive(ctx context.Context, name string) error {
	err := poller.Wait(ctx, "function state Active", p.ActiveInterval, p.ActiveTimeout, func(ctx context.Context) (bool, error) {
		out, err := p.lambda.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)})
		if err != nil {
			return false, err
		}
		state := out.Configuration.State
		if state == lambdatypes.StateFailed {
			reason := aws.ToString(out.Configuration.StateReason)
			return false, fmt.Errorf("function entered Failed state: %s", reason)
		}
		return state == lambdatypes.StateActive, nil
	})
	if err != nil {
		return &ProvisionError{Op: "await-active", Name: name, Err: err}
	}
	return nil
}

// DeleteFunction removes the function resource.
func (p *Provisioner) DeleteFunction(ctx context.Context, name string) error {
	_, err := p.lambda.DeleteFunction(ctx, &lambda.DeleteFunctionInput{FunctionName: aws.String(name)})
	if err != nil {
		return &ProvisionError{Op: "delete-function", Name: name, Err: err}
	}
	zap.L().Info("lambda deleted", zap.String("function", name))
	return nil
}
