package executor

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/config"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/provision"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/workpool"
)

// loadAWSConfig resolves the SDK configuration from the plugin's own
// settings, explicitly, instead of mutating the process environment.
func loadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	if c.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.Profile))
	}
	if c.CredentialsFile != "" {
		opts = append(opts, awsconfig.WithSharedCredentialsFiles([]string{c.CredentialsFile}))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

func s3Client(cfg aws.Config) *s3.Client { return s3.NewFromConfig(cfg) }

// boundedLambda routes every Lambda round trip through the shared pool, the
// same way the bounded store does for S3, so active-state sweeps and
// invocations count against the process-wide budget too.
type boundedLambda struct {
	api  LambdaAPI
	pool *workpool.Pool
}

func (b *boundedLambda) CreateFunction(ctx context.Context, in *lambda.CreateFunctionInput, opts ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error) {
	var out *lambda.CreateFunctionOutput
	err := b.pool.Do(ctx, func() error {
		var err error
		out, err = b.api.CreateFunction(ctx, in, opts...)
		return err
	})
	return out, err
}

func (b *boundedLambda) GetFunction(ctx context.Context, in *lambda.GetFunctionInput, opts ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error) {
	var out *lambda.GetFunctionOutput
	err := b.pool.Do(ctx, func() error {
		var err error
		out, err = b.api.GetFunction(ctx, in, opts...)
		return err
	})
	return out, err
}

func (b *boundedLambda) DeleteFunction(ctx context.Context, in *lambda.DeleteFunctionInput, opts ...func(*lambda.Options)) (*lambda.DeleteFunctionOutput, error) {
	var out *lambda.DeleteFunctionOutput
	err := b.pool.Do(ctx, func() error {
		var err error
		out, err = b.api.DeleteFunction(ctx, in, opts...)
		return err
	})
	return out, err
}

func (b *boundedLambda) Invoke(ctx context.Context, in *lambda.InvokeInput, opts ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	var out *lambda.InvokeOutput
	err := b.pool.Do(ctx, func() error {
		var err error
		out, err = b.api.Invoke(ctx, in, opts...)
		return err
	})
	return out, err
}

type boundedIAM struct {
	api  provision.IAMAPI
	pool *workpool.Pool
}

func (b *boundedIAM) GetRole(ctx context.Context, in *iam.GetRoleInput, opts ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	var out *iam.GetRoleOutput
	err := b.pool.Do(ctx, func() error {
		var err error
		out, err = b.api.GetRole(ctx, in, opts...)
		return err
	})
	return out, err
}

func msToDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
func secToDuration(s int) time.Duration { return time.Duration(s) * time.Second }
