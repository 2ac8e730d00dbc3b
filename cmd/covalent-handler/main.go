// covalent-handler is the binary packaged into the deployment archive as
// `bootstrap`. It runs inside Lambda, receives the invocation event, and
// executes tasks against the transfer bucket.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/handler"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/objstore"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/task"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/task/samples"
)

func main() {
	logger, _ := zap.NewProduction()
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	// Inside Lambda the execution role supplies credentials; nothing is
	// threaded explicitly here.
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Fatal("load aws config", zap.Error(err))
	}

	samples.RegisterAll(task.Default)

	scratch := os.Getenv("COVALENT_SCRATCH_DIR")
	if scratch == "" {
		scratch = "/tmp"
	}

	h := &handler.Handler{
		Store:      objstore.NewS3(s3.NewFromConfig(awsCfg)),
		Registry:   task.Default,
		ScratchDir: scratch,
	}
	lambda.Start(h.Handle)
}
