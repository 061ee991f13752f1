package lambdaaws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Tpgainz/companyatlas/atlas"
)

var ErrFunctionFailed = errors.New("lambda function failed")

type LambdaAPI interface {
	Invoke(ctx context.Context, params *awslambda.InvokeInput, optFns ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error)
}

// AWSConfig loads the default AWS configuration. Static credentials are used
// when both keys are set.
func AWSConfig(ctx context.Context, region, accessKey, secretKey string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{}

	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading aws config: %w", err)
	}

	return cfg, nil
}

func NewS3Client(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg)
}

// Invoker calls the deployed handler synchronously.
type Invoker struct {
	client       LambdaAPI
	functionName string
}

func NewInvoker(client LambdaAPI, functionName string) *Invoker {
	return &Invoker{client: client, functionName: functionName}
}

func NewInvokerFromConfig(cfg aws.Config, functionName string) *Invoker {
	return NewInvoker(awslambda.NewFromConfig(cfg), functionName)
}

func (i *Invoker) Invoke(ctx context.Context, in Input) (atlas.Outcome, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return atlas.Outcome{}, err
	}

	out, err := i.client.Invoke(ctx, &awslambda.InvokeInput{
		FunctionName:   aws.String(i.functionName),
		InvocationType: types.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	if err != nil {
		return atlas.Outcome{}, fmt.Errorf("invoking %s: %w", i.functionName, err)
	}

	if out.FunctionError != nil {
		return atlas.Outcome{}, fmt.Errorf("%w: %s: %s", ErrFunctionFailed, aws.ToString(out.FunctionError), out.Payload)
	}

	var outcome atlas.Outcome
	if err := json.Unmarshal(out.Payload, &outcome); err != nil {
		return atlas.Outcome{}, fmt.Errorf("decoding outcome: %w", err)
	}

	return outcome, nil
}
