package config

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SecretProvider resolves a batch of parameter names to plaintext values.
// Names that cannot be found are omitted from the result.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, names []string) (map[string]string, error)
}

// EnvProvider reads parameters straight from the environment, treating the
// parameter name as the variable name. Used for local runs.
type EnvProvider struct{}

func (EnvProvider) GetParametersBatch(_ context.Context, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok {
			out[name] = v
		}
	}
	return out, nil
}

// GetParameters is limited to 10 names per call.
const ssmMaxBatchSize = 10

type ssmAPI interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMProvider resolves SecureString parameters from Parameter Store.
type SSMProvider struct {
	region string
	client ssmAPI
}

// NewSSMProvider creates a provider for region. The SDK client is built on
// first use.
func NewSSMProvider(region string) *SSMProvider {
	return &SSMProvider{region: region}
}

func (p *SSMProvider) GetParametersBatch(ctx context.Context, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	if len(names) == 0 {
		return out, nil
	}
	if p.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config (region=%s): %w", p.region, err)
		}
		p.client = ssm.NewFromConfig(cfg)
	}

	for start := 0; start < len(names); start += ssmMaxBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+ssmMaxBatchSize, len(names))
		resp, err := p.client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          names[start:end],
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("ssm GetParameters: %w", err)
		}
		for _, param := range resp.Parameters {
			out[aws.ToString(param.Name)] = aws.ToString(param.Value)
		}
	}
	return out, nil
}
