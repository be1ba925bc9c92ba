package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmMaxBatchSize is the GetParameters per-call limit.
const ssmMaxBatchSize = 10

type ssmClient interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMProvider resolves SecureString parameters from SSM Parameter Store in
// the process's own region.
type SSMProvider struct {
	region   string
	endpoint string

	once    sync.Once
	client  ssmClient
	initErr error
}

// NewSSMProvider creates a provider. endpoint overrides the SSM endpoint for
// LocalStack and is empty in deployed stages. The SDK client is created on
// first use.
func NewSSMProvider(region, endpoint string) *SSMProvider {
	return &SSMProvider{region: region, endpoint: endpoint}
}

func newSSMProviderWithClient(client ssmClient) *SSMProvider {
	p := &SSMProvider{client: client}
	p.once.Do(func() {})
	return p
}

func (p *SSMProvider) ensureClient(ctx context.Context) error {
	p.once.Do(func() {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
		if err != nil {
			p.initErr = fmt.Errorf("loading AWS config for SSM (region=%s): %w", p.region, err)
			return
		}
		p.client = ssm.NewFromConfig(cfg, func(o *ssm.Options) {
			if p.endpoint != "" {
				o.BaseEndpoint = aws.String(p.endpoint)
			}
		})
	})
	return p.initErr
}

// GetParametersBatch fetches paths with decryption, ssmMaxBatchSize at a
// time. Any path SSM reports as invalid fails the whole call.
func (p *SSMProvider) GetParametersBatch(ctx context.Context, paths []string) (map[string]string, error) {
	out := make(map[string]string, len(paths))
	if len(paths) == 0 {
		return out, nil
	}
	if err := p.ensureClient(ctx); err != nil {
		return nil, err
	}

	for start := 0; start < len(paths); start += ssmMaxBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("SSM resolution interrupted: %w", err)
		}
		batch := paths[start:min(start+ssmMaxBatchSize, len(paths))]

		res, err := p.client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          batch,
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("SSM GetParameters failed for %d of %d paths: %w", len(batch), len(paths), err)
		}
		if len(res.InvalidParameters) > 0 {
			return nil, fmt.Errorf("SSM parameters not found: %v", res.InvalidParameters)
		}
		for _, prm := range res.Parameters {
			if prm.Name != nil && prm.Value != nil {
				out[*prm.Name] = *prm.Value
			}
		}
	}
	return out, nil
}
