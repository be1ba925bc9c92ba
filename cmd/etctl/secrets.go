package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/spf13/cobra"
)

const (
	ssmOperationTimeout = 15 * time.Second
	// generatedSecretBytes yields a 43 character secret, above the 32
	// character floor the API enforces for AUTH_JWT_SECRET.
	generatedSecretBytes = 32
)

// secret is one SecureString the services read through a NAME_SSM_PARAM
// pointer.
type secret struct {
	Key         string // path below /{env}/expenseterminal/
	EnvVar      string
	Generatable bool
}

var secretInventory = []secret{
	{Key: "database/url", EnvVar: "DATABASE_URL"},
	{Key: "stripe/secret_key", EnvVar: "STRIPE_SECRET_KEY"},
	{Key: "stripe/webhook_secret", EnvVar: "STRIPE_WEBHOOK_SECRET"},
	{Key: "auth/jwt_secret", EnvVar: "AUTH_JWT_SECRET", Generatable: true},
	{Key: "openai/api_key", EnvVar: "OPENAI_API_KEY"},
}

func lookupSecret(key string) (secret, bool) {
	for _, s := range secretInventory {
		if s.Key == key {
			return s, true
		}
	}
	return secret{}, false
}

// SSMClient is the subset of the SSM API the secrets commands use.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

type ssmClientFactory func(ctx context.Context, region, endpoint string) (SSMClient, error)

func newSSMClient(ctx context.Context, region, endpoint string) (SSMClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return ssm.NewFromConfig(cfg, func(o *ssm.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// SecretStore writes and probes parameters under one environment's prefix.
// Values are never logged.
type SecretStore struct {
	client SSMClient
	env    string
	logger *slog.Logger
}

func NewSecretStore(client SSMClient, env string, logger *slog.Logger) *SecretStore {
	return &SecretStore{client: client, env: env, logger: logger}
}

// Path returns /{env}/expenseterminal/{key}, the value to put in the
// matching NAME_SSM_PARAM variable.
func (s *SecretStore) Path(key string) string {
	return fmt.Sprintf("/%s/expenseterminal/%s", s.env, key)
}

// Exists probes without decryption so no kms:Decrypt grant is needed.
func (s *SecretStore) Exists(ctx context.Context, path string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := s.client.GetParameter(opCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking SSM parameter %q: %w", path, err)
	}
	return true, nil
}

// Put writes value as a SecureString.
func (s *SecretStore) Put(ctx context.Context, path, value string, overwrite bool) error {
	if value == "" {
		return fmt.Errorf("value for %q must not be empty", path)
	}

	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := s.client.PutParameter(opCtx, &ssm.PutParameterInput{
		Name:      aws.String(path),
		Value:     aws.String(value),
		Type:      ssmtypes.ParameterTypeSecureString,
		Overwrite: aws.Bool(overwrite),
	})
	if err != nil {
		var exists *ssmtypes.ParameterAlreadyExists
		if errors.As(err, &exists) {
			return fmt.Errorf("SSM parameter %q already exists (pass --overwrite to replace it)", path)
		}
		return fmt.Errorf("writing SSM parameter %q: %w", path, err)
	}

	s.logger.Info("SSM parameter written", "path", path, "value_length", len(value))
	return nil
}

// generateSecret returns a URL-safe random token.
func generateSecret() (string, error) {
	b := make([]byte, generatedSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func newSecretsCmd(newClient ssmClientFactory) *cobra.Command {
	secrets := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the SSM parameters the services resolve at startup",
	}
	secrets.PersistentFlags().String("env", "", "target environment: dev, staging or prod")
	secrets.PersistentFlags().String("region", "us-east-1", "AWS region")
	secrets.PersistentFlags().String("endpoint-url", "", "SSM endpoint override (LocalStack)")
	_ = secrets.MarkPersistentFlagRequired("env")

	status := &cobra.Command{
		Use:   "status",
		Short: "List the expected parameters and whether each is set",
		Args:  cobra.NoArgs,
		RunE: withSecretStore(newClient, func(cmd *cobra.Command, _ []string, store *SecretStore) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ENV VAR\tSSM PATH\tSTATE")
			var missing int
			for _, s := range secretInventory {
				path := store.Path(s.Key)
				ok, err := store.Exists(cmd.Context(), path)
				if err != nil {
					return err
				}
				state := "set"
				if !ok {
					state = "missing"
					missing++
				}
				_, _ = fmt.Fprintf(w, "%s_SSM_PARAM\t%s\t%s\n", s.EnvVar, path, state)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if missing > 0 {
				return fmt.Errorf("%d of %d parameters missing", missing, len(secretInventory))
			}
			return nil
		}),
	}

	put := &cobra.Command{
		Use:   "put KEY",
		Short: "Write one parameter, reading its value from stdin",
		Long: "Put writes KEY (for example stripe/secret_key) as a SecureString. The value\n" +
			"is read from the first line of stdin so it never appears in shell history.\n" +
			"--generate creates a random value for keys that allow it.",
		Args: cobra.ExactArgs(1),
		RunE: withSecretStore(newClient, func(cmd *cobra.Command, args []string, store *SecretStore) error {
			s, ok := lookupSecret(args[0])
			if !ok {
				return fmt.Errorf("unknown key %q", args[0])
			}
			overwrite, _ := cmd.Flags().GetBool("overwrite")
			generate, _ := cmd.Flags().GetBool("generate")

			var value string
			var err error
			switch {
			case generate && !s.Generatable:
				return fmt.Errorf("%s is issued by a third party and cannot be generated", s.Key)
			case generate:
				value, err = generateSecret()
			default:
				value, err = readValue(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}

			path := store.Path(s.Key)
			if err := store.Put(cmd.Context(), path, value, overwrite); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s_SSM_PARAM=%s\n", s.EnvVar, path)
			return nil
		}),
	}
	put.Flags().Bool("overwrite", false, "replace an existing value")
	put.Flags().Bool("generate", false, "generate a random value instead of reading stdin")

	secrets.AddCommand(status, put)
	return secrets
}

func withSecretStore(newClient ssmClientFactory, run func(*cobra.Command, []string, *SecretStore) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		env, _ := cmd.Flags().GetString("env")
		switch env {
		case "dev", "staging", "prod":
		default:
			return fmt.Errorf("invalid --env %q: must be dev, staging or prod", env)
		}
		region, _ := cmd.Flags().GetString("region")
		endpoint, _ := cmd.Flags().GetString("endpoint-url")

		client, err := newClient(cmd.Context(), region, endpoint)
		if err != nil {
			return err
		}
		return run(cmd, args, NewSecretStore(client, env, cliLogger(cmd)))
	}
}

func readValue(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading value: %w", err)
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return "", errors.New("no value on stdin")
	}
	return value, nil
}
