package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"expenseterminal/internal/types"
)

const defaultCategorizeModel = "gpt-4o-mini"

// OpenAIConfig holds the settings for an OpenAICategorizer.
type OpenAIConfig struct {
	APIKey  types.SecretString
	Model   string
	BaseURL string // tests point this at httptest
	Logger  *slog.Logger
}

// OpenAICategorizer classifies transactions with a chat completion that
// answers in JSON. Requests go through BaseClient as the HTTP transport.
type OpenAICategorizer struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAICategorizer creates a categorizer with the AI retry policy.
func NewOpenAICategorizer(httpClient *http.Client, cfg OpenAIConfig) *OpenAICategorizer {
	base := NewBaseClient(
		httpClient,
		"openai",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    time.Second,
			MaxWait:    10 * time.Second,
		},
		"ExpenseTerminal/1.0",
		WithUpstreamCode(types.ErrCodeUpstreamAI),
		WithLogger(cfg.Logger),
	)
	return NewOpenAICategorizerWithBase(base, cfg)
}

// NewOpenAICategorizerWithBase creates a categorizer on a preconfigured
// BaseClient.
func NewOpenAICategorizerWithBase(base *BaseClient, cfg OpenAIConfig) *OpenAICategorizer {
	oc := openai.DefaultConfig(cfg.APIKey.Unmask())
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Transport: base}

	model := cfg.Model
	if model == "" {
		model = defaultCategorizeModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAICategorizer{
		client: openai.NewClientWithConfig(oc),
		model:  model,
		logger: logger,
	}
}

type categorizeItem struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	Vendor      string `json:"vendor"`
	Description string `json:"description,omitempty"`
	AmountCents int64  `json:"amount_cents"`
}

type categorizeAnswer struct {
	Assignments []struct {
		ID         string `json:"id"`
		Category   string `json:"category"`
		Deductible bool   `json:"deductible"`
	} `json:"assignments"`
}

// Categorize sends txns in one completion. Ids the model invents are
// dropped and categories outside types.ExpenseCategories become "Other".
func (c *OpenAICategorizer) Categorize(ctx context.Context, txns []*types.Transaction) ([]types.CategoryAssignment, error) {
	if len(txns) == 0 {
		return nil, nil
	}

	items := make([]categorizeItem, 0, len(txns))
	known := make(map[string]struct{}, len(txns))
	for _, t := range txns {
		items = append(items, categorizeItem{
			ID:          t.ID,
			Date:        t.Date.Format(time.DateOnly),
			Vendor:      t.Vendor,
			Description: t.Description,
			AmountCents: t.AmountCents,
		})
		known[t.ID] = struct{}{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode categorization prompt", err)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: categorizePrompt()},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
	})
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, types.NewAppError(types.ErrCodeUpstreamAI, "model returned no choices", nil)
	}

	var answer categorizeAnswer
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &answer); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamAI, "model returned malformed JSON", err)
	}

	out := make([]types.CategoryAssignment, 0, len(answer.Assignments))
	for _, a := range answer.Assignments {
		if _, ok := known[a.ID]; !ok {
			c.logger.WarnContext(ctx, "model returned unknown transaction id", "id", a.ID)
			continue
		}
		category := a.Category
		if !types.IsExpenseCategory(category) {
			category = "Other"
		}
		out = append(out, types.CategoryAssignment{
			TransactionID: a.ID,
			Category:      category,
			Deductible:    a.Deductible,
		})
		delete(known, a.ID)
	}
	return out, nil
}

func categorizePrompt() string {
	return fmt.Sprintf(`You categorize small-business bank transactions.
Negative amounts are spending, positive amounts are income.
Allowed categories: %s.
Answer with a JSON object {"assignments":[{"id":"...","category":"...","deductible":true}]} containing one entry per input id.`,
		strings.Join(types.ExpenseCategories, ", "))
}

func wrapOpenAIError(err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return types.NewAppError(types.ErrCodeUpstreamRateLimited, "OpenAI rate limit exceeded", err)
		}
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamAI,
			fmt.Sprintf("OpenAI error (%d): %s", apiErr.HTTPStatusCode, apiErr.Message), err,
			map[string]any{"type": apiErr.Type})
	}
	return types.NewAppError(types.ErrCodeUpstreamAI, "OpenAI request failed", err)
}
