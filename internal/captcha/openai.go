// internal/captcha/openai.go
package captcha

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tms-executor/internal/config"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIRecognizer reads CAPTCHA images through an OpenAI compatible chat
// completion endpoint with image input.
type OpenAIRecognizer struct {
	sdk    *openai.Client
	model  string
	policy callPolicy
	logger *zap.Logger
}

// NewOpenAIRecognizer creates the client. cfg.Endpoint overrides the base URL.
func NewOpenAIRecognizer(cfg config.CaptchaConfig, logger *zap.Logger) (*OpenAIRecognizer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api_key is required")
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.APITimeout}

	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gemini") {
		model = defaultOpenAIModel
	}

	return &OpenAIRecognizer{
		sdk:    openai.NewClientWithConfig(clientCfg),
		model:  model,
		policy: newCallPolicy(cfg),
		logger: logger.Named("captcha.openai"),
	}, nil
}

// Recognize sends the image as a data URI alongside the instruction.
func (o *OpenAIRecognizer) Recognize(ctx context.Context, image []byte, instruction string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: instruction},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		Temperature: 0,
		MaxTokens:   32,
	}

	var text string
	err := o.policy.run(ctx, func(ctx context.Context) error {
		resp, err := o.sdk.CreateChatCompletion(ctx, req)
		if err != nil {
			return o.classify(err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(errors.New("openai returned no choices"))
		}
		text = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("openai recognition failed: %w", err)
	}
	return text, nil
}

func (o *OpenAIRecognizer) classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return backoff.Permanent(err)
	}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	code := 0
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	default:
		o.logger.Warn("Network error during recognition, retrying...", zap.Error(err))
		return err
	}

	o.logger.Warn("OpenAI API returned error status", zap.Int("status", code), zap.Error(err))
	if retryableStatus(code) {
		return err
	}
	return backoff.Permanent(err)
}
