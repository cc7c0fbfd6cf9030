// internal/captcha/gemini.go
package captcha

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/tms-executor/internal/config"
)

const defaultGeminiModel = "gemini-2.0-flash"

// contentGenerator is the slice of genai.Models the recognizer uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiRecognizer reads CAPTCHA images with a Gemini vision model.
type GeminiRecognizer struct {
	models  contentGenerator
	model   string
	timeout time.Duration
	policy  callPolicy
	logger  *zap.Logger
}

// NewGeminiRecognizer initializes the genai client.
func NewGeminiRecognizer(ctx context.Context, cfg config.CaptchaConfig, logger *zap.Logger) (*GeminiRecognizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.APITimeout},
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newGeminiRecognizer(client.Models, cfg, logger), nil
}

func newGeminiRecognizer(models contentGenerator, cfg config.CaptchaConfig, logger *zap.Logger) *GeminiRecognizer {
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiRecognizer{
		models:  models,
		model:   model,
		timeout: cfg.APITimeout,
		policy:  newCallPolicy(cfg),
		logger:  logger.Named("captcha.gemini"),
	}
}

// Recognize sends the image inline with the instruction and returns the raw
// model text. Rate limits and server errors are retried with backoff.
func (g *GeminiRecognizer) Recognize(ctx context.Context, image []byte, instruction string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, "image/png"),
			genai.NewPartFromText(instruction),
		}, genai.RoleUser),
	}
	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0),
		MaxOutputTokens: 32,
	}

	var text string
	err := g.policy.run(ctx, func(ctx context.Context) error {
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}

		start := time.Now()
		resp, err := g.models.GenerateContent(callCtx, g.model, contents, genCfg)
		if err != nil {
			return g.classify(err)
		}
		if resp == nil || len(resp.Candidates) == 0 {
			return backoff.Permanent(errors.New("gemini API returned no candidates"))
		}

		text = resp.Text()
		g.logger.Debug("CAPTCHA recognition complete",
			zap.Duration("duration", time.Since(start)),
			zap.String("model", g.model),
		)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("gemini recognition failed: %w", err)
	}
	return text, nil
}

func (g *GeminiRecognizer) classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return backoff.Permanent(err)
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		g.logger.Warn("Network error during recognition, retrying...", zap.Error(err))
		return err
	}

	g.logger.Warn("Gemini API returned error status", zap.Int("status", code), zap.Error(err))
	if retryableStatus(code) {
		return err
	}
	return backoff.Permanent(err)
}
