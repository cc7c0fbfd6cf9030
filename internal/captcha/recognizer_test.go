package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/tms-executor/internal/config"
)

func testCaptchaConfig() config.CaptchaConfig {
	return config.CaptchaConfig{
		Provider:        config.ProviderGemini,
		Model:           "test-model",
		APIKey:          "test-api-key",
		APITimeout:      5 * time.Second,
		MaxAttempts:     3,
		MaxRetryElapsed: time.Second,
	}
}

// fastPolicy keeps retry tests from sleeping.
func fastPolicy(retries uint64) callPolicy {
	return callPolicy{
		limiter: newLimiter(0),
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), retries)
		},
	}
}

type fakeGenerator struct {
	mu        sync.Mutex
	calls     int
	model     string
	responses []func() (*genai.GenerateContentResponse, error)
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.model = model
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i]()
}

func textResponse(text string) func() (*genai.GenerateContentResponse, error) {
	return func() (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
		}, nil
	}
}

func apiError(code int) func() (*genai.GenerateContentResponse, error) {
	return func() (*genai.GenerateContentResponse, error) {
		return nil, genai.APIError{Code: code, Message: http.StatusText(code)}
	}
}

func TestGeminiRecognizer(t *testing.T) {
	ctx := context.Background()

	t.Run("returns model text", func(t *testing.T) {
		gen := &fakeGenerator{responses: []func() (*genai.GenerateContentResponse, error){textResponse("Ab12")}}
		r := newGeminiRecognizer(gen, testCaptchaConfig(), zap.NewNop())

		text, err := r.Recognize(ctx, []byte("img"), Instruction)
		require.NoError(t, err)
		assert.Equal(t, "Ab12", text)
		assert.Equal(t, "test-model", gen.model)
	})

	t.Run("retries transient status", func(t *testing.T) {
		gen := &fakeGenerator{responses: []func() (*genai.GenerateContentResponse, error){
			apiError(http.StatusServiceUnavailable),
			apiError(http.StatusTooManyRequests),
			textResponse("xy9"),
		}}
		core, logs := observer.New(zap.WarnLevel)
		r := newGeminiRecognizer(gen, testCaptchaConfig(), zap.New(core))
		r.policy = fastPolicy(5)

		text, err := r.Recognize(ctx, []byte("img"), Instruction)
		require.NoError(t, err)
		assert.Equal(t, "xy9", text)
		assert.Equal(t, 3, gen.calls)
		assert.Equal(t, 2, logs.FilterMessage("Gemini API returned error status").Len())
	})

	t.Run("client errors are permanent", func(t *testing.T) {
		gen := &fakeGenerator{responses: []func() (*genai.GenerateContentResponse, error){apiError(http.StatusBadRequest)}}
		r := newGeminiRecognizer(gen, testCaptchaConfig(), zap.NewNop())
		r.policy = fastPolicy(5)

		_, err := r.Recognize(ctx, []byte("img"), Instruction)
		require.Error(t, err)
		assert.Equal(t, 1, gen.calls)
		var apiErr genai.APIError
		assert.True(t, errors.As(err, &apiErr))
	})

	t.Run("no candidates", func(t *testing.T) {
		gen := &fakeGenerator{responses: []func() (*genai.GenerateContentResponse, error){
			func() (*genai.GenerateContentResponse, error) { return &genai.GenerateContentResponse{}, nil },
		}}
		r := newGeminiRecognizer(gen, testCaptchaConfig(), zap.NewNop())
		r.policy = fastPolicy(5)

		_, err := r.Recognize(ctx, []byte("img"), Instruction)
		assert.ErrorContains(t, err, "no candidates")
		assert.Equal(t, 1, gen.calls)
	})

	t.Run("nil logger", func(t *testing.T) {
		gen := &fakeGenerator{responses: []func() (*genai.GenerateContentResponse, error){
			apiError(http.StatusServiceUnavailable),
			textResponse("q7"),
		}}
		r := newGeminiRecognizer(gen, testCaptchaConfig(), nil)
		r.policy = fastPolicy(2)

		text, err := r.Recognize(ctx, []byte("img"), Instruction)
		require.NoError(t, err)
		assert.Equal(t, "q7", text)
	})

	t.Run("default model", func(t *testing.T) {
		cfg := testCaptchaConfig()
		cfg.Model = ""
		r := newGeminiRecognizer(&fakeGenerator{}, cfg, zap.NewNop())
		assert.Equal(t, defaultGeminiModel, r.model)
	})
}

func TestNewGeminiRecognizerRequiresKey(t *testing.T) {
	cfg := testCaptchaConfig()
	cfg.APIKey = ""
	_, err := NewGeminiRecognizer(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func openAIServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]interface{})) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIRecognizer(t *testing.T) {
	ctx := context.Background()

	t.Run("sends image as data uri", func(t *testing.T) {
		srv := openAIServer(t, func(w http.ResponseWriter, body map[string]interface{}) {
			assert.Equal(t, defaultOpenAIModel, body["model"])
			raw, _ := json.Marshal(body["messages"])
			assert.Contains(t, string(raw), "data:image/png;base64,aW1n")
			assert.Contains(t, string(raw), Instruction)
			_, _ = io.WriteString(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":" K9 m2 "},"finish_reason":"stop"}]}`)
		})

		cfg := testCaptchaConfig()
		cfg.Provider = config.ProviderOpenAI
		cfg.Model = "gemini-2.0-flash"
		cfg.Endpoint = srv.URL
		r, err := NewOpenAIRecognizer(cfg, zap.NewNop())
		require.NoError(t, err)

		text, err := r.Recognize(ctx, []byte("img"), Instruction)
		require.NoError(t, err)
		assert.Equal(t, " K9 m2 ", text)
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := openAIServer(t, func(w http.ResponseWriter, _ map[string]interface{}) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
				return
			}
			_, _ = io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"abc"}}]}`)
		})

		cfg := testCaptchaConfig()
		cfg.Endpoint = srv.URL
		r, err := NewOpenAIRecognizer(cfg, zap.NewNop())
		require.NoError(t, err)
		r.policy = fastPolicy(3)

		text, err := r.Recognize(ctx, []byte("img"), Instruction)
		require.NoError(t, err)
		assert.Equal(t, "abc", text)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("unauthorized is permanent", func(t *testing.T) {
		var calls atomic.Int32
		srv := openAIServer(t, func(w http.ResponseWriter, _ map[string]interface{}) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
		})

		cfg := testCaptchaConfig()
		cfg.Endpoint = srv.URL
		r, err := NewOpenAIRecognizer(cfg, zap.NewNop())
		require.NoError(t, err)
		r.policy = fastPolicy(3)

		_, err = r.Recognize(ctx, []byte("img"), Instruction)
		assert.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestNewRecognizer(t *testing.T) {
	cfg := testCaptchaConfig()
	cfg.Provider = config.ProviderOpenAI
	r, err := NewRecognizer(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &OpenAIRecognizer{}, r)

	cfg.Provider = config.ProviderGemini
	r, err = NewRecognizer(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &GeminiRecognizer{}, r)

	cfg.Provider = "tesseract"
	_, err = NewRecognizer(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "unsupported captcha provider")
}

func TestNewLimiter(t *testing.T) {
	assert.Equal(t, rate.Inf, newLimiter(0).Limit())
	l := newLimiter(120)
	assert.InDelta(t, 2.0, float64(l.Limit()), 0.0001)
	assert.Equal(t, 2, l.Burst())
	assert.Equal(t, 1, newLimiter(10).Burst())
}
