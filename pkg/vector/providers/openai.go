package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/S-Corkum/deepsearch/pkg/models"
	"github.com/S-Corkum/deepsearch/pkg/observability"
)

// OpenAIConfig configures the remote metered embedding provider.
type OpenAIConfig struct {
	APIKey         string
	Endpoint       string
	RequestTimeout time.Duration
	// RateLimitRPM caps outgoing requests per minute against the provider's
	// rate-limit budget.
	RateLimitRPM int
	// MaxTransportRetries bounds the internal retry of transient HTTP
	// failures. This sits below the task boundary; task-level retry stays
	// with the queue.
	MaxTransportRetries int
	RetryDelayBase      time.Duration
	SmallModel          string
	LargeModel          string
}

// OpenAIProvider calls the OpenAI embeddings HTTP API. It enforces the
// configured requests-per-minute budget, trips a circuit breaker on repeated
// transport failures, and maps API errors onto the provider error taxonomy.
type OpenAIProvider struct {
	config     OpenAIConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	models     map[string]ModelInfo
	logger     observability.Logger
}

type openAIRequest struct {
	Input interface{} `json:"input"` // string or []string
	Model string      `json:"model"`
	User  string      `json:"user,omitempty"`
}

type openAIResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

// NewOpenAIProvider creates the remote provider. The API key is required;
// everything else has working defaults.
func NewOpenAIProvider(config OpenAIConfig, logger observability.Logger) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if config.Endpoint == "" {
		config.Endpoint = "https://api.openai.com/v1"
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.RateLimitRPM == 0 {
		config.RateLimitRPM = 1000
	}
	if config.MaxTransportRetries == 0 {
		config.MaxTransportRetries = 3
	}
	if config.RetryDelayBase == 0 {
		config.RetryDelayBase = time.Second
	}
	if config.SmallModel == "" {
		config.SmallModel = "text-embedding-3-small"
	}
	if config.LargeModel == "" {
		config.LargeModel = "text-embedding-3-large"
	}
	if logger == nil {
		logger = observability.NewLogger("vector.providers.openai")
	}

	p := &OpenAIProvider{
		config:     config,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(config.RateLimitRPM)/60.0), config.RateLimitRPM/10+1),
		logger:     logger,
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "openai-embeddings",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	p.models = map[string]ModelInfo{
		config.SmallModel: {
			Name:                 config.SmallModel,
			DisplayName:          "OpenAI Text Embedding 3 Small",
			Dimensions:           1536,
			MaxInputLength:       8191 * 4, // tokens * ~4 chars
			CostCentsPer1KTokens: 0.002,
		},
		config.LargeModel: {
			Name:                 config.LargeModel,
			DisplayName:          "OpenAI Text Embedding 3 Large",
			Dimensions:           3072,
			MaxInputLength:       8191 * 4,
			CostCentsPer1KTokens: 0.013,
		},
		"text-embedding-ada-002": {
			Name:                 "text-embedding-ada-002",
			DisplayName:          "OpenAI Ada v2 (legacy)",
			Dimensions:           1536,
			MaxInputLength:       8191 * 4,
			CostCentsPer1KTokens: 0.01,
		},
	}

	return p, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string { return "OpenAI Embeddings" }

// Type returns the registry type tag.
func (p *OpenAIProvider) Type() string { return TypeOpenAI }

// GenerateEmbedding produces one embedding via the remote API.
func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbedRequest) (*models.Embedding, error) {
	if err := p.validateInput(req.Text, req.Model); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.callWithRetry(ctx, openAIRequest{Input: req.Text, Model: req.Model, User: req.RequestID})
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	mode := req.Mode
	if !mode.Valid() {
		mode = models.ModeOnlineRealtime
	}

	embedding, err := models.NewEmbedding(resp.Data[0].Embedding, resp.Model, mode, elapsed)
	if err != nil {
		return nil, NewInternalError(p.Type(), fmt.Sprintf("invalid embedding in response: %v", err))
	}
	embedding.ModelVersion = "1.0"
	embedding = embedding.WithMetadata(models.NewVectorMetadata(req.Text).WithCost(p.EstimateCost(req.Text, req.Model)))
	return embedding, nil
}

// BatchGenerateEmbeddings embeds several texts in a single API call.
func (p *OpenAIProvider) BatchGenerateEmbeddings(ctx context.Context, req BatchEmbedRequest) ([]*models.Embedding, error) {
	if len(req.Texts) == 0 {
		return nil, NewInvalidInputError(p.Type(), "batch input must not be empty")
	}
	for _, text := range req.Texts {
		if err := p.validateInput(text, req.Model); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := p.callWithRetry(ctx, openAIRequest{Input: req.Texts, Model: req.Model, User: req.RequestID})
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	perItem := elapsed / time.Duration(len(req.Texts))

	mode := req.Mode
	if !mode.Valid() {
		mode = models.ModeOfflineBatch
	}

	if len(resp.Data) != len(req.Texts) {
		return nil, NewInternalError(p.Type(),
			fmt.Sprintf("expected %d embeddings, got %d", len(req.Texts), len(resp.Data)))
	}

	out := make([]*models.Embedding, len(req.Texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, NewInternalError(p.Type(), fmt.Sprintf("embedding index %d out of range", item.Index))
		}
		embedding, err := models.NewEmbedding(item.Embedding, resp.Model, mode, perItem)
		if err != nil {
			return nil, NewInternalError(p.Type(), fmt.Sprintf("invalid embedding in response: %v", err))
		}
		embedding.ModelVersion = "1.0"
		text := req.Texts[item.Index]
		out[item.Index] = embedding.WithMetadata(
			models.NewVectorMetadata(text).WithCost(p.EstimateCost(text, req.Model)))
	}
	return out, nil
}

// SupportedModels lists the configured OpenAI embedding models.
func (p *OpenAIProvider) SupportedModels() []ModelInfo {
	out := make([]ModelInfo, 0, len(p.models))
	for _, m := range p.models {
		out = append(out, m)
	}
	return out
}

// DefaultModel returns the small model; it is the cheapest.
func (p *OpenAIProvider) DefaultModel() string { return p.config.SmallModel }

// SupportsModel reports whether the model is in the configured table.
func (p *OpenAIProvider) SupportsModel(modelName string) bool {
	_, ok := p.models[modelName]
	return ok
}

// ModelDimension returns the vector dimension for a supported model.
func (p *OpenAIProvider) ModelDimension(modelName string) (int, error) {
	m, ok := p.models[modelName]
	if !ok {
		return 0, NewInvalidInputError(p.Type(), fmt.Sprintf("unsupported model %q", modelName))
	}
	return m.Dimensions, nil
}

// MaxInputLength returns the character limit for a supported model.
func (p *OpenAIProvider) MaxInputLength(modelName string) (int, error) {
	m, ok := p.models[modelName]
	if !ok {
		return 0, NewInvalidInputError(p.Type(), fmt.Sprintf("unsupported model %q", modelName))
	}
	return m.MaxInputLength, nil
}

// EstimateCost estimates the cost in cents from a token-count heuristic.
func (p *OpenAIProvider) EstimateCost(text, modelName string) int {
	tokens := estimateTokens(text)
	per1K := 0.002
	if m, ok := p.models[modelName]; ok {
		per1K = m.CostCentsPer1KTokens
	}
	return int(math.Ceil(float64(tokens) / 1000.0 * per1K * 100))
}

// EstimateProcessingTime estimates latency: a network round-trip base plus a
// per-token increment.
func (p *OpenAIProvider) EstimateProcessingTime(text, modelName string) time.Duration {
	tokens := estimateTokens(text)
	return 500*time.Millisecond + time.Duration(tokens/100)*50*time.Millisecond
}

// CheckHealth issues a minimal real embedding request.
func (p *OpenAIProvider) CheckHealth(ctx context.Context) Health {
	_, err := p.doRequest(ctx, openAIRequest{Input: "health check", Model: p.DefaultModel()})
	if err == nil {
		return HealthHealthy
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Code {
		case ErrCodeRateLimit, ErrCodeTimeout:
			return HealthDegraded
		default:
			return HealthUnhealthy
		}
	}
	return HealthUnknown
}

// Warmup primes the HTTP connection pool with a health probe.
func (p *OpenAIProvider) Warmup(ctx context.Context) error {
	if h := p.CheckHealth(ctx); !h.Available() {
		return NewModelUnavailableError(p.Type(), fmt.Sprintf("warmup probe reported %s", h))
	}
	return nil
}

// Shutdown closes idle connections.
func (p *OpenAIProvider) Shutdown(ctx context.Context) error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func (p *OpenAIProvider) validateInput(text, modelName string) error {
	if text == "" {
		return NewInvalidInputError(p.Type(), "input text must not be empty")
	}
	m, ok := p.models[modelName]
	if !ok {
		return NewInvalidInputError(p.Type(), fmt.Sprintf("unsupported model %q", modelName))
	}
	if len(text) > m.MaxInputLength {
		return NewInvalidInputError(p.Type(),
			fmt.Sprintf("input too long: %d chars, model limit %d", len(text), m.MaxInputLength))
	}
	return nil
}

// callWithRetry retries transient transport failures with exponential
// backoff. Non-retryable provider errors abort immediately.
func (p *OpenAIProvider) callWithRetry(ctx context.Context, reqBody openAIRequest) (*openAIResponse, error) {
	var resp *openAIResponse

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(p.config.RetryDelayBase)),
		uint64(p.config.MaxTransportRetries)), ctx)

	operation := func() error {
		r, err := p.doRequest(ctx, reqBody)
		if err != nil {
			if !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *OpenAIProvider) doRequest(ctx context.Context, reqBody openAIRequest) (*openAIResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, NewTimeoutError(p.Type(), fmt.Sprintf("rate limit wait aborted: %v", err))
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.doHTTP(ctx, reqBody)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, NewModelUnavailableError(p.Type(), "circuit breaker open")
		}
		return nil, err
	}
	return result.(*openAIResponse), nil
}

func (p *OpenAIProvider) doHTTP(ctx context.Context, reqBody openAIRequest) (*openAIResponse, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, NewInternalError(p.Type(), fmt.Sprintf("failed to marshal request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, NewInternalError(p.Type(), fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewTimeoutError(p.Type(), err.Error())
		}
		return nil, NewNetworkError(p.Type(), err.Error())
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewNetworkError(p.Type(), fmt.Sprintf("failed to read response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.mapHTTPError(resp, body)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(body, &openAIResp); err != nil {
		return nil, NewInternalError(p.Type(), fmt.Sprintf("failed to parse response: %v", err))
	}
	if len(openAIResp.Data) == 0 {
		return nil, NewInternalError(p.Type(), "no embedding data in response")
	}
	return &openAIResp, nil
}

func (p *OpenAIProvider) mapHTTPError(resp *http.Response, body []byte) *ProviderError {
	message := string(body)
	var errResp openAIErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		if errResp.Error.Code == "insufficient_quota" || errResp.Error.Type == "insufficient_quota" {
			return NewQuotaExceededError(p.Type(), message)
		}
		return NewRateLimitError(p.Type(), message, parseRetryAfter(resp.Header.Get("Retry-After")))
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewAuthenticationError(p.Type(), message)
	case http.StatusBadRequest:
		return NewInvalidInputError(p.Type(), message)
	case http.StatusNotFound:
		return NewModelUnavailableError(p.Type(), message)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return NewTimeoutError(p.Type(), message)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return NewNetworkError(p.Type(), message)
	default:
		err := NewInternalError(p.Type(), message)
		err.StatusCode = resp.StatusCode
		return err
	}
}

func parseRetryAfter(header string) *time.Duration {
	if header == "" {
		return nil
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		d := time.Duration(seconds) * time.Second
		return &d
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return &d
		}
	}
	return nil
}

// estimateTokens approximates the token count: CJK characters weigh roughly
// two tokens, other text averages one token per five characters times 1.3.
func estimateTokens(text string) int {
	var cjk, other int
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			cjk++
		} else {
			other++
		}
	}
	return cjk*2 + int(float64(other/5)*1.3)
}
