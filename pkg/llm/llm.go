// Package llm provides completion backends for an agency: OpenAI-compatible
// chat APIs, AWS Bedrock, and local mocks, plus wrappers that add circuit
// breaking, rate limiting and instrumentation to any agent.Backend.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aixgo-dev/agency/agent"
)

// Provider names accepted by New.
const (
	ProviderOpenAI  = "openai"
	ProviderBedrock = "bedrock"
	ProviderEcho    = "echo"
)

// Config selects and configures a backend.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	// BaseURL overrides the OpenAI endpoint (OpenAI-compatible servers).
	BaseURL string
	// Region is the AWS region for Bedrock.
	Region string
	// Timeout bounds a single HTTP request to the provider.
	Timeout time.Duration
	// MaxRetries is the number of attempts for retryable provider errors.
	MaxRetries int

	// RequestsPerSecond limits outgoing calls (0 = unlimited).
	RequestsPerSecond float64
	Burst             int

	CircuitBreaker BreakerConfig
}

// ProviderError represents a provider-specific error.
type ProviderError struct {
	Provider    string
	Code        string
	Message     string
	StatusCode  int
	IsRetryable bool
	Err         error
}

func (e *ProviderError) Error() string {
	return e.Provider + " error: " + e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Error codes
const (
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeAuthentication = "authentication_error"
	ErrorCodeRateLimit      = "rate_limit_exceeded"
	ErrorCodeServerError    = "server_error"
	ErrorCodeTimeout        = "timeout"
	ErrorCodeModelNotFound  = "model_not_found"
	ErrorCodeEmptyResponse  = "empty_response"
	ErrorCodeUnknown        = "unknown_error"
)

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, err error) *ProviderError {
	return &ProviderError{
		Provider:    provider,
		Code:        code,
		Message:     message,
		Err:         err,
		IsRetryable: isRetryableCode(code),
	}
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrorCodeRateLimit, ErrorCodeServerError, ErrorCodeTimeout:
		return true
	}
	return false
}

func codeForStatus(status int) string {
	switch {
	case status == 400:
		return ErrorCodeInvalidRequest
	case status == 401 || status == 403:
		return ErrorCodeAuthentication
	case status == 404:
		return ErrorCodeModelNotFound
	case status == 429:
		return ErrorCodeRateLimit
	case status >= 500:
		return ErrorCodeServerError
	}
	return ErrorCodeUnknown
}

// New builds the backend named by cfg.Provider and wraps it with
// instrumentation, the optional rate limit and the circuit breaker.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (agent.Backend, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var (
		backend agent.Backend
		err     error
	)
	name := strings.ToLower(cfg.Provider)
	switch name {
	case "", ProviderOpenAI:
		name = ProviderOpenAI
		backend, err = NewOpenAI(cfg)
	case ProviderBedrock:
		backend, err = NewBedrock(ctx, cfg)
	case ProviderEcho:
		backend = Echo()
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	backend = WithInstrumentation(backend, name)
	if cfg.RequestsPerSecond > 0 {
		backend = WithRateLimit(backend, cfg.RequestsPerSecond, cfg.Burst)
	}
	if !cfg.CircuitBreaker.Disabled && name != ProviderEcho {
		backend = WithCircuitBreaker(backend, name, cfg.CircuitBreaker, logger)
	}
	return backend, nil
}

func systemPrompt(p agent.Profile) string {
	if p.Instructions != "" {
		return p.Instructions
	}
	if p.Description != "" {
		return fmt.Sprintf("You are %s. %s", p.Name, p.Description)
	}
	return ""
}

// retry calls fn until it succeeds, fails with a non-retryable error or
// attempts run out. Backoff doubles from base.
func retry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := base << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var pe *ProviderError
		if !errors.As(lastErr, &pe) || !pe.IsRetryable {
			return lastErr
		}
	}
	return lastErr
}
