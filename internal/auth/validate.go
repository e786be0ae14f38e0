package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fpang/gemini-image-chat/internal/chat"
	"github.com/fpang/gemini-image-chat/internal/metrics"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// ValidationError represents a specific type of API key validation failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
	Err     error
}

// ValidationErrorType categorizes validation failures.
type ValidationErrorType int

const (
	// ErrTypeNoKey indicates no API key was found.
	ErrTypeNoKey ValidationErrorType = iota
	// ErrTypeInvalidKey indicates the API key is invalid or revoked.
	ErrTypeInvalidKey
	// ErrTypeNetworkError indicates a network connectivity issue.
	ErrTypeNetworkError
	// ErrTypeQuotaExceeded indicates the API quota has been exceeded.
	ErrTypeQuotaExceeded
	// ErrTypeUnknown indicates an unknown error occurred.
	ErrTypeUnknown
)

// metricResult is the Result dimension recorded for each failure type.
func (t ValidationErrorType) metricResult() string {
	switch t {
	case ErrTypeNoKey:
		return "no_key"
	case ErrTypeInvalidKey:
		return "invalid"
	case ErrTypeNetworkError:
		return "network_error"
	case ErrTypeQuotaExceeded:
		return "quota"
	default:
		return "unknown"
	}
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ContentGenerator is the single call used to probe the key.
// *genai.Client's Models field satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ValidateAPIKey verifies the key bound into models with one minimal text
// request. It returns nil if the key works, or a *ValidationError whose Type
// says why it does not.
func ValidateAPIKey(ctx context.Context, models ContentGenerator) error {
	log.Debug().Str("model", chat.ModelValidation).Msg("Validating API key with Gemini API")

	start := time.Now()
	resp, err := models.GenerateContent(ctx, chat.ModelValidation, genai.Text("hi"), nil)
	elapsed := time.Since(start)

	if err != nil {
		valErr := classifyError(err)
		recordValidation(valErr.Type.metricResult(), elapsed)
		return valErr
	}

	if resp == nil || len(resp.Candidates) == 0 {
		log.Warn().Msg("API key validation returned empty response")
		recordValidation("empty_response", elapsed)
		return &ValidationError{
			Type:    ErrTypeUnknown,
			Message: "API returned empty response",
		}
	}

	recordValidation("success", elapsed)
	log.Info().Dur("duration", elapsed).Msg("API key validated successfully")
	return nil
}

func recordValidation(result string, elapsed time.Duration) {
	metrics.New(metrics.Namespace).
		Dimension("Result", result).
		Metric("ApiKeyValidationMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("ApiKeyValidationResult").
		Flush()
}

// messagePattern maps substrings of an error message to a failure type.
type messagePattern struct {
	needles []string
	errType ValidationErrorType
	message string
}

var messagePatterns = []messagePattern{
	{
		needles: []string{"api key not valid", "invalid api key", "api_key_invalid", "permission denied"},
		errType: ErrTypeInvalidKey,
		message: "API key is invalid or has been revoked",
	},
	{
		needles: []string{"quota", "resource exhausted", "rate limit"},
		errType: ErrTypeQuotaExceeded,
		message: "API quota exceeded or rate limited",
	},
	{
		needles: []string{"connection", "network", "timeout", "dial", "no such host", "unreachable"},
		errType: ErrTypeNetworkError,
		message: "Network error - check your internet connection",
	},
}

// classifyError analyzes an error and returns a ValidationError with the appropriate type.
// Structured API errors are classified by status code, everything else by message text.
func classifyError(err error) *ValidationError {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return classifyAPIError(*apiErrPtr, err)
	}

	errLower := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		for _, needle := range p.needles {
			if strings.Contains(errLower, needle) {
				log.Error().Err(err).Msg(p.message)
				return &ValidationError{Type: p.errType, Message: p.message, Err: err}
			}
		}
	}

	log.Error().Err(err).Msg("Unknown error during API validation")
	return &ValidationError{
		Type:    ErrTypeUnknown,
		Message: "Failed to validate API key",
		Err:     err,
	}
}

// classifyAPIError categorizes a Gemini API error by HTTP status code.
func classifyAPIError(apiErr genai.APIError, err error) *ValidationError {
	var errType ValidationErrorType
	var message string

	switch apiErr.Code {
	case 400:
		errType, message = ErrTypeInvalidKey, "Bad request - API key may be malformed"
	case 401, 403:
		errType, message = ErrTypeInvalidKey, "API key is invalid, expired, or lacks permissions"
	case 429:
		errType, message = ErrTypeQuotaExceeded, "API rate limit exceeded - try again later"
	case 500, 502, 503, 504:
		errType, message = ErrTypeNetworkError, "Gemini API server error - try again later"
	default:
		errType, message = ErrTypeUnknown, apiErr.Message
		if message == "" {
			message = "Gemini API error"
		}
	}

	log.Error().Int("code", apiErr.Code).Str("status", apiErr.Status).Msg(message)
	return &ValidationError{Type: errType, Message: message, Err: err}
}

// Hint returns operator guidance for a failure from GetAPIKey or ValidateAPIKey.
func Hint(err error) string {
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		return "Unexpected error during API key setup"
	}
	switch validationErr.Type {
	case ErrTypeNoKey:
		return "No API key configured. Set " + APIKeyEnv + " or add it to a .env file"
	case ErrTypeInvalidKey:
		return "Invalid API key. Please check your API key and try again"
	case ErrTypeNetworkError:
		return "Network error. Please check your internet connection"
	case ErrTypeQuotaExceeded:
		return "API quota exceeded. Please try again later or check your usage limits"
	default:
		return "API key validation failed"
	}
}
