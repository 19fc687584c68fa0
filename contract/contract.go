package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/vetbox/sandbox"
)

// ViolationType classifies a contract violation
type ViolationType string

// Violation type constants
const (
	MissingEndpoint ViolationType = "missing_endpoint"
	SchemaMismatch  ViolationType = "schema_mismatch"
	WrongStatusCode ViolationType = "wrong_status_code"
	MissingField    ViolationType = "missing_field"
)

// Violation is a single divergence between implementation and contract
type Violation struct {
	Endpoint string           `json:"endpoint"`
	Method   string           `json:"method"`
	Type     ViolationType    `json:"type"`
	Expected string           `json:"expected"`
	Actual   string           `json:"actual"`
	Severity sandbox.Severity `json:"severity"`
}

// ValidationResult is the outcome of validating against one spec URL
type ValidationResult struct {
	Validator      string      `json:"validator"`
	SpecURL        string      `json:"spec_url"`
	TotalEndpoints int         `json:"total_endpoints"`
	Validated      int         `json:"validated"`
	Violations     []Violation `json:"violations"`
	Passed         bool        `json:"passed"`
}

// Validator checks an implementation against its declared contract
type Validator interface {
	Validate(ctx context.Context, taskID, specURL string) (ValidationResult, error)
}

// ErrNoValidator is returned when no validator endpoint is configured
var ErrNoValidator = errors.New("no contract validator configured")

// HTTPValidator implements Validator against a remote validator service.
// It POSTs the task id and spec URL and decodes the service's result.
type HTTPValidator struct {
	logger  *zap.Logger
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPValidator creates an HTTPValidator for the given service URL
func NewHTTPValidator(logger *zap.Logger, url string, timeout time.Duration) *HTTPValidator {
	return &HTTPValidator{
		logger:  logger,
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// validateRequest is the wire shape sent to the validator service
type validateRequest struct {
	TaskID  string `json:"task_id"`
	SpecURL string `json:"spec_url"`
}

// Validate asks the remote service to validate the task's implementation
// against the contract at specURL. Tasks without a spec URL validate clean.
func (v *HTTPValidator) Validate(ctx context.Context, taskID, specURL string) (ValidationResult, error) {
	if specURL == "" {
		return ValidationResult{
			Validator: "none",
			Passed:    true,
		}, nil
	}
	if v.url == "" {
		return ValidationResult{}, ErrNoValidator
	}

	body, err := json.Marshal(validateRequest{TaskID: taskID, SpecURL: specURL})
	if err != nil {
		return ValidationResult{}, fmt.Errorf("encoding validation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return ValidationResult{}, fmt.Errorf("building validation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("contract validator unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ValidationResult{}, fmt.Errorf("contract validator returned status %d", resp.StatusCode)
	}

	var result ValidationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ValidationResult{}, fmt.Errorf("decoding validation result: %w", err)
	}

	v.logger.Debug("contract validation complete",
		zap.String("task_id", taskID),
		zap.String("spec_url", specURL),
		zap.Int("violations", len(result.Violations)))

	return result, nil
}
