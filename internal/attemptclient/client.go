// Package attemptclient is the HTTP adapter for the Attempt Service API.
// It implements attempt.Service on top of the service's JSON envelope.
package attemptclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/lingua-attempt/internal/attempt"
	"github.com/stemsi/lingua-attempt/internal/model"
	"github.com/stemsi/lingua-attempt/internal/response"
)

// APIError is a non-2xx envelope returned by the service.
type APIError struct {
	Status  int
	Code    response.ErrCode
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("attempt service: %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("attempt service: %d %s: %s", e.Status, e.Code, e.Message)
}

// Is maps service error codes onto the session's sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case attempt.ErrAlreadySubmitted:
		return e.Code == response.ErrAttemptAlreadySubmit
	case attempt.ErrNotActive:
		return e.Code == response.ErrAttemptNotActive
	case attempt.ErrNotAuthenticated:
		return e.Code == response.ErrTokenRequired ||
			e.Code == response.ErrTokenInvalid ||
			e.Code == response.ErrTokenExpired ||
			e.Code == response.ErrSessionReplaced
	case attempt.ErrNotEligible:
		return e.Code == response.ErrAttemptLimitReached
	}
	return false
}

// envelope mirrors response.Response with a typed data field.
type envelope[T any] struct {
	Data  T                   `json:"data"`
	Error *response.ErrorBody `json:"error,omitempty"`
	Meta  response.Metadata   `json:"metadata"`
}

// Client talks to one Attempt Service deployment.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	mu    sync.RWMutex
	token string
}

var _ attempt.Service = (*Client)(nil)

// New creates a Client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "attempt_client").Logger(),
	}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// ─── Auth ─────────────────────────────────────────────────────────────

// Login authenticates a learner and keeps the returned token.
func (c *Client) Login(ctx context.Context, email, password string) (*model.LoginResponse, error) {
	var out model.LoginResponse
	req := model.LoginRequest{Email: email, Password: password}
	if err := do(ctx, c, http.MethodPost, "/api/v1/auth/login", req, &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

// Me returns the authenticated learner.
func (c *Client) Me(ctx context.Context) (*model.Learner, error) {
	var out model.Learner
	if err := do(ctx, c, http.MethodGet, "/api/v1/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ─── attempt.Service ──────────────────────────────────────────────────
// The learner is identified by the token; userID arguments are accepted
// for interface compatibility only.

func (c *Client) CanCreateAttempt(ctx context.Context, _ int, examID uuid.UUID) (*model.Eligibility, error) {
	var out model.Eligibility
	if err := do(ctx, c, http.MethodGet, "/api/v1/learner/exams/"+examID.String()+"/eligibility", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateAttempt(ctx context.Context, req model.CreateAttemptRequest) (*model.Attempt, error) {
	var out model.Attempt
	if err := do(ctx, c, http.MethodPost, "/api/v1/learner/exams/"+req.ExamID.String()+"/attempts", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	var out model.Attempt
	if err := do(ctx, c, http.MethodGet, "/api/v1/learner/attempts/"+attemptID.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	var out model.Exam
	if err := do(ctx, c, http.MethodGet, "/api/v1/learner/exams/"+examID.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SubmitAnswer(ctx context.Context, attemptID uuid.UUID, req model.SubmitAnswerRequest) error {
	return do[json.RawMessage](ctx, c, http.MethodPut, "/api/v1/learner/attempts/"+attemptID.String()+"/answers", req, nil)
}

func (c *Client) SubmitAttempt(ctx context.Context, attemptID uuid.UUID, answers []string) (*model.Attempt, error) {
	var out model.Attempt
	body := model.SubmitAttemptRequest{Answers: answers}
	if err := do(ctx, c, http.MethodPost, "/api/v1/learner/attempts/"+attemptID.String()+"/submit", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetAttemptsByUserAndExam(ctx context.Context, _ int, examID uuid.UUID) ([]model.Attempt, error) {
	var out []model.Attempt
	if err := do(ctx, c, http.MethodGet, "/api/v1/learner/exams/"+examID.String()+"/attempts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetUserStats(ctx context.Context, _ int) (*model.Stats, error) {
	var out model.Stats
	if err := do(ctx, c, http.MethodGet, "/api/v1/learner/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ─── Transport ────────────────────────────────────────────────────────

// do sends body as JSON and decodes the envelope's data into out. A nil out
// discards the data.
func do[T any](ctx context.Context, c *Client, method, path string, body any, out *T) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("Attempt service call")

	var env envelope[T]
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Code: response.ErrInternal}
		if decodeErr == nil && env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Fields = env.Error.Fields
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, decodeErr)
	}
	if env.Error != nil {
		return &APIError{Status: resp.StatusCode, Code: env.Error.Code, Message: env.Error.Message}
	}
	if out != nil {
		*out = env.Data
	}
	return nil
}

// UserMessage returns a message suitable for showing to the learner.
func UserMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return response.GetMessage(apiErr.Code)
	}
	return response.GetMessage(response.ErrInternal)
}
