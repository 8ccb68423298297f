package neynar

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
)

// APIError ответ API с кодом ошибки.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func newAPIError(status int, body []byte) *APIError {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if len(body) > 0 {
		_ = json.Unmarshal(body, &payload)
	}
	if payload.Message == "" {
		payload.Message = strings.TrimSpace(string(body))
	}
	return &APIError{Status: status, Code: payload.Code, Message: payload.Message}
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d message=%s", e.Status, e.Message)
}

// Retryable сообщает, имеет ли смысл повторять запрос.
// Ошибки авторизации и валидации не повторяются.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Unwrap позволяет сравнивать 404 с domain.ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return domain.ErrNotFound
	}
	return nil
}

type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return "request failed: " + e.err.Error()
}

func (e *transportError) Unwrap() error {
	return e.err
}
