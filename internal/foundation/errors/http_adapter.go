package errors

import (
	"encoding/json"
	"log/slog"
	"maps"
	"net/http"
)

var httpStatus = map[ErrorCategory]int{
	CategoryValidation:    http.StatusBadRequest,
	CategoryConfig:        http.StatusBadRequest,
	CategoryAuth:          http.StatusUnauthorized,
	CategoryNotFound:      http.StatusNotFound,
	CategoryAlreadyExists: http.StatusConflict,
	CategoryNetwork:       http.StatusBadGateway,
	CategoryProtocol:      http.StatusBadGateway,
	CategoryGit:           http.StatusBadGateway,
	CategoryDaemon:        http.StatusServiceUnavailable,
	CategoryRuntime:       http.StatusServiceUnavailable,
}

// HTTPErrorAdapter writes errors from the daemon's HTTP endpoints as JSON.
type HTTPErrorAdapter struct {
	logger *slog.Logger
}

func NewHTTPErrorAdapter(logger *slog.Logger) *HTTPErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPErrorAdapter{logger: logger}
}

// HTTPErrorResponse is the JSON body of an error reply.
type HTTPErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// StatusCodeFor maps the error category to a status code. Anything not listed is a 500.
func (a *HTTPErrorAdapter) StatusCodeFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if c, ok := AsClassified(err); ok {
		if code, ok := httpStatus[c.Category()]; ok {
			return code
		}
	}
	return http.StatusInternalServerError
}

// FormatErrorResponse builds the reply body. Context fields become details.
func (a *HTTPErrorAdapter) FormatErrorResponse(err error) HTTPErrorResponse {
	if err == nil {
		return HTTPErrorResponse{}
	}
	c, ok := AsClassified(err)
	if !ok {
		return HTTPErrorResponse{Error: err.Error()}
	}
	resp := HTTPErrorResponse{Error: c.Message(), Code: string(c.Category())}
	if len(c.Context()) > 0 {
		resp.Details = maps.Clone(map[string]any(c.Context()))
	}
	if c.RetryStrategy() != RetryNever {
		resp.Retryable = true
		if resp.Details == nil {
			resp.Details = map[string]any{}
		}
		resp.Details["retryable"] = true
	}
	return resp
}

// WriteErrorResponse writes the status and JSON body and logs the error at
// its severity.
func (a *HTTPErrorAdapter) WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	status := a.StatusCodeFor(err)
	body, jerr := json.Marshal(a.FormatErrorResponse(err))
	if jerr != nil {
		body = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)

	level := slog.LevelError
	if c, ok := AsClassified(err); ok {
		level = levelFor(c.Severity())
	}
	a.logger.Log(r.Context(), level, "HTTP request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()))
}
