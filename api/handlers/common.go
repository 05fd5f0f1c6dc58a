// Package handlers implements the REST boundary over the workflow
// orchestrator.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/researchflow/researchflow/types"
)

// Response is the uniform API envelope.
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorInfo is the serialized error payload.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 envelope around data.
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteStatus(w, http.StatusOK, data)
}

// WriteStatus writes a success envelope with an explicit status.
func WriteStatus(w http.ResponseWriter, status int, data interface{}) {
	WriteJSON(w, status, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// WriteError maps any error onto the envelope. Classified errors keep
// their code and message; everything else becomes an internal error.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var te *types.Error
	if !errors.As(err, &te) {
		te = types.NewError(types.ErrInternalError, "internal error").WithCause(err)
	}

	status := te.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(te.Code)
	}

	if logger != nil {
		logger.Warn("API error",
			zap.String("code", string(te.Code)),
			zap.String("message", te.Message),
			zap.Int("status", status),
			zap.Error(te.Cause),
		)
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(te.Code),
			Message:   te.Message,
			Retryable: te.Retryable,
		},
		Timestamp: time.Now().UTC(),
	})
}

// WriteErrorMessage writes a one-off error with an explicit status.
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, types.NewError(code, message).WithHTTPStatus(status), logger)
}

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrValidation, types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrConflict, types.ErrInvalidTransition, types.ErrGateRejected:
		return http.StatusConflict
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrWorkflowCancelled:
		return http.StatusConflict
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	case types.ErrAPI, types.ErrNetwork:
		return http.StatusBadGateway
	case types.ErrResource:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSONBody decodes a JSON request body into dst, rejecting
// unknown fields. On failure the error response is already written.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := types.NewError(types.ErrInvalidRequest, "request body is empty")
		WriteError(w, err, logger)
		return err
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest)
		WriteError(w, apiErr, logger)
		return apiErr
	}
	return nil
}

// ResponseWriter wraps http.ResponseWriter to capture the status code
// for logging and metrics middleware.
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter wraps w, defaulting the status to 200.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
