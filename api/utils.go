package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"tablevault/core"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// msgForbidden is returned for every permission failure so callers cannot
// learn why a grant did not match.
const msgForbidden = "You do not have permission to perform this action"

// response is the success envelope.
type response struct {
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
}

// fieldError describes one rejected field.
type fieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorResponse is the failure envelope.
type errorResponse struct {
	Message string       `json:"message"`
	Field   string       `json:"field,omitempty"`
	Errors  []fieldError `json:"errors,omitempty"`
}

var (
	controlChars = regexp.MustCompile(`[\x00-\x1F\x7F]`)
	secretPairs  = regexp.MustCompile(`(?i)(password|token|secret|api[_-]?key)[:=]\s*["']?[^"'\s]+["']?`)
	connStrings  = regexp.MustCompile(`(?:mongodb|mongodb\+srv|redis|sqlite)://[^\s"']+`)
)

// respondJSON writes a JSON response with proper error handling
func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// respondData writes the success envelope.
func (a *API) respondData(w http.ResponseWriter, statusCode int, data interface{}, message string) {
	a.respondJSON(w, response{Data: data, Message: message}, statusCode)
}

// writeError writes the failure envelope. Server errors are logged with the
// underlying cause, which never reaches the client.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, statusCode int, body errorResponse, err error) {
	if statusCode >= http.StatusInternalServerError {
		a.logger.Errorw(body.Message,
			"error", err,
			"status_code", statusCode,
			"request_id", GetRequestIDOrDefault(r.Context()),
			"path", r.URL.Path)
	} else if err != nil {
		a.logger.Debugw(body.Message,
			"error", sanitizeLogMessage(err.Error()),
			"status_code", statusCode,
			"request_id", GetRequestIDOrDefault(r.Context()))
	}
	a.respondJSON(w, body, statusCode)
}

// writeServiceError maps the error taxonomy to HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		fieldErrs core.FieldErrors
		verr      *core.ValidationError
		dup       *core.DuplicateValueError
		perm      *core.PermissionError
		vErrs     validator.ValidationErrors
	)

	switch {
	case errors.As(err, &fieldErrs):
		status, body := fieldErrorsResponse(fieldErrs)
		a.writeError(w, r, status, body, err)
	case errors.As(err, &verr):
		a.writeError(w, r, http.StatusBadRequest, errorResponse{Message: verr.Error(), Field: verr.Field}, err)
	case errors.As(err, &dup):
		a.writeError(w, r, http.StatusConflict, errorResponse{Message: duplicateMessage(dup), Field: dup.Field}, err)
	case errors.As(err, &perm):
		a.writeError(w, r, http.StatusForbidden, errorResponse{Message: msgForbidden}, err)
	case errors.As(err, &vErrs):
		a.writeError(w, r, http.StatusBadRequest, validatorResponse(vErrs), err)
	case errors.Is(err, core.ErrInvalidTable):
		a.writeError(w, r, http.StatusBadRequest, errorResponse{Message: err.Error()}, err)
	case errors.Is(err, core.ErrTableNotFound):
		a.writeError(w, r, http.StatusNotFound, errorResponse{Message: "Table not found"}, err)
	case errors.Is(err, core.ErrRowNotFound):
		a.writeError(w, r, http.StatusNotFound, errorResponse{Message: "Row not found"}, err)
	case errors.Is(err, core.ErrShareNotFound):
		a.writeError(w, r, http.StatusNotFound, errorResponse{Message: "Share not found"}, err)
	case errors.Is(err, core.ErrUserNotFound):
		a.writeError(w, r, http.StatusNotFound, errorResponse{Message: "User not found"}, err)
	default:
		a.writeError(w, r, http.StatusInternalServerError, errorResponse{Message: "Internal server error"}, err)
	}
}

// fieldErrorsResponse reports every field. Validation failures win over
// duplicates, which only appear once validation passed.
func fieldErrorsResponse(errs core.FieldErrors) (int, errorResponse) {
	status := http.StatusConflict
	body := errorResponse{Message: "Duplicate value"}
	for _, err := range errs {
		var verr *core.ValidationError
		var dup *core.DuplicateValueError
		switch {
		case errors.As(err, &verr):
			status = http.StatusBadRequest
			body.Errors = append(body.Errors, fieldError{Field: verr.Field, Code: verr.Code, Message: verr.Error()})
		case errors.As(err, &dup):
			body.Errors = append(body.Errors, fieldError{Field: dup.Field, Code: "duplicate", Message: duplicateMessage(dup)})
		default:
			status = http.StatusBadRequest
			body.Errors = append(body.Errors, fieldError{Code: core.CodeInvalidType, Message: err.Error()})
		}
	}
	if status == http.StatusBadRequest {
		body.Message = "Validation failed"
	}
	if len(body.Errors) > 0 {
		body.Field = body.Errors[0].Field
	}
	return status, body
}

func duplicateMessage(dup *core.DuplicateValueError) string {
	return fmt.Sprintf("A row with this %s already exists", dup.Field)
}

func validatorResponse(errs validator.ValidationErrors) errorResponse {
	body := errorResponse{Message: "Validation failed"}
	for _, fe := range errs {
		body.Errors = append(body.Errors, fieldError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: fmt.Sprintf("%s failed on '%s'", fe.Field(), fe.Tag()),
		})
	}
	if len(body.Errors) > 0 {
		body.Field = body.Errors[0].Field
	}
	return body
}

// decodeJSONBody decodes a size-limited JSON body and validates it.
func (a *API) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError
		var maxBytesError *http.MaxBytesError

		switch {
		case errors.As(err, &syntaxError):
			a.writeError(w, r, http.StatusBadRequest, errorResponse{Message: fmt.Sprintf("Invalid JSON syntax at byte offset %d", syntaxError.Offset)}, err)
		case errors.As(err, &unmarshalTypeError):
			a.writeError(w, r, http.StatusBadRequest, errorResponse{
				Message: fmt.Sprintf("Invalid type for field '%s'", unmarshalTypeError.Field),
				Field:   unmarshalTypeError.Field,
			}, err)
		case errors.As(err, &maxBytesError):
			a.writeError(w, r, http.StatusRequestEntityTooLarge, errorResponse{Message: "Request body too large"}, err)
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			a.writeError(w, r, http.StatusBadRequest, errorResponse{Message: "JSON contains " + strings.TrimPrefix(err.Error(), "json: ")}, err)
		default:
			a.writeError(w, r, http.StatusBadRequest, errorResponse{Message: "Invalid JSON body"}, err)
		}
		return false
	}

	if err := a.validate.Struct(dst); err != nil {
		a.writeServiceError(w, r, err)
		return false
	}
	return true
}

// sanitizeLogMessage removes control characters and credentials from client
// supplied text before it is logged.
func sanitizeLogMessage(message string) string {
	message = strings.ReplaceAll(message, "\n", "\\n")
	message = strings.ReplaceAll(message, "\r", "\\r")
	message = strings.ReplaceAll(message, "\t", "\\t")
	message = controlChars.ReplaceAllString(message, "")
	message = secretPairs.ReplaceAllString(message, "$1=[REDACTED]")
	message = connStrings.ReplaceAllString(message, "[DB_CONNECTION]")
	return message
}

// requestLogger returns a logger tagged with the request id.
func requestLogger(logger *zap.SugaredLogger, r *http.Request) *zap.SugaredLogger {
	return logger.With("request_id", GetRequestIDOrDefault(r.Context()))
}
