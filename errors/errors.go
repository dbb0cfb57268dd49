package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/openpodcast/episode-ingest-worker/log"
	"github.com/xeipuuv/gojsonschema"
)

type APIError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

func writeHttpError(w http.ResponseWriter, msg string, status int, err error) APIError {
	w.WriteHeader(status)

	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_detail": errorDetail}); err != nil {
		log.LogNoRequestID("error writing HTTP error", "http_error_msg", msg, "error", err)
	}
	return APIError{msg, status, err}
}

// HTTP Errors
func WriteHTTPUnauthorized(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusUnauthorized, err)
}

func WriteHTTPBadRequest(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusBadRequest, err)
}

func WriteHTTPUnsupportedMediaType(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusUnsupportedMediaType, err)
}

func WriteHTTPNotFound(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusNotFound, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusInternalServerError, err)
}

func WriteHTTPBadBodySchema(where string, w http.ResponseWriter, errors []gojsonschema.ResultError) APIError {
	sb := strings.Builder{}
	sb.WriteString("Body validation error in ")
	sb.WriteString(where)
	sb.WriteString(" ")
	for i := 0; i < len(errors); i++ {
		sb.WriteString(errors[i].String())
		sb.WriteString(" ")
	}
	return writeHttpError(w, sb.String(), http.StatusBadRequest, nil)
}

// Special wrapper for errors that must not be retried. Unretriable also
// wraps the error in backoff.Permanent so a backoff.Retry loop stops at once.
type UnretriableError struct{ error }

func Unretriable(err error) error {
	return UnretriableError{backoff.Permanent(err)}
}

func (e UnretriableError) Unwrap() error {
	return e.error
}

// Returns whether the given error is an unretriable error.
func IsUnretriable(err error) bool {
	return errors.As(err, &UnretriableError{})
}

type ObjectNotFoundError struct {
	msg   string
	cause error
}

func (e ObjectNotFoundError) Error() string {
	return e.msg
}

func (e ObjectNotFoundError) Unwrap() error {
	return e.cause
}

func NewObjectNotFoundError(msg string, cause error) error {
	if cause != nil {
		msg = fmt.Sprintf("ObjectNotFoundError: %s: %s", msg, cause)
	} else {
		msg = fmt.Sprintf("ObjectNotFoundError: %s", msg)
	}
	// every not found is unretriable (but not backoff.Permanent)
	return UnretriableError{ObjectNotFoundError{msg: msg, cause: cause}}
}

// IsObjectNotFound checks if the error is an ObjectNotFoundError.
func IsObjectNotFound(err error) bool {
	return errors.As(err, &ObjectNotFoundError{})
}

var (
	UnauthorisedError = errors.New("UnauthorisedError")
	InvalidJWT        = errors.New("InvalidJWTError")
)

// LockContentionError wraps a catalog `FOR UPDATE NOWAIT` conflict. It is
// retryable at the outer executeWithRetry layer (§4.4).
type LockContentionError struct{ cause error }

func NewLockContentionError(cause error) error {
	return LockContentionError{cause: cause}
}

func (e LockContentionError) Error() string {
	return fmt.Sprintf("lock contention: %s", e.cause)
}

func (e LockContentionError) Unwrap() error {
	return e.cause
}

func IsLockContention(err error) bool {
	return errors.As(err, &LockContentionError{})
}

// ValidationMismatchError is returned when updateEpisode's post-commit
// read-back doesn't match the patch that was written. Retryable up to
// RDS_UPDATE_VALIDATE_RETRIES (§4.4).
type ValidationMismatchError struct {
	Field    string
	Expected interface{}
	Actual   interface{}
}

func NewValidationMismatchError(field string, expected, actual interface{}) error {
	return ValidationMismatchError{Field: field, Expected: expected, Actual: actual}
}

func (e ValidationMismatchError) Error() string {
	return fmt.Sprintf("validation mismatch on field %q: expected %v, got %v", e.Field, e.Expected, e.Actual)
}

func IsValidationMismatch(err error) bool {
	return errors.As(err, &ValidationMismatchError{})
}

// FatalDownloaderError marks a downloader stderr signature (extractor
// breakage, HTTP 403 after cookie refresh) that has global impact and must
// escalate to drainAndExit (§4.10) rather than a per-job error.
type FatalDownloaderError struct{ msg string }

func NewFatalDownloaderError(msg string) error {
	return FatalDownloaderError{msg: msg}
}

func (e FatalDownloaderError) Error() string {
	return fmt.Sprintf("fatal downloader error: %s", e.msg)
}

func IsFatalDownloaderError(err error) bool {
	return errors.As(err, &FatalDownloaderError{})
}
