package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/baharkarakas/paygate/internal/apperr"
)

type APIError struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, code, msg string, details interface{}) {
	WriteJSON(w, status, APIError{
		Error:   msg,
		Code:    code,
		Details: details,
	})
}

// Status maps an error onto the HTTP status and error code it is reported with.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, apperr.ErrSignature):
		return http.StatusBadRequest, "bad_signature"
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrAlreadyProcessed):
		return http.StatusConflict, "already_processed"
	case errors.Is(err, apperr.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperr.ErrExpired):
		return http.StatusGone, "expired"
	case errors.Is(err, apperr.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

// WriteErr reports err as JSON. Field errors go into details; anything that
// maps to 500 is logged and replaced by a generic message.
func WriteErr(w http.ResponseWriter, log *slog.Logger, err error) {
	status, code := Status(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", "err", err)
		WriteError(w, status, code, "internal error", nil)
		return
	}
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		WriteError(w, status, code, "validation failed", ve.Fields)
		return
	}
	WriteError(w, status, code, err.Error(), nil)
}

// Callback replies are read by the processor: the body is the signal and
// the status is always 200.
const (
	CallbackOK           = "1|OK"
	callbackBadSignature = "0|CheckMacValue verification failed"
	callbackInternal     = "0|Internal error"
)

// WriteCallbackAck answers a processor callback. entity names what was
// looked up so a miss reads "0|Transaction not found".
func WriteCallbackAck(w http.ResponseWriter, entity string, err error) {
	body := CallbackOK
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrNotFound):
		body = "0|" + entity + " not found"
	case errors.Is(err, apperr.ErrSignature):
		body = callbackBadSignature
	default:
		body = callbackInternal
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// FormParams flattens a url-encoded POST body into single values.
func FormParams(r *http.Request) (map[string]string, error) {
	if err := r.ParseForm(); err != nil {
		return nil, apperr.Invalid("body", "malformed form body")
	}
	out := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		out[k] = r.PostForm.Get(k)
	}
	return out, nil
}

// ClientIP prefers the first X-Forwarded-For hop.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(ip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// DecodeJSON reads a JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Invalid("body", "invalid JSON: "+err.Error())
	}
	return nil
}
