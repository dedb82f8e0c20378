package gotrue

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	session "github.com/goliatone/go-auth-session"
)

// APIError is the decoded error body of a GoTrue or PostgREST response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"-"`
	Message string `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gotrue: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gotrue: %d: %s", e.Status, e.Message)
}

// errorBody covers the shapes returned by GoTrue (old and new) and PostgREST.
type errorBody struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		return apiErr
	}

	apiErr.Code = eb.ErrorCode
	if apiErr.Code == "" {
		apiErr.Code = eb.Error
	}
	if apiErr.Code == "" {
		// PostgREST uses a string code, GoTrue an int status.
		if s, ok := eb.Code.(string); ok {
			apiErr.Code = s
		}
	}

	for _, m := range []string{eb.Msg, eb.Message, eb.ErrorDescription, eb.Error} {
		if m != "" {
			apiErr.Message = m
			break
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}

	return apiErr
}

var (
	credentialCodes = map[string]bool{
		"invalid_credentials": true,
		"email_not_confirmed": true,
	}
	duplicateCodes = map[string]bool{
		"user_already_exists": true,
		"email_exists":        true,
		"23505":               true,
	}
	tokenCodes = map[string]bool{
		"otp_expired":                true,
		"otp_disabled":               true,
		"flow_state_expired":         true,
		"flow_state_not_found":       true,
		"bad_code_verifier":          true,
		"bad_oauth_state":            true,
		"refresh_token_not_found":    true,
		"refresh_token_already_used": true,
	}
	sessionCodes = map[string]bool{
		"bad_jwt":           true,
		"no_authorization":  true,
		"session_not_found": true,
		"session_expired":   true,
	}
	notFoundCodes = map[string]bool{
		"user_not_found": true,
		"PGRST116":       true,
	}
	fieldCodes = map[string]string{
		"weak_password":         "password",
		"same_password":         "password",
		"email_address_invalid": "email",
		"validation_failed":     "email",
	}
)

// mapError translates a failed response into the session error taxonomy.
// Anything unknown is a BackendError carrying the remote status and code.
func mapError(apiErr *APIError) error {
	code := apiErr.Code

	switch {
	case credentialCodes[code]:
		return session.NewError(session.ErrInvalidCredentials, "")
	case code == "invalid_grant" && strings.Contains(strings.ToLower(apiErr.Message), "credentials"):
		return session.NewError(session.ErrInvalidCredentials, "")
	case duplicateCodes[code], strings.EqualFold(apiErr.Message, "User already registered"):
		return session.NewError(session.ErrDuplicateIdentity, "")
	case tokenCodes[code], code == "invalid_grant":
		return session.NewError(session.ErrInvalidOrExpiredToken, "")
	case sessionCodes[code]:
		return session.NewError(session.ErrNotAuthenticated, "")
	case notFoundCodes[code], apiErr.Status == http.StatusNotFound:
		return session.NewError(session.ErrNotFound, "").
			WithMetadata(map[string]any{"remote_code": code})
	}

	if field, ok := fieldCodes[code]; ok {
		return session.NewValidationError(field, apiErr.Message)
	}

	if apiErr.Status == http.StatusUnauthorized {
		return session.NewError(session.ErrNotAuthenticated, "")
	}

	e := session.NewError(session.ErrBackend, apiErr.Message).
		WithMetadata(map[string]any{
			"status":      apiErr.Status,
			"remote_code": code,
		})
	e.Source = apiErr
	if apiErr.Status == http.StatusTooManyRequests {
		e = e.WithMetadata(map[string]any{"rate_limited": true})
	}
	return e
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
