package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/and161185/credgate/internal/errs"
)

const codeBadRequest = "BAD_REQUEST"

var messages = map[string]string{
	errs.CodeInvalidCredentials:  "Invalid username or password",
	errs.CodeAccountDisabled:     "Account is disabled",
	errs.CodeAccountLocked:       "Account is temporarily locked",
	errs.CodeUnsupportedAuthType: "Unsupported authentication type",
	errs.CodeMFARequired:         "MFA code required",
	errs.CodeInvalidMFACode:      "Invalid MFA code",
	errs.CodeFederationError:     "Authentication service unavailable",
	errs.CodeInternal:            "Internal error",
	codeBadRequest:               "Malformed request",
}

type failure struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// statusFor maps a public reason code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case errs.CodeFederationError:
		return http.StatusServiceUnavailable
	case errs.CodeInternal:
		return http.StatusInternalServerError
	case codeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusUnauthorized
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeFailure writes the public form of err. Internal detail never reaches the body.
func writeFailure(w http.ResponseWriter, err error) {
	writeCode(w, errs.PublicCode(err))
}

func writeCode(w http.ResponseWriter, code string) {
	writeJSON(w, statusFor(code), failure{ErrorCode: code, Message: messages[code]})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}
