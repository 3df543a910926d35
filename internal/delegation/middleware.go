package delegation

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/and161185/credgate/internal/audit"
	"github.com/and161185/credgate/internal/errs"
	"go.uber.org/zap"
)

// MaxBodyBytes caps the body read for signature verification.
const MaxBodyBytes = 1 << 20

// RequireSignature rejects unsigned, stale or tampered requests with 401 before
// next runs. The body is restored for next.
func RequireSignature(s *Signer, now func() time.Time, aud *audit.Logger, log *zap.Logger) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
			if err != nil || len(body) > MaxBodyBytes {
				reject(w, http.StatusBadRequest, "invalid body")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			err = s.Verify(r.Method, r.URL.RequestURI(), string(body),
				r.Header.Get(HeaderTimestamp), r.Header.Get(HeaderSignature), now())
			if err != nil {
				log.Debug("delegation request rejected", zap.Error(err), zap.String("uri", r.URL.Path))
				reason := "SIGNATURE_INVALID"
				if errors.Is(err, errs.ErrRequestExpired) {
					reason = "REQUEST_EXPIRED"
				}
				aud.Log(r.Context(), audit.Event{
					Action:  audit.ActionSignatureCheck,
					Outcome: audit.OutcomeFailure,
					Reason:  reason,
					Source:  r.RemoteAddr,
					Detail:  r.Method + " " + r.URL.Path,
				})
				w.Header().Set(HeaderRejected, reason)
				reject(w, http.StatusUnauthorized, "invalid signature")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
