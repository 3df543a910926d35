package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/and161185/credgate/internal/token"
)

type ctxKey string

const claimsKey ctxKey = "cg.claims"

// WithClaims stores validated access-token claims in ctx.
func WithClaims(ctx context.Context, c *token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromCtx fetches claims stored by WithClaims.
func ClaimsFromCtx(ctx context.Context) (*token.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*token.Claims)
	return c, ok && c != nil
}

// bearerToken extracts "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[7:])
	return tok, tok != ""
}

// requireAccess admits requests carrying a valid access token.
func (s *Server) requireAccess(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.cfg.Tokens.ValidateType(raw, token.TypeAccess)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r.WithContext(WithClaims(r.Context(), claims)))
	}
}
