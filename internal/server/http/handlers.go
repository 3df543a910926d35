package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/and161185/credgate/internal/audit"
	"github.com/and161185/credgate/internal/delegation"
	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/model"
	"github.com/and161185/credgate/internal/token"
	"go.uber.org/zap"
)

// DefaultAuthType is used when /login carries no selector.
const DefaultAuthType = "database"

type loginRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Credentials string `json:"credentials,omitempty"`
	MFACode     string `json:"mfaCode,omitempty"`
}

type loginResponse struct {
	Success  bool                `json:"success"`
	Message  string              `json:"message"`
	User     model.Identity      `json:"user"`
	Token    model.TokenPair     `json:"token"`
	Metadata model.LoginMetadata `json:"metadata"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePublicKey(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": s.cfg.Keys.PublicKeyPEM()})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	selector := r.PathValue("strategy")
	if selector == "" {
		selector = r.URL.Query().Get("authType")
	}
	if selector == "" {
		selector = DefaultAuthType
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeCode(w, codeBadRequest)
		return
	}
	creds := model.Credentials{
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
		Packed:   strings.TrimSpace(req.Credentials),
		MFACode:  strings.TrimSpace(req.MFACode),
		Source:   clientIP(r, s.cfg.TrustProxy),
	}
	if creds.Packed == "" && (creds.Username == "" || creds.Password == "") {
		writeCode(w, codeBadRequest)
		return
	}

	res, err := s.cfg.Router.Authenticate(r.Context(), creds, selector)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Success:  true,
		Message:  "Login successful",
		User:     res.User,
		Token:    res.Token,
		Metadata: res.Metadata,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil || req.RefreshToken == "" {
		writeCode(w, codeBadRequest)
		return
	}
	ctx := r.Context()
	claims, err := s.cfg.Tokens.ValidateType(req.RefreshToken, token.TypeRefresh)
	if err != nil {
		s.cfg.Audit.Log(ctx, audit.Event{
			Action:  audit.ActionRefresh,
			Outcome: audit.OutcomeFailure,
			Reason:  "TOKEN_INVALID",
			Source:  clientIP(r, s.cfg.TrustProxy),
		})
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	id := model.Identity{ID: claims.UserID, Username: claims.Subject, Email: claims.Email, Enabled: true, Roles: claims.Roles}
	if s.cfg.Users != nil {
		u, err := s.cfg.Users.GetByUsername(ctx, claims.Subject)
		switch {
		case err == nil && !u.Enabled:
			writeFailure(w, errs.ErrAccountDisabled)
			return
		case err == nil:
			id = u.Identity()
		case errors.Is(err, errs.ErrNotFound):
			// Verified by a non-local backend; the claims are all we know.
		default:
			s.cfg.Log.Error("refresh: load user", zap.String("user", claims.Subject), zap.Error(err))
			writeFailure(w, err)
			return
		}
	}

	pair, err := s.cfg.Tokens.IssuePair(id)
	if err != nil {
		s.cfg.Log.Error("refresh: issue tokens", zap.Error(err))
		writeFailure(w, err)
		return
	}
	s.cfg.Audit.Log(ctx, audit.Event{
		Action:  audit.ActionRefresh,
		Outcome: audit.OutcomeSuccess,
		User:    id.Username,
		Source:  clientIP(r, s.cfg.TrustProxy),
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": pair})
}

type meResponse struct {
	Username  string    `json:"username"`
	UserID    string    `json:"userId,omitempty"`
	Email     string    `json:"email,omitempty"`
	Roles     []string  `json:"roles"`
	Issuer    string    `json:"issuer"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	c, _ := ClaimsFromCtx(r.Context())
	resp := meResponse{Username: c.Subject, UserID: c.UserID, Email: c.Email, Roles: c.Roles, Issuer: c.Issuer}
	if c.ExpiresAt != nil {
		resp.ExpiresAt = c.ExpiresAt.Time.UTC()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRemoteUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var field delegation.LookupField
	var value string
	for _, f := range []delegation.LookupField{delegation.ByUsername, delegation.ByEmail, delegation.ByID} {
		if v := q.Get(string(f)); v != "" {
			if field != "" {
				writeError(w, http.StatusBadRequest, "exactly one of username, email or id is required")
				return
			}
			field, value = f, v
		}
	}
	if field == "" {
		writeError(w, http.StatusBadRequest, "exactly one of username, email or id is required")
		return
	}

	ctx := r.Context()
	id, err := s.cfg.Directory.Lookup(ctx, field, value)
	ev := audit.Event{Action: audit.ActionRemoteLookup, Outcome: audit.OutcomeSuccess, User: value,
		Source: clientIP(r, s.cfg.TrustProxy), Detail: string(field)}
	switch {
	case errors.Is(err, errs.ErrUserNotFound):
		ev.Outcome, ev.Reason = audit.OutcomeFailure, errs.CodeUserNotFound
		s.cfg.Audit.Log(ctx, ev)
		writeError(w, http.StatusNotFound, "user not found")
		return
	case err != nil:
		ev.Outcome, ev.Reason = audit.OutcomeError, errs.CodeInternal
		s.cfg.Audit.Log(ctx, ev)
		s.cfg.Log.Error("remote lookup", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	s.cfg.Audit.Log(ctx, ev)
	writeJSON(w, http.StatusOK, id)
}

func (s *Server) handleRemoteLogin(w http.ResponseWriter, r *http.Request) {
	var req delegation.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	ctx := r.Context()
	ev := audit.Event{Action: audit.ActionRemoteLogin, Outcome: audit.OutcomeSuccess, User: req.Username,
		Strategy: "database", Source: clientIP(r, s.cfg.TrustProxy)}
	_, err := s.cfg.PeerAuth.Verify(ctx, req.Username, req.Password)
	if err != nil {
		code := errs.Code(err)
		ev.Reason = code
		if code == errs.CodeInternal {
			ev.Outcome = audit.OutcomeError
			s.cfg.Audit.Log(ctx, ev)
			s.cfg.Log.Error("remote login", zap.String("user", req.Username), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal")
			return
		}
		ev.Outcome = audit.OutcomeFailure
		s.cfg.Audit.Log(ctx, ev)
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	s.cfg.Audit.Log(ctx, ev)
	writeJSON(w, http.StatusOK, delegation.LoginResponse{Success: true, Username: req.Username, Message: "Authentication successful"})
}
