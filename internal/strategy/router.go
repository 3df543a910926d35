package strategy

import (
	"context"
	"fmt"
	"sort"

	"github.com/and161185/credgate/internal/audit"
	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/model"
)

// Strategy verifies credentials against one backend.
type Strategy interface {
	Kind() Kind
	Authenticate(ctx context.Context, creds model.Credentials) (*model.LoginResult, error)
}

// Router dispatches an attempt to the strategy registered for its selector.
// It is immutable after construction.
type Router struct {
	byKind map[Kind]Strategy
	audit  *audit.Logger
}

// NewRouter builds a router. Two strategies with the same Kind are a configuration error.
func NewRouter(aud *audit.Logger, strategies ...Strategy) (*Router, error) {
	r := &Router{byKind: make(map[Kind]Strategy, len(strategies)), audit: aud}
	for _, s := range strategies {
		if s == nil {
			continue
		}
		if _, dup := r.byKind[s.Kind()]; dup {
			return nil, fmt.Errorf("strategy %s registered twice", s.Kind())
		}
		r.byKind[s.Kind()] = s
	}
	if len(r.byKind) == 0 {
		return nil, fmt.Errorf("no strategies configured")
	}
	return r, nil
}

// Kinds lists the registered kinds in declaration order.
func (r *Router) Kinds() []Kind {
	out := make([]Kind, 0, len(r.byKind))
	for k := range r.byKind {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Authenticate routes creds by selector and returns the strategy's result unchanged.
func (r *Router) Authenticate(ctx context.Context, creds model.Credentials, selector string) (*model.LoginResult, error) {
	k, err := ParseKind(selector)
	if err == nil {
		if s, ok := r.byKind[k]; ok {
			return s.Authenticate(ctx, creds)
		}
		err = fmt.Errorf("%w: %s not enabled", errs.ErrUnsupportedAuthType, k)
	}
	r.audit.Log(ctx, audit.Event{
		Action:   audit.ActionLogin,
		Outcome:  audit.OutcomeFailure,
		User:     creds.Username,
		Strategy: selector,
		Reason:   errs.CodeUnsupportedAuthType,
		Source:   creds.Source,
	})
	return nil, err
}
