package model

import (
	"context"
	"errors"
)

// RequestContext carries the identity, tenancy, and tracing information of an
// authenticated request. It is immutable after construction.
type RequestContext struct {
	SubjectID     string
	Email         string
	TenantID      string
	PartitionID   string
	Roles         []string
	Claims        map[string]any
	CorrelationID string
	TraceID       string
	Locale        string

	// Token is the bearer credential presented by the caller. It is forwarded
	// to the catalog service and never logged.
	Token string
}

// Validate checks that SubjectID and TenantID are present.
func (rc *RequestContext) Validate() error {
	var errs []error
	if rc.SubjectID == "" {
		errs = append(errs, errors.New("SubjectID is required"))
	}
	if rc.TenantID == "" {
		errs = append(errs, errors.New("TenantID is required"))
	}
	return errors.Join(errs...)
}

// HasRole reports whether the context carries the given role.
func (rc *RequestContext) HasRole(role string) bool {
	for _, r := range rc.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Claim returns the value of the given claim key, or nil.
func (rc *RequestContext) Claim(key string) any {
	if rc.Claims == nil {
		return nil
	}
	return rc.Claims[key]
}

// Actor returns the name recorded as author of history items created on
// behalf of this request: the email when known, otherwise the subject.
func (rc *RequestContext) Actor() string {
	if rc == nil {
		return ""
	}
	if rc.Email != "" {
		return rc.Email
	}
	return rc.SubjectID
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to ctx.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext extracts the RequestContext from ctx and panics when it
// is missing. Only call it behind the authentication middleware.
func MustRequestContext(ctx context.Context) *RequestContext {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		panic("model: RequestContext not found in context")
	}
	return rctx
}
