package catalog

import (
	"context"
	"errors"

	"github.com/pitabwire/catalogboard/model"
)

// CredentialSource supplies the bearer token presented to the catalog.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

// CredentialFunc adapts a function to CredentialSource.
type CredentialFunc func(ctx context.Context) (string, error)

// Token implements CredentialSource.
func (f CredentialFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// ErrNoCredential is returned when the request carries no bearer token.
var ErrNoCredential = errors.New("catalog: no credential in request context")

// ForwardedCredential forwards the bearer token of the authenticated request
// carried by ctx.
func ForwardedCredential() CredentialSource {
	return CredentialFunc(func(ctx context.Context) (string, error) {
		rctx := model.RequestContextFrom(ctx)
		if rctx == nil || rctx.Token == "" {
			return "", ErrNoCredential
		}
		return rctx.Token, nil
	})
}

// StaticCredential always presents token.
func StaticCredential(token string) CredentialSource {
	return CredentialFunc(func(context.Context) (string, error) { return token, nil })
}
