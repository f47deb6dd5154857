package auth

import (
	"context"
	"net/http"
)

type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}

// StaticAuthenticator authenticates every request as one fixed identity.
type StaticAuthenticator struct {
	identity Identity
}

func NewStaticAuthenticator(identity Identity) *StaticAuthenticator {
	return &StaticAuthenticator{identity: identity}
}

// NewDevAuthenticator returns the DEV_AUTH_* identity for local development.
func NewDevAuthenticator(cfg Config) *StaticAuthenticator {
	return NewStaticAuthenticator(Identity{
		Subject: cfg.DevSubject,
		Email:   cfg.DevEmail,
		Roles:   cfg.DevRoles,
	})
}

// NewAnonymousAuthenticator is used with AUTH_MODE=disabled.
func NewAnonymousAuthenticator() *StaticAuthenticator {
	return NewStaticAuthenticator(Identity{Subject: "anonymous", Roles: []string{RoleAdmin}})
}

func (a *StaticAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return a.identity, nil
}
