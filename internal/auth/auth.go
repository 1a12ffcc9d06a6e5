package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Role represents what a validated principal may do within its restaurant.
type Role string

const (
	RoleServer  Role = "server"
	RoleKitchen Role = "kitchen"
	RoleExpo    Role = "expo"
	RoleAdmin   Role = "admin"
)

var (
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrNoCredentials     = errors.New("no credentials supplied")
)

func (r Role) String() string {
	return string(r)
}

func ParseRole(s string) (Role, error) {
	switch s {
	case RoleServer.String():
		return RoleServer, nil
	case RoleKitchen.String():
		return RoleKitchen, nil
	case RoleExpo.String():
		return RoleExpo, nil
	case RoleAdmin.String():
		return RoleAdmin, nil
	default:
		return "", ErrInvalidRole
	}
}

// Identity is the validated scope of a credential: exactly one restaurant
// and a role within it. Every tenant decision downstream derives from this
// value; nothing else ever names a restaurant on behalf of a caller.
type Identity struct {
	RestaurantID string
	Role         Role
}

// CredentialKind selects which validation path a credential takes.
type CredentialKind string

const (
	KindBearer CredentialKind = "bearer"
	KindDevice CredentialKind = "device"
)

// Credential pairs a raw token with its validation path.
type Credential struct {
	Kind  CredentialKind
	Token string
}

// Validator is the single contract the gateway and the HTTP layer consume.
// Implementations stay free to swap token formats without touching either.
type Validator interface {
	Validate(ctx context.Context, cred Credential) (Identity, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, cred Credential) (Identity, error)

func (f ValidatorFunc) Validate(ctx context.Context, cred Credential) (Identity, error) {
	return f(ctx, cred)
}

// CredentialsFromRequest extracts the credentials a request carries, ordered
// by priority: the bearer token first, the device token as fallback. This is
// the only place that knows where credentials live on the wire.
func CredentialsFromRequest(r *http.Request) []Credential {
	var creds []Credential
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		creds = append(creds, Credential{Kind: KindBearer, Token: strings.TrimPrefix(h, "Bearer ")})
	} else if token := r.URL.Query().Get("token"); token != "" {
		creds = append(creds, Credential{Kind: KindBearer, Token: token})
	}
	if h := r.Header.Get("X-Device-Token"); h != "" {
		creds = append(creds, Credential{Kind: KindDevice, Token: h})
	} else if token := r.URL.Query().Get("device_token"); token != "" {
		creds = append(creds, Credential{Kind: KindDevice, Token: token})
	}
	return creds
}

// Authenticate validates request credentials in priority order and returns
// the first identity that succeeds.
func Authenticate(ctx context.Context, v Validator, r *http.Request) (Identity, error) {
	creds := CredentialsFromRequest(r)
	if len(creds) == 0 {
		return Identity{}, ErrNoCredentials
	}
	var lastErr error
	for _, cred := range creds {
		identity, err := v.Validate(ctx, cred)
		if err == nil {
			return identity, nil
		}
		lastErr = err
	}
	return Identity{}, lastErr
}

type identityKey struct{}

// WithIdentity stores the validated identity on the context.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}
