package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Credential binds a bearer token to the ledger account requests act as.
type Credential struct {
	Name    string
	Token   string
	Account common.Address
}

// Principal describes an authenticated caller.
type Principal struct {
	Name    string
	Account common.Address
}

type principalContextKey struct{}

// PrincipalFromContext extracts the authenticated principal from the request context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	principal, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || principal == nil {
		return nil, false
	}
	return principal, true
}

// Authenticator resolves bearer tokens to principals.
type Authenticator struct {
	credentials    []Credential
	anonymousReads bool
}

// NewAuthenticator constructs an authenticator. Reads may be opened to
// unauthenticated callers; writes always need a token.
func NewAuthenticator(creds []Credential, anonymousReads bool) (*Authenticator, error) {
	out := make([]Credential, 0, len(creds))
	for i, cred := range creds {
		token := strings.TrimSpace(cred.Token)
		if token == "" {
			return nil, fmt.Errorf("credential %d: token must not be empty", i)
		}
		if cred.Account == (common.Address{}) {
			return nil, fmt.Errorf("credential %d: account must not be the zero address", i)
		}
		cred.Token = token
		out = append(out, cred)
	}
	if len(out) == 0 && !anonymousReads {
		return nil, fmt.Errorf("at least one credential must be configured")
	}
	return &Authenticator{credentials: out, anonymousReads: anonymousReads}, nil
}

// Required rejects requests without a valid bearer token.
func (a *Authenticator) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := a.authenticate(r)
		if principal == nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required", Kind: "unauthenticated"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalContextKey{}, principal)))
	})
}

// Reads admits anonymous callers when configured; a presented token must
// still be valid.
func (a *Authenticator) Reads(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if parseBearerToken(r.Header.Get("Authorization")) == "" && a.anonymousReads {
			next.ServeHTTP(w, r)
			return
		}
		a.Required(next).ServeHTTP(w, r)
	})
}

func (a *Authenticator) authenticate(r *http.Request) *Principal {
	if a == nil || r == nil {
		return nil
	}
	token := parseBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return nil
	}
	var match *Principal
	for _, cred := range a.credentials {
		if subtle.ConstantTimeCompare([]byte(token), []byte(cred.Token)) == 1 {
			match = &Principal{Name: cred.Name, Account: cred.Account}
		}
	}
	return match
}

func parseBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
