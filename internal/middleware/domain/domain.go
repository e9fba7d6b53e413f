// Package domain provides utilities to inject and retrieve the original request
// domain in and from the context. Redirects issued by the gateway stay on
// this domain.
package domain

import (
	"context"
	"errors"
	"net/http"
)

// Using an unexported type prevents key collisions from other packages.
type contextKey string

// DomainKey is the context key used to store the domain of the original request.
const DomainKey contextKey = "domain"

// DomainMiddleware is an http.Handler middleware that injects the domain
// of the original *http.Request into the context for later handlers to access.
func DomainMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), DomainKey, domainFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DomainFromContext is a helper function that retrieves the domain
// from the context.
func DomainFromContext(ctx context.Context) (string, error) {
	dom, ok := ctx.Value(DomainKey).(string)
	if !ok {
		return "", errors.New("domain not found in context")
	}
	return dom, nil
}

// domainFromRequest returns the host the browser addressed. Server-side
// requests carry it on the request rather than the URL.
func domainFromRequest(r *http.Request) string {
	if r.URL.Host != "" {
		return r.URL.Host
	}

	return r.Host
}
