// Package auth carries the acting user's identity through request contexts.
// Credentials are verified upstream; this service trusts the gateway header.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	// HeaderUserID is set by the gateway after authenticating the caller.
	HeaderUserID = "X-User-ID"
	// MetadataUserID is the gRPC metadata equivalent (lower-case per HTTP/2).
	MetadataUserID = "x-user-id"
)

// ErrNoUser is returned when a context carries no user.
var ErrNoUser = errors.New("no authenticated user in context")

type contextKey struct{}

// UserContext is the authenticated caller.
type UserContext struct {
	UserID string
}

// WithUser returns a copy of ctx carrying uc.
func WithUser(ctx context.Context, uc UserContext) context.Context {
	return context.WithValue(ctx, contextKey{}, uc)
}

// GetUserContext returns the caller stored in ctx.
func GetUserContext(ctx context.Context) (UserContext, error) {
	uc, ok := ctx.Value(contextKey{}).(UserContext)
	if !ok || uc.UserID == "" {
		return UserContext{}, ErrNoUser
	}
	return uc, nil
}

// FromHeader copies the gateway user header into the request context.
func FromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(HeaderUserID)); id != "" {
			r = r.WithContext(WithUser(r.Context(), UserContext{UserID: id}))
		}
		next.ServeHTTP(w, r)
	})
}

// UnaryServerInterceptor copies the user metadata into the handler context.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(MetadataUserID); len(vals) > 0 && strings.TrimSpace(vals[0]) != "" {
				ctx = WithUser(ctx, UserContext{UserID: strings.TrimSpace(vals[0])})
			}
		}
		return handler(ctx, req)
	}
}
