package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const clientKeyKey contextKey = "client_key"

// WithClientKey returns ctx carrying the identity used for rate limiting.
func WithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, clientKeyKey, key)
}

func getClientKey(r *http.Request) (string, bool) {
	key, ok := r.Context().Value(clientKeyKey).(string)
	return key, ok && key != ""
}
