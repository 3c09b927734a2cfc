package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	partnerIDKey contextKey = "partner_id"
	keyPrefixKey contextKey = "key_prefix"
)

func SetPartnerID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, partnerIDKey, id)
}

func GetPartnerID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(partnerIDKey).(uuid.UUID)
	return id, ok
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

// ExportedKeyPrefixKey returns the context key for key_prefix (for testing).
func ExportedKeyPrefixKey() contextKey {
	return keyPrefixKey
}
