package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/diagnosis/afyaplus/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// IdempotencyStore caches the first successful response for an Idempotency-Key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type cachedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// Idempotency replays cached 2xx responses for repeated POSTs carrying the same
// Idempotency-Key from the same user on the same path.
func Idempotency(store IdempotencyStore, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}

			hashed := idempotencyKey(r, key)
			if raw, err := store.Get(r.Context(), hashed); err == nil && len(raw) > 0 {
				var cached cachedResponse
				if err := json.Unmarshal(raw, &cached); err == nil {
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("Idempotent-Replayed", "true")
					w.WriteHeader(cached.Status)
					w.Write(cached.Body)
					return
				}
			}

			recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(recorder, r)

			if recorder.statusCode >= 200 && recorder.statusCode < 300 {
				raw, _ := json.Marshal(cachedResponse{Status: recorder.statusCode, Body: recorder.body})
				if err := store.Set(r.Context(), hashed, raw, ttl); err != nil {
					logger.WarnContext(r.Context(), "Failed to store idempotent response", logger.Err(err))
				}
			}
		})
	}
}

func idempotencyKey(r *http.Request, key string) string {
	user := fmt.Sprint(r.Context().Value(logger.UserIDKey))
	sum := sha256.Sum256([]byte(user + "|" + r.URL.Path + "|" + key))
	return fmt.Sprintf("idempotency:%x", sum)
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(body []byte) (int, error) {
	r.body = append(r.body, body...)
	return r.ResponseWriter.Write(body)
}

// RedisIdempotencyStore keeps replay entries in Redis with a TTL.
type RedisIdempotencyStore struct {
	client *redis.Client
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return b, err
}

func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}
