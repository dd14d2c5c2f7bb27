package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/gosight/neuroloop/internal/config"
	"github.com/gosight/neuroloop/internal/telemetry"
)

// maxLocalLimiters bounds the per-client limiter table used without Redis
const maxLocalLimiters = 10000

var ErrMissingType = errors.New("event type is required")

type Validator struct {
	redis   *redis.Client
	cfg     config.RateLimitConfig
	structs *validator.Validate

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewValidator creates a validator. With a nil rdb, rate limiting falls back
// to an in-process token bucket per client.
func NewValidator(rdb *redis.Client, cfg config.RateLimitConfig) *Validator {
	return &Validator{
		redis:    rdb,
		cfg:      cfg,
		structs:  validator.New(),
		limiters: make(map[string]*rate.Limiter),
	}
}

// CheckRateLimit counts one request for client in the current second
func (v *Validator) CheckRateLimit(ctx context.Context, client string) bool {
	if v.cfg.RequestsPerSecond <= 0 {
		return true
	}
	if v.redis == nil {
		return v.allowLocal(client)
	}

	key := "ratelimit:" + client

	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return true // Allow on error
	}

	// Set expiry on first request
	if count == 1 {
		v.redis.Expire(ctx, key, time.Second)
	}

	return count <= int64(v.cfg.RequestsPerSecond)
}

func (v *Validator) allowLocal(client string) bool {
	v.mu.Lock()
	limiter, ok := v.limiters[client]
	if !ok {
		if len(v.limiters) >= maxLocalLimiters {
			v.limiters = make(map[string]*rate.Limiter)
		}
		rps := v.cfg.RequestsPerSecond
		limiter = rate.NewLimiter(rate.Limit(rps), rps)
		v.limiters[client] = limiter
	}
	v.mu.Unlock()

	return limiter.Allow()
}

// ValidateEvent checks an inbound event type
func (v *Validator) ValidateEvent(eventType string) error {
	if eventType == "" {
		return ErrMissingType
	}
	if !telemetry.Kind(eventType).Valid() {
		return fmt.Errorf("unknown event type %q", eventType)
	}
	return nil
}

// ValidateRequest checks the validate tags of a decoded request body
func (v *Validator) ValidateRequest(req interface{}) error {
	err := v.structs.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
