package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// ErrLimited is returned when an action exceeded its allowance.
var ErrLimited = errors.New("ratelimit: limit exceeded")

// Action names a rate limited operation.
type Action string

const (
	ActionQrisGenerate Action = "qris.generate"
	ActionQrisCheck    Action = "qris.check"
	ActionQrisCancel   Action = "qris.cancel"
	ActionGatewayTest  Action = "gateway.test"
)

// Decision reports the state of a limit after one hit.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// RetryAfter is the wait until the window resets, never negative.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// LimitedError carries the decision that rejected a call.
type LimitedError struct {
	Action   Action
	Decision Decision
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("ratelimit: %s exceeded %d per window", e.Action, e.Decision.Limit)
}

func (e *LimitedError) Unwrap() error { return ErrLimited }

// NewMemoryStore returns an in-process limiter store.
func NewMemoryStore(prefix string) limiter.Store {
	return memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          storePrefix(prefix),
		CleanUpInterval: limiter.DefaultCleanUpInterval,
	})
}

// NewRedisStore returns a limiter store shared through Redis.
func NewRedisStore(rdb *redis.Client, prefix string) (limiter.Store, error) {
	if rdb == nil {
		return nil, errors.New("ratelimit: redis client is nil")
	}
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{
		Prefix:   storePrefix(prefix),
		MaxRetry: limiter.DefaultMaxRetry,
	})
}

func storePrefix(prefix string) string {
	if strings.TrimSpace(prefix) == "" {
		return "pos:ratelimit"
	}
	return prefix
}

// Guard applies one formatted rate ("10-M", "30-M") per action. Actions with
// no configured rate are always allowed, and a nil Guard allows everything.
type Guard struct {
	limiters map[Action]*limiter.Limiter
}

// NewGuard parses rates and binds them to store.
func NewGuard(store limiter.Store, rates map[Action]string) (*Guard, error) {
	if store == nil {
		return nil, errors.New("ratelimit: store is nil")
	}
	g := &Guard{limiters: make(map[Action]*limiter.Limiter, len(rates))}
	for action, formatted := range rates {
		formatted = strings.TrimSpace(formatted)
		if formatted == "" {
			continue
		}
		rate, err := limiter.NewRateFromFormatted(formatted)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: %s: %w", action, err)
		}
		g.limiters[action] = limiter.New(store, rate)
	}
	return g, nil
}

// Hit counts one call of action for key and reports the resulting decision.
func (g *Guard) Hit(ctx context.Context, action Action, key string) (Decision, error) {
	if g == nil {
		return Decision{Allowed: true}, nil
	}
	lim, ok := g.limiters[action]
	if !ok {
		return Decision{Allowed: true}, nil
	}
	res, err := lim.Get(ctx, string(action)+":"+key)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: %s: %w", action, err)
	}
	return Decision{
		Allowed:   !res.Reached,
		Limit:     res.Limit,
		Remaining: res.Remaining,
		ResetAt:   time.Unix(res.Reset, 0),
	}, nil
}

// Allow is Hit collapsed to an error: a *LimitedError when the limit is
// reached. Store failures fail open.
func (g *Guard) Allow(ctx context.Context, action Action, key string) error {
	decision, err := g.Hit(ctx, action, key)
	if err != nil {
		return nil
	}
	if !decision.Allowed {
		return &LimitedError{Action: action, Decision: decision}
	}
	return nil
}
