// Package redis provides the Redis-backed session state store and the
// cross-instance cache invalidation channel.
package redis

import (
	"net"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultHost        = "127.0.0.1"
	defaultPort        = 6379
	defaultPoolSize    = 10
	defaultMinIdle     = 2
	defaultMaxIdleTime = 5 * time.Minute
)

// ClientOption adjusts the Redis client options.
type ClientOption func(*goredis.Options)

// NewClient creates a Redis client with pooled defaults and applies opts.
func NewClient(opts ...ClientOption) *goredis.Client {
	options := &goredis.Options{
		Addr:            net.JoinHostPort(defaultHost, strconv.Itoa(defaultPort)),
		PoolSize:        defaultPoolSize,
		MinIdleConns:    defaultMinIdle,
		ConnMaxIdleTime: defaultMaxIdleTime,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return goredis.NewClient(options)
}

// WithAddress sets host:port. Malformed addresses are ignored.
func WithAddress(addr string) ClientOption {
	return func(o *goredis.Options) {
		if _, _, err := net.SplitHostPort(addr); err == nil {
			o.Addr = addr
		}
	}
}

// WithPassword sets the AUTH password.
func WithPassword(password string) ClientOption {
	return func(o *goredis.Options) {
		o.Password = password
	}
}

// WithDB selects the logical database.
func WithDB(db int) ClientOption {
	return func(o *goredis.Options) {
		if db >= 0 {
			o.DB = db
		}
	}
}
