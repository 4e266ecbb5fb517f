package redis

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	redistrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/redis/go-redis.v9"
)

// Redis is the cache config read from viper.
type Redis struct {
	Address         string
	Username        string
	Password        string
	DB              int32
	MaxRetries      int32
	MinRetryBackoff int32
	MaxRetryBackoff int32
	DialTimeout     int32
	ReadTimeout     int32
	WriteTimeout    int32
	PoolSize        int32
	PoolTimeout     int32
	MinIdleConns    int32
	ClientName      string
	Namespace       string
	Debug           bool
}

func ReadConfig() *Redis {
	if viper.GetString("redis.address") == "" {
		return nil
	}
	return &Redis{
		Address:         viper.GetString("redis.address"),
		Username:        viper.GetString("redis.username"),
		Password:        viper.GetString("redis.password"),
		DB:              viper.GetInt32("redis.db"),
		MaxRetries:      viper.GetInt32("redis.max_retries"),
		MinRetryBackoff: viper.GetInt32("redis.min_retry_backoff"),
		MaxRetryBackoff: viper.GetInt32("redis.max_retry_backoff"),
		DialTimeout:     viper.GetInt32("redis.dial_timeout"),
		ReadTimeout:     viper.GetInt32("redis.read_timeout"),
		WriteTimeout:    viper.GetInt32("redis.write_timeout"),
		PoolSize:        viper.GetInt32("redis.pool_size"),
		PoolTimeout:     viper.GetInt32("redis.pool_timeout"),
		MinIdleConns:    viper.GetInt32("redis.min_idle_conns"),
		ClientName:      viper.GetString("redis.client_name"),
		Namespace:       viper.GetString("redis.namespace"),
		Debug:           viper.GetBool("redis.debug"),
	}
}

func New(config *Redis, opts ...Option) (*redis.Client, error) {
	o := &Opt{
		Options: &redis.Options{
			Addr: config.Address,
		},
	}
	if len(config.Username) > 0 {
		o.Username = config.Username
	}
	if len(config.Password) > 0 {
		o.Password = config.Password
	}
	if config.DB > 0 {
		o.DB = int(config.DB)
	}
	if config.MaxRetries != 0 {
		o.MaxRetries = int(config.MaxRetries)
	}
	if config.MinRetryBackoff != 0 {
		o.MinRetryBackoff = time.Duration(config.MinRetryBackoff) * time.Millisecond
	}
	if config.MaxRetryBackoff != 0 {
		o.MaxRetryBackoff = time.Duration(config.MaxRetryBackoff) * time.Millisecond
	}
	if config.DialTimeout != 0 {
		o.DialTimeout = time.Duration(config.DialTimeout) * time.Millisecond
	}
	if config.ReadTimeout != 0 {
		o.ReadTimeout = time.Duration(config.ReadTimeout) * time.Millisecond
	}
	if config.WriteTimeout != 0 {
		o.WriteTimeout = time.Duration(config.WriteTimeout) * time.Millisecond
	}
	if config.PoolSize != 0 {
		o.PoolSize = int(config.PoolSize)
	}
	if config.PoolTimeout != 0 {
		o.PoolTimeout = time.Duration(config.PoolTimeout) * time.Millisecond
	}
	if config.MinIdleConns != 0 {
		o.MinIdleConns = int(config.MinIdleConns)
	}
	if len(config.ClientName) > 0 {
		o.ClientName = config.ClientName
	}

	for _, o0 := range opts {
		o0.Apply(o)
	}

	client := redis.NewClient(o.Options)
	client.AddHook(&nsHook{config.Namespace})
	client.AddHook(&debugHook{config.Debug})

	redistrace.WrapClient(client, redistrace.WithServiceName("redis"))
	return client, client.Ping(context.Background()).Err()
}

type Opt struct {
	*redis.Options
}

type Option interface {
	Apply(o *Opt)
}

type OptionFunc func(*Opt)

func (f OptionFunc) Apply(o *Opt) {
	f(o)
}

// Limiter interface used to implemented circuit breaker or rate limiter.
func Limiter(limiter redis.Limiter) Option {
	return OptionFunc(func(o *Opt) {
		o.Limiter = limiter
	})
}
