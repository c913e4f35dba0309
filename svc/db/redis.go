package db

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"hastebin/cfg"
	"hastebin/pkg/domain"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "paste:"

// Redis holds the immutable part of pastes for every instance sharing it.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
	ttl     time.Duration
}

func NewRedis(url string, c *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	if c.RedisTLS {
		tlsConfig, err := buildRedisTLSConfig(opt.Addr)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build Redis TLS config")
		}
		opt.TLSConfig = tlsConfig
	}
	if c.RedisUsername != "" {
		opt.Username = c.RedisUsername
	}
	if c.RedisPassword.Value() != "" {
		opt.Password = c.RedisPassword.Value()
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return NewRedisFromClient(client, c.RedisTimeout, c.CacheTTL), nil
}
func NewRedisFromClient(client *redis.Client, timeout, ttl time.Duration) *Redis {
	return &Redis{
		client:  client,
		timeout: timeout,
		ttl:     ttl,
	}
}
func buildRedisTLSConfig(addr string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	serverName := os.Getenv("REDIS_HOSTNAME")
	if serverName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, errors.Wrap(err, "redis address")
		}
		serverName = host
	}
	tlsConfig.ServerName = serverName
	if certPath := os.Getenv("REDIS_TLS_CA_CERT"); certPath != "" {
		caCert, err := os.ReadFile(certPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read Redis CA cert: %w", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append Redis CA cert to pool")
		}
		tlsConfig.RootCAs = certPool
	}
	return tlsConfig, nil
}
func key(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10)
}

// CachePaste stores the body of p; views are never cached.
func (r *Redis) CachePaste(ctx context.Context, p *domain.Paste) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := json.Marshal(p.Body())
	if err != nil {
		return errors.Wrap(err, "marshal paste")
	}
	return errors.Wrap(r.client.Set(ctx, key(p.ID), data, r.ttl).Err(), "set paste")
}

// GetPaste returns nil, nil on a miss.
func (r *Redis) GetPaste(ctx context.Context, id int64) (*domain.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := r.client.Get(ctx, key(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get paste")
	}
	var p domain.Paste
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "unmarshal paste")
	}
	return &p, nil
}
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
