package dialect

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"dbprov/internal/dburl"
)

const redisDefaultPort = 6379

// Redis is redis+goredis. Several endpoints select cluster mode, and a
// master_name query option selects sentinel failover. Cluster clients
// ignore the database index, so the redis follower provider rejects
// cluster URLs; they can still be parsed and checked.
type Redis struct{}

func (Redis) Backend() string  { return "redis" }
func (Redis) Driver() string   { return "goredis" }
func (Redis) DefaultPort() int { return redisDefaultPort }

// Options builds go-redis options from u.
func (Redis) Options(u *dburl.URL) (*redis.UniversalOptions, error) {
	eps, err := u.Endpoints()
	if err != nil {
		return nil, err
	}
	if len(eps) == 0 {
		eps = []dburl.HostPort{{Host: "localhost"}}
	}
	addrs := make([]string, len(eps))
	for i, ep := range eps {
		if ep.Host == "" {
			ep.Host = "localhost"
		}
		addrs[i] = ep.WithDefaultPort(redisDefaultPort).String()
	}

	db, err := RedisDB(u)
	if err != nil {
		return nil, err
	}

	return &redis.UniversalOptions{
		Addrs:      addrs,
		DB:         db,
		Username:   u.Username,
		Password:   u.Password,
		MasterName: u.Query.Get("master_name"),
	}, nil
}

// RedisDB returns the numeric database index named by u, 0 when absent.
func RedisDB(u *dburl.URL) (int, error) {
	if u.Database == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(u.Database)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: redis database must be a non-negative index, got %q", ErrInvalidDatabase, u.Database)
	}
	return n, nil
}

// DSN renders the address list and database index, e.g. "h1:6379,h2:6379/0".
func (d Redis) DSN(u *dburl.URL) (string, error) {
	opts, err := d.Options(u)
	if err != nil {
		return "", err
	}
	return strings.Join(opts.Addrs, ",") + "/" + strconv.Itoa(opts.DB), nil
}

func (d Redis) Open(ctx context.Context, u *dburl.URL) (Conn, error) {
	client, err := d.Client(u)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return RedisConn{client}, nil
}

// Client builds an unconnected client for u.
func (d Redis) Client(u *dburl.URL) (redis.UniversalClient, error) {
	opts, err := d.Options(u)
	if err != nil {
		return nil, err
	}
	return redis.NewUniversalClient(opts), nil
}

// RedisConn adapts a go-redis client to Conn.
type RedisConn struct {
	redis.UniversalClient
}

func (c RedisConn) Ping(ctx context.Context) error {
	return c.UniversalClient.Ping(ctx).Err()
}
