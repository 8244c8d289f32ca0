package impl

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io/fs"
	"strconv"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/caddyserver/certmagic"
	"github.com/libdns/porkbun"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-envconfig"
)

// redisStorage satisfies certmagic.Storage so certificates survive instance
// restarts and are shared across relay instances behind one domain.
type redisStorage struct {
	rdb    *redis.Client
	locker *redislock.Client
	locks  sync.Map
}

func key(name string) string {
	return fmt.Sprintf("relay:tls:%v", name)
}

func (s *redisStorage) Lock(ctx context.Context, name string) error {
	opts := &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(1 * time.Minute),
	}

	lock, err := s.locker.Obtain(ctx, fmt.Sprintf("relay:tls:lock:%v", name), 1*time.Minute, opts)
	if err != nil {
		return err
	}

	s.locks.Store(name, lock)
	return nil
}

func (s *redisStorage) Unlock(ctx context.Context, name string) error {
	lock, ok := s.locks.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("no lock for %v", name)
	}

	return lock.(*redislock.Lock).Release(ctx)
}

func (s *redisStorage) Store(ctx context.Context, name string, value []byte) error {
	hashmap := map[string]any{
		"modified": time.Now().Unix(),
		"data":     base64.RawURLEncoding.EncodeToString(value),
		"size":     len(value),
	}

	return s.rdb.HSet(ctx, key(name), hashmap).Err()
}

func (s *redisStorage) Load(ctx context.Context, name string) ([]byte, error) {
	res, err := s.rdb.HGet(ctx, key(name), "data").Result()
	if err == redis.Nil {
		return nil, fs.ErrNotExist
	} else if err != nil {
		return nil, err
	}

	return base64.RawURLEncoding.DecodeString(res)
}

func (s *redisStorage) Delete(ctx context.Context, name string) error {
	return s.rdb.Del(ctx, key(name)).Err()
}

func (s *redisStorage) Exists(ctx context.Context, name string) bool {
	res, err := s.rdb.Exists(ctx, key(name)).Result()
	return err == nil && res > 0
}

func (s *redisStorage) List(ctx context.Context, prefix string, recursive bool) ([]string, error) {
	pattern := key(prefix)
	if recursive {
		pattern = fmt.Sprintf("%v*", pattern)
	}

	return s.rdb.Keys(ctx, pattern).Result()
}

func (s *redisStorage) Stat(ctx context.Context, name string) (certmagic.KeyInfo, error) {
	info := certmagic.KeyInfo{}

	res, err := s.rdb.HMGet(ctx, key(name), "modified", "size").Result()
	if err == redis.Nil {
		return info, fs.ErrNotExist
	} else if err != nil {
		return info, err
	}

	modified, err := strconv.Atoi(res[0].(string))
	if err != nil {
		return info, err
	}

	size, err := strconv.Atoi(res[1].(string))
	if err != nil {
		return info, err
	}

	info.Key = name
	info.Modified = time.Unix(int64(modified), 0)
	info.Size = int64(size)
	info.IsTerminal = true

	return info, nil
}

type EnvTLS struct {
	PorkbunAPIKey    string `env:"PORKBUN_API_KEY,required"`
	PorkbunAPISecret string `env:"PORKBUN_API_SECRET,required"`
}

// TLSConfig provisions certificates for domain via the DNS-01 challenge,
// storing them in redis.
func TLSConfig(ctx context.Context, domain string, rdb *redis.Client) (*tls.Config, error) {
	env := EnvTLS{}
	if err := envconfig.Process(ctx, &env); err != nil {
		return nil, err
	}

	certmagic.DefaultACME.DNS01Solver = &certmagic.DNS01Solver{
		DNSProvider: &porkbun.Provider{
			APIKey:       env.PorkbunAPIKey,
			APISecretKey: env.PorkbunAPISecret,
		},
	}

	certmagic.Default.Storage = &redisStorage{
		rdb:    rdb,
		locker: redislock.New(rdb),
		locks:  sync.Map{},
	}

	return certmagic.TLS([]string{domain})
}
