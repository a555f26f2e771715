package hacienda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// TokenStore caché de tokens del MH por clave usuario:ambiente.
type TokenStore interface {
	// Get devuelve nil, nil si no hay token.
	Get(ctx context.Context, key string) (*entity.HaciendaCredential, error)
	Set(ctx context.Context, key string, cred *entity.HaciendaCredential) error
	// Delete elimina solo si el token guardado es token.
	Delete(ctx context.Context, key, token string) error
}

// ── Memoria (una instancia) ──────────────────────────────────────────────────

// MemoryTokenStore caché en proceso.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]entity.HaciendaCredential
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]entity.HaciendaCredential)}
}

func (s *MemoryTokenStore) Get(_ context.Context, key string) (*entity.HaciendaCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.tokens[key]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *MemoryTokenStore) Set(_ context.Context, key string, cred *entity.HaciendaCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key] = *cred
	return nil
}

func (s *MemoryTokenStore) Delete(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.tokens[key]; ok && c.Token == token {
		delete(s.tokens, key)
	}
	return nil
}

// ── Redis (compartido entre instancias) ──────────────────────────────────────

const redisKeyPrefix = "dte:mh:token:"

var deleteIfToken = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and cjson.decode(v).token == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0`)

// RedisTokenStore comparte los tokens entre réplicas del servicio, de modo que un
// despliegue con varias instancias no multiplica los logins contra el MH.
type RedisTokenStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisTokenStore conecta a partir de una URL redis://.
func NewRedisTokenStore(url string) (*RedisTokenStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: url inválida: %w", err)
	}
	return &RedisTokenStore{client: redis.NewClient(opts), now: time.Now}, nil
}

// NewRedisTokenStoreFromClient usa un cliente existente.
func NewRedisTokenStoreFromClient(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client, now: time.Now}
}

func (s *RedisTokenStore) Get(ctx context.Context, key string) (*entity.HaciendaCredential, error) {
	b, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: leer token: %w", err)
	}
	var cred entity.HaciendaCredential
	if err := json.Unmarshal(b, &cred); err != nil {
		return nil, fmt.Errorf("redis: token corrupto: %w", err)
	}
	return &cred, nil
}

func (s *RedisTokenStore) Set(ctx context.Context, key string, cred *entity.HaciendaCredential) error {
	b, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	ttl := cred.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, b, ttl).Err(); err != nil {
		return fmt.Errorf("redis: guardar token: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, key, token string) error {
	if err := deleteIfToken.Run(ctx, s.client, []string{redisKeyPrefix + key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: invalidar token: %w", err)
	}
	return nil
}

// Close cierra la conexión.
func (s *RedisTokenStore) Close() error {
	return s.client.Close()
}
