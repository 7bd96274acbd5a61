package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jhoicas/sifen-gateway/internal/domain"
)

const keyPrefix = "sifen:inflight:"

// releaseScript borra la clave solo si sigue siendo nuestra.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// refreshScript extiende el TTL solo si la clave sigue siendo nuestra.
var refreshScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// InflightLock a lo sumo un envío en curso por CDC entre todas las instancias.
// El TTL cubre la caída de un proceso con el lock tomado; mientras el lock siga tomado
// se renueva cada ttl/3, así un envío con reintentos más largo que el TTL no lo pierde.
type InflightLock struct {
	client goredis.UniversalClient
	ttl    time.Duration
	log    zerolog.Logger
}

// NewInflightLock crea el lock. ttl <= 0 usa 2 minutos.
func NewInflightLock(client goredis.UniversalClient, ttl time.Duration, log zerolog.Logger) *InflightLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &InflightLock{client: client, ttl: ttl, log: log}
}

// Acquire SET NX PX con un token propio; si la clave existe devuelve domain.ErrSubmissionInFlight.
func (l *InflightLock) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrSubmissionInFlight)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(stop, l.ttl/3, func() (bool, error) {
			refreshCtx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			defer cancel()
			n, err := refreshScript.Run(refreshCtx, l.client, []string{keyPrefix + key}, token, l.ttl.Milliseconds()).Int()
			return n == 1, err
		}, l.log.With().Str("cdc", key).Logger())
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{keyPrefix + key}, token).Err(); err != nil {
				l.log.Warn().Err(err).Str("cdc", key).Msg("no se pudo liberar el lock; expira por TTL")
			}
		})
	}, nil
}

// keepAlive llama a refresh cada interval hasta que stop se cierre. Termina antes si la
// clave ya no es nuestra; un error de red se reintenta en el próximo tick.
func keepAlive(stop <-chan struct{}, interval time.Duration, refresh func() (bool, error), log zerolog.Logger) {
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		held, err := refresh()
		if err != nil {
			log.Warn().Err(err).Msg("no se pudo renovar el lock")
			continue
		}
		if !held {
			log.Error().Msg("lock perdido antes de terminar el envío")
			return
		}
	}
}
