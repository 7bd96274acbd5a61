// Package resilience reintentos con backoff, circuito compartido y limitador de tasa
// alrededor de las llamadas al WS de la SET.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config política de reintentos y circuito.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Breaker     BreakerConfig
}

// Option personaliza dependencias del coordinador (reloj, espera, azar, limitador).
type Option func(*Coordinator)

// WithClock reloj del circuito.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithSleeper reemplaza la espera entre intentos.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) { c.sleep = sleep }
}

// WithRandom fuente del jitter, valores en [0, 1).
func WithRandom(rnd func() float64) Option {
	return func(c *Coordinator) { c.rnd = rnd }
}

// WithLimiter limitador de tasa global: cada intento espera su token.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Coordinator) { c.limiter = l }
}

// Coordinator ejecuta operaciones con reintento y circuito. Seguro para uso concurrente.
type Coordinator struct {
	maxAttempts int
	backoff     Backoff
	breaker     *CircuitBreaker
	limiter     *rate.Limiter
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	rnd         func() float64
	log         zerolog.Logger
}

// NewCoordinator crea el coordinador y su circuito.
func NewCoordinator(cfg Config, log zerolog.Logger, opts ...Option) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	c := &Coordinator{
		maxAttempts: cfg.MaxAttempts,
		backoff:     Backoff{Base: cfg.BaseDelay, Max: cfg.MaxDelay},
		now:         time.Now,
		sleep:       sleepContext,
		rnd:         rand.Float64,
		log:         log,
	}
	for _, o := range opts {
		o(c)
	}
	c.breaker = NewCircuitBreaker(cfg.Breaker, c.now)
	c.breaker.Subscribe(func(from, to BreakerState) {
		c.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("cambio de estado del circuito")
	})
	return c
}

// NewRateLimiter token bucket del proceso. rps <= 0 desactiva el límite.
func NewRateLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Subscribe registra un listener de cambios de estado del circuito.
func (c *Coordinator) Subscribe(fn StateListener) { c.breaker.Subscribe(fn) }

// State estado del circuito.
func (c *Coordinator) State() BreakerState { return c.breaker.State() }

// Breaker circuito compartido.
func (c *Coordinator) Breaker() *CircuitBreaker { return c.breaker }

// Execute ejecuta op hasta MaxAttempts veces. Solo los errores con Transient() == true se
// reintentan y cuentan como fallo del circuito; cualquier otro error se devuelve tal cual
// y no cuenta como éxito.
// Devuelve la cantidad de veces que op fue invocada.
func (c *Coordinator) Execute(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	return c.run(ctx, op, true)
}

// ExecuteUnguarded igual que Execute pero sin consultar ni alimentar el circuito. Para
// consultas de solo lectura pedidas por un operador, que deben poder salir en contingencia.
func (c *Coordinator) ExecuteUnguarded(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	return c.run(ctx, op, false)
}

func (c *Coordinator) run(ctx context.Context, op func(ctx context.Context) error, guarded bool) (int, error) {
	var last error
	attempts := 0
	for attempts < c.maxAttempts {
		if attempts > 0 {
			d := c.backoff.Delay(attempts-1, c.rnd())
			c.log.Debug().Int("attempt", attempts+1).Dur("delay", d).Err(last).Msg("reintento programado")
			if err := c.sleep(ctx, d); err != nil {
				return attempts, &CoordinatorError{Kind: Cancelled, Attempts: attempts, Last: last}
			}
		}
		if ctx.Err() != nil {
			return attempts, &CoordinatorError{Kind: Cancelled, Attempts: attempts, Last: last}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return attempts, &CoordinatorError{Kind: Cancelled, Attempts: attempts, Last: last}
			}
		}
		trial := false
		if guarded {
			var ok bool
			if trial, ok = c.breaker.acquire(); !ok {
				return attempts, &CoordinatorError{Kind: CircuitOpen, Attempts: attempts, Last: last}
			}
		}

		err := op(ctx)
		attempts++
		r := resultOf(err)
		if guarded {
			c.breaker.report(trial, r)
		}
		if r != callTransient {
			return attempts, err
		}
		last = err
	}
	return attempts, &CoordinatorError{Kind: RetriesExhausted, Attempts: attempts, Last: last}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
