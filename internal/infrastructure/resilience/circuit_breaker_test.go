package resilience_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sifen-gateway/internal/infrastructure/resilience"
)

type transition struct{ from, to resilience.BreakerState }

func breakerCoordinator(clock *fakeClock) *resilience.Coordinator {
	return newCoordinator(clock, resilience.Config{
		MaxAttempts: 1,
		Breaker:     resilience.BreakerConfig{Threshold: 3, Cooldown: 10 * time.Second, MaxCooldown: 25 * time.Second},
	}, 0)
}

func failing(calls *int32) func(context.Context) error {
	return func(context.Context) error {
		atomic.AddInt32(calls, 1)
		return flaky{transient: true}
	}
}

func succeeding(calls *int32) func(context.Context) error {
	return func(context.Context) error {
		atomic.AddInt32(calls, 1)
		return nil
	}
}

func TestBreaker_AbreTrasUmbralYFallaRapido(t *testing.T) {
	clock := newFakeClock()
	c := breakerCoordinator(clock)
	var mu sync.Mutex
	var seen []transition
	c.Subscribe(func(from, to resilience.BreakerState) {
		mu.Lock()
		seen = append(seen, transition{from, to})
		mu.Unlock()
	})

	var calls int32
	for i := 0; i < 3; i++ {
		_, err := c.Execute(context.Background(), failing(&calls))
		assert.True(t, resilience.IsKind(err, resilience.RetriesExhausted))
	}
	assert.Equal(t, resilience.StateOpen, c.State())
	assert.Equal(t, []transition{{resilience.StateClosed, resilience.StateOpen}}, seen)

	// durante el enfriamiento no se invoca la operación
	clock.Advance(9 * time.Second)
	attempts, err := c.Execute(context.Background(), succeeding(&calls))
	assert.Zero(t, attempts)
	assert.True(t, resilience.IsKind(err, resilience.CircuitOpen))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestBreaker_SemiAbiertoAdmiteUnaSolaPrueba(t *testing.T) {
	clock := newFakeClock()
	c := breakerCoordinator(clock)
	var calls int32
	for i := 0; i < 3; i++ {
		_, _ = c.Execute(context.Background(), failing(&calls))
	}
	clock.Advance(10 * time.Second)
	assert.Equal(t, resilience.StateHalfOpen, c.State())

	// la prueba queda en vuelo mientras otra llamada intenta salir
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := c.Execute(context.Background(), func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			close(started)
			<-release
			return nil
		})
		done <- err
	}()
	<-started

	var other int32
	_, err := c.Execute(context.Background(), succeeding(&other))
	assert.True(t, resilience.IsKind(err, resilience.CircuitOpen))
	assert.Zero(t, atomic.LoadInt32(&other))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, resilience.StateClosed, c.State())
	assert.EqualValues(t, 4, atomic.LoadInt32(&calls))

	_, err = c.Execute(context.Background(), succeeding(&other))
	assert.NoError(t, err)
}

func TestBreaker_PruebaFallidaDuplicaEnfriamiento(t *testing.T) {
	clock := newFakeClock()
	c := breakerCoordinator(clock)
	var calls int32
	for i := 0; i < 3; i++ {
		_, _ = c.Execute(context.Background(), failing(&calls))
	}
	assert.Equal(t, 10*time.Second, c.Breaker().Cooldown())

	clock.Advance(10 * time.Second)
	_, err := c.Execute(context.Background(), failing(&calls))
	assert.True(t, resilience.IsKind(err, resilience.RetriesExhausted))
	assert.Equal(t, resilience.StateOpen, c.State())
	assert.Equal(t, 20*time.Second, c.Breaker().Cooldown())

	clock.Advance(19 * time.Second)
	_, err = c.Execute(context.Background(), succeeding(&calls))
	assert.True(t, resilience.IsKind(err, resilience.CircuitOpen))

	clock.Advance(time.Second)
	_, _ = c.Execute(context.Background(), failing(&calls))
	assert.Equal(t, 25*time.Second, c.Breaker().Cooldown(), "tope MaxCooldown")

	clock.Advance(25 * time.Second)
	_, err = c.Execute(context.Background(), succeeding(&calls))
	require.NoError(t, err)
	assert.Equal(t, resilience.StateClosed, c.State())
	assert.Equal(t, 10*time.Second, c.Breaker().Cooldown())
}

func TestBreaker_ErroresNoTransitoriosNoAbren(t *testing.T) {
	clock := newFakeClock()
	c := breakerCoordinator(clock)
	for i := 0; i < 10; i++ {
		_, err := c.Execute(context.Background(), func(context.Context) error { return flaky{transient: false} })
		assert.Equal(t, flaky{transient: false}, err)
	}
	assert.Equal(t, resilience.StateClosed, c.State())
}

func TestBreaker_PruebaConErrorLocalNoCierra(t *testing.T) {
	clock := newFakeClock()
	c := breakerCoordinator(clock)
	var calls int32
	for i := 0; i < 3; i++ {
		_, _ = c.Execute(context.Background(), failing(&calls))
	}
	clock.Advance(10 * time.Second)

	// p. ej. la firma falla antes de llegar a la SET
	_, err := c.Execute(context.Background(), func(context.Context) error { return flaky{transient: false} })
	assert.Equal(t, flaky{transient: false}, err)
	assert.Equal(t, resilience.StateHalfOpen, c.State())
	assert.Equal(t, 10*time.Second, c.Breaker().Cooldown())

	// la prueba quedó libre: la próxima llamada la toma
	_, err = c.Execute(context.Background(), succeeding(&calls))
	require.NoError(t, err)
	assert.Equal(t, resilience.StateClosed, c.State())
}

func TestBreaker_ErrorLocalNoReiniciaConteo(t *testing.T) {
	clock := newFakeClock()
	c := breakerCoordinator(clock)
	var calls int32
	_, _ = c.Execute(context.Background(), failing(&calls))
	_, _ = c.Execute(context.Background(), failing(&calls))
	_, _ = c.Execute(context.Background(), func(context.Context) error { return flaky{transient: false} })
	_, _ = c.Execute(context.Background(), failing(&calls))
	assert.Equal(t, resilience.StateOpen, c.State())
}

func TestExecuteUnguarded_IgnoraElCircuito(t *testing.T) {
	clock := newFakeClock()
	c := breakerCoordinator(clock)
	var calls int32
	for i := 0; i < 3; i++ {
		_, _ = c.Execute(context.Background(), failing(&calls))
	}
	require.Equal(t, resilience.StateOpen, c.State())

	attempts, err := c.ExecuteUnguarded(context.Background(), succeeding(&calls))
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, resilience.StateOpen, c.State(), "un éxito sin circuito no lo cierra")

	c2 := breakerCoordinator(newFakeClock())
	for i := 0; i < 5; i++ {
		_, err = c2.ExecuteUnguarded(context.Background(), failing(&calls))
		assert.True(t, resilience.IsKind(err, resilience.RetriesExhausted))
	}
	assert.Equal(t, resilience.StateClosed, c2.State(), "los fallos sin circuito no lo abren")
}

func TestBreaker_ExitoReiniciaConteo(t *testing.T) {
	clock := newFakeClock()
	c := breakerCoordinator(clock)
	var calls int32
	for i := 0; i < 5; i++ {
		_, _ = c.Execute(context.Background(), failing(&calls))
		_, _ = c.Execute(context.Background(), failing(&calls))
		_, _ = c.Execute(context.Background(), succeeding(&calls))
	}
	assert.Equal(t, resilience.StateClosed, c.State())
}

func TestBreaker_NotificaRecuperacion(t *testing.T) {
	clock := newFakeClock()
	c := newCoordinator(clock, resilience.Config{MaxAttempts: 1}, 0) // umbral 5, enfriamiento 30s

	var seen []transition
	c.Subscribe(func(from, to resilience.BreakerState) { seen = append(seen, transition{from, to}) })
	var calls int32
	for i := 0; i < 5; i++ {
		_, _ = c.Execute(context.Background(), failing(&calls))
	}
	clock.Advance(30 * time.Second)
	_, err := c.Execute(context.Background(), succeeding(&calls))
	require.NoError(t, err)
	assert.Equal(t, []transition{
		{resilience.StateClosed, resilience.StateOpen},
		{resilience.StateOpen, resilience.StateHalfOpen},
		{resilience.StateHalfOpen, resilience.StateClosed},
	}, seen)
}
