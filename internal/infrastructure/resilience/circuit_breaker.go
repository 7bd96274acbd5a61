package resilience

import (
	"sync"
	"time"
)

// BreakerState estado del circuito.
type BreakerState int

const (
	StateClosed   BreakerState = iota // operación normal
	StateOpen                         // falla rápido hasta que venza el enfriamiento
	StateHalfOpen                     // admite un único intento de prueba
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig umbral de fallos consecutivos y enfriamiento (se duplica en cada prueba
// fallida hasta MaxCooldown).
type BreakerConfig struct {
	Threshold   int
	Cooldown    time.Duration
	MaxCooldown time.Duration
}

// StateListener recibe cada cambio de estado. Se invoca fuera del lock.
type StateListener func(from, to BreakerState)

// CircuitBreaker estado compartido entre todos los envíos del proceso.
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu            sync.Mutex
	state         BreakerState
	failures      int
	cooldown      time.Duration
	openedAt      time.Time
	trialInFlight bool
	listeners     []StateListener
}

// NewCircuitBreaker crea el circuito cerrado.
func NewCircuitBreaker(cfg BreakerConfig, now func() time.Time) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.MaxCooldown < cfg.Cooldown {
		cfg.MaxCooldown = cfg.Cooldown
	}
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{cfg: cfg, now: now, cooldown: cfg.Cooldown}
}

// Subscribe registra un listener de cambios de estado.
func (cb *CircuitBreaker) Subscribe(fn StateListener) {
	cb.mu.Lock()
	cb.listeners = append(cb.listeners, fn)
	cb.mu.Unlock()
}

// State estado actual. Un circuito abierto con el enfriamiento vencido se informa como
// HalfOpen aunque la transición ocurra con la próxima llamada.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && !cb.now().Before(cb.openedAt.Add(cb.cooldown)) {
		return StateHalfOpen
	}
	return cb.state
}

// Cooldown enfriamiento vigente.
func (cb *CircuitBreaker) Cooldown() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.cooldown
}

// acquire decide si la llamada puede salir. trial indica que es el intento de prueba.
func (cb *CircuitBreaker) acquire() (trial, ok bool) {
	cb.mu.Lock()
	var changes []stateChange
	switch cb.state {
	case StateClosed:
		ok = true
	case StateOpen:
		if cb.now().Before(cb.openedAt.Add(cb.cooldown)) {
			break
		}
		changes = append(changes, cb.setState(StateHalfOpen))
		cb.trialInFlight = true
		trial, ok = true, true
	case StateHalfOpen:
		if !cb.trialInFlight {
			cb.trialInFlight = true
			trial, ok = true, true
		}
	}
	listeners := cb.listeners
	cb.mu.Unlock()
	notify(listeners, changes)
	return trial, ok
}

// callResult lo que una llamada dice sobre la salud de la SET.
type callResult int

const (
	callHealthy      callResult = iota // respuesta de la SET, aunque sea un rechazo
	callTransient                      // falla de red o de servicio
	callInconclusive                   // error local (firma, persistencia): no dice nada de la SET
)

func resultOf(err error) callResult {
	switch {
	case err == nil:
		return callHealthy
	case IsTransient(err):
		return callTransient
	}
	return callInconclusive
}

// report registra el resultado. Solo callTransient cuenta como fallo y solo callHealthy
// cierra el circuito; un resultado inconcluso libera la prueba sin cambiar de estado.
func (cb *CircuitBreaker) report(trial bool, r callResult) {
	cb.mu.Lock()
	var changes []stateChange
	switch {
	case trial:
		cb.trialInFlight = false
		switch r {
		case callTransient:
			cb.cooldown *= 2
			if cb.cooldown > cb.cfg.MaxCooldown {
				cb.cooldown = cb.cfg.MaxCooldown
			}
			cb.openedAt = cb.now()
			changes = append(changes, cb.setState(StateOpen))
		case callHealthy:
			cb.cooldown = cb.cfg.Cooldown
			cb.failures = 0
			changes = append(changes, cb.setState(StateClosed))
		}
	case cb.state != StateClosed:
		// Llamada iniciada antes de abrir el circuito: no altera el estado.
	case r == callTransient:
		cb.failures++
		if cb.failures >= cb.cfg.Threshold {
			cb.openedAt = cb.now()
			changes = append(changes, cb.setState(StateOpen))
		}
	case r == callHealthy:
		cb.failures = 0
	}
	listeners := cb.listeners
	cb.mu.Unlock()
	notify(listeners, changes)
}

type stateChange struct{ from, to BreakerState }

func (cb *CircuitBreaker) setState(to BreakerState) stateChange {
	from := cb.state
	cb.state = to
	return stateChange{from: from, to: to}
}

func notify(listeners []StateListener, changes []stateChange) {
	for _, c := range changes {
		if c.from == c.to {
			continue
		}
		for _, fn := range listeners {
			fn(c.from, c.to)
		}
	}
}
