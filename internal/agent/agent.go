// Package agent keeps the gateway's record of this machine's tunnel
// address current. It runs next to the tunnel, polls its local API and
// registers the public URL under the configured API key.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/codequerydev/codequery/internal/config"
	"github.com/codequerydev/codequery/internal/metrics"
)

var (
	// ErrRegistrationTimeout is reported when the tunnel did not come up
	// and get registered within the registration timeout.
	ErrRegistrationTimeout = errors.New("registration timed out")
	// ErrVerificationMismatch is reported when the gateway does not return
	// the endpoint that was just submitted.
	ErrVerificationMismatch = errors.New("registered endpoint not confirmed by gateway")
)

// Tunnel is the local tunnel control surface.
type Tunnel interface {
	Healthy(ctx context.Context) bool
	PublicURL(ctx context.Context) (string, error)
}

// Registrar submits and reads back endpoint registrations.
type Registrar interface {
	RegisterEndpoint(ctx context.Context, apiKey, publicURL string) error
	Endpoint(ctx context.Context, apiKey string) (string, error)
}

// State is a phase of the registration protocol.
type State int

const (
	StatePolling State = iota
	StateResolving
	StateRegistering
	StateVerifying
	StateSteady
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateResolving:
		return "resolving"
	case StateRegistering:
		return "registering"
	case StateVerifying:
		return "verifying"
	case StateSteady:
		return "steady"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config tunes the protocol timing.
type Config struct {
	APIKey              string
	RetryDelay          time.Duration
	BackoffFactor       float64
	MaxRetryDelay       time.Duration
	RegistrationTimeout time.Duration
	RegisterAttempts    int
	VerifyAttempts      int
	VerifyDelay         time.Duration
	CheckInterval       time.Duration
	StalenessInterval   time.Duration

	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// ConfigFromSettings maps agent settings onto a Config.
func ConfigFromSettings(s config.AgentSettings) Config {
	return Config{
		APIKey:              s.APIKey,
		RetryDelay:          s.RetryDelay.Std(),
		BackoffFactor:       s.BackoffFactor,
		MaxRetryDelay:       s.MaxRetryDelay.Std(),
		RegistrationTimeout: s.RegistrationTimeout.Std(),
		RegisterAttempts:    s.RegisterAttempts,
		VerifyAttempts:      s.VerifyAttempts,
		VerifyDelay:         s.VerifyDelay.Std(),
		CheckInterval:       s.CheckInterval.Std(),
		StalenessInterval:   s.StalenessInterval.Std(),
	}
}

func (c *Config) setDefaults() {
	d := config.DefaultSettings().Agent
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay.Std()
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = max(c.RetryDelay, d.MaxRetryDelay.Std())
	}
	if c.RegistrationTimeout <= 0 {
		c.RegistrationTimeout = d.RegistrationTimeout.Std()
	}
	if c.RegisterAttempts <= 0 {
		c.RegisterAttempts = d.RegisterAttempts
	}
	if c.VerifyAttempts <= 0 {
		c.VerifyAttempts = d.VerifyAttempts
	}
	if c.VerifyDelay <= 0 {
		c.VerifyDelay = d.VerifyDelay.Std()
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval.Std()
	}
	if c.StalenessInterval <= 0 {
		c.StalenessInterval = d.StalenessInterval.Std()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Status is a snapshot of the agent for reporting.
type Status struct {
	State        State     `json:"state"`
	Endpoint     string    `json:"endpoint,omitempty"`
	RegisteredAt time.Time `json:"registered_at,omitempty"`
	Degraded     bool      `json:"degraded"`
	LastError    string    `json:"last_error,omitempty"`
}

// Agent runs the registration state machine. Step is not safe for
// concurrent use; Status is.
type Agent struct {
	cfg       Config
	tunnel    Tunnel
	registrar Registrar
	clock     clock.Clock
	logger    *slog.Logger

	state        State
	delay        time.Duration
	attemptStart time.Time
	observed     string
	registered   string
	registeredAt time.Time
	submits      int
	verifies     int
	degraded     bool
	lastErr      error

	status atomic.Pointer[Status]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Agent in the polling state.
func New(cfg Config, tunnel Tunnel, registrar Registrar) *Agent {
	cfg.setDefaults()
	a := &Agent{
		cfg:       cfg,
		tunnel:    tunnel,
		registrar: registrar,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With("component", "agent"),
		state:     StatePolling,
		delay:     cfg.RetryDelay,
	}
	a.publish()
	return a
}

// Status returns the latest snapshot.
func (a *Agent) Status() Status {
	return *a.status.Load()
}

func (a *Agent) publish() {
	s := Status{
		State:        a.state,
		Endpoint:     a.registered,
		RegisteredAt: a.registeredAt,
		Degraded:     a.degraded,
	}
	if a.lastErr != nil {
		s.LastError = a.lastErr.Error()
	}
	a.status.Store(&s)
}

// Step performs the work of the current state, moves to the next state and
// returns how long to wait before the next step.
func (a *Agent) Step(ctx context.Context) time.Duration {
	defer a.publish()

	if a.inAttempt() && !a.attemptStart.IsZero() && a.clock.Since(a.attemptStart) >= a.cfg.RegistrationTimeout {
		return a.timedOut()
	}

	switch a.state {
	case StatePolling:
		return a.poll(ctx)
	case StateResolving:
		return a.resolve(ctx)
	case StateRegistering:
		return a.submit(ctx)
	case StateVerifying:
		return a.verify(ctx)
	default:
		return a.check(ctx)
	}
}

func (a *Agent) inAttempt() bool {
	return a.state == StatePolling || a.state == StateResolving || a.state == StateRegistering
}

func (a *Agent) beginAttempt() {
	a.attemptStart = a.clock.Now()
	a.delay = a.cfg.RetryDelay
	a.submits = 0
}

// backoff returns the current retry delay and grows the next one.
func (a *Agent) backoff() time.Duration {
	d := a.delay
	next := time.Duration(float64(a.delay) * a.cfg.BackoffFactor)
	a.delay = min(next, a.cfg.MaxRetryDelay)
	return d
}

func (a *Agent) transition(to State) {
	if a.state != to {
		a.logger.Debug("state change", "from", a.state.String(), "to", to.String())
	}
	a.state = to
}

func (a *Agent) poll(ctx context.Context) time.Duration {
	if a.attemptStart.IsZero() {
		a.beginAttempt()
	}
	if !a.tunnel.Healthy(ctx) {
		d := a.backoff()
		a.logger.Debug("tunnel not reachable", "retry_in", d)
		return d
	}
	a.transition(StateResolving)
	return 0
}

func (a *Agent) resolve(ctx context.Context) time.Duration {
	u, err := a.tunnel.PublicURL(ctx)
	if err != nil {
		a.transition(StatePolling)
		d := a.backoff()
		a.logger.Debug("no public url yet", "error", err, "retry_in", d)
		return d
	}
	a.observed = u
	if u == a.registered && !a.stale() {
		a.finishAttempt()
		return a.cfg.CheckInterval
	}
	a.transition(StateRegistering)
	return 0
}

func (a *Agent) submit(ctx context.Context) time.Duration {
	err := a.registrar.RegisterEndpoint(ctx, a.cfg.APIKey, a.observed)
	if err == nil {
		a.cfg.Metrics.Registration("submitted")
		a.verifies = 0
		a.transition(StateVerifying)
		return 0
	}

	a.submits++
	a.lastErr = err
	if a.submits < a.cfg.RegisterAttempts {
		d := a.backoff()
		a.logger.Warn("endpoint submission failed", "attempt", a.submits, "error", err, "retry_in", d)
		return d
	}

	a.cfg.Metrics.Registration("failed")
	a.logger.Error("endpoint registration failed, keeping last registered endpoint",
		"attempts", a.submits,
		"observed", a.observed,
		"registered", a.registered,
		"error", err,
	)
	a.degraded = true
	a.finishAttempt()
	return a.cfg.CheckInterval
}

func (a *Agent) verify(ctx context.Context) time.Duration {
	got, err := a.registrar.Endpoint(ctx, a.cfg.APIKey)
	a.verifies++
	if err == nil && got == a.observed {
		a.cfg.Metrics.Registration("verified")
		a.logger.Info("endpoint registered", "url", a.observed)
		a.record()
		a.degraded = false
		a.lastErr = nil
		a.finishAttempt()
		return a.cfg.CheckInterval
	}
	if a.verifies < a.cfg.VerifyAttempts {
		return a.cfg.VerifyDelay
	}

	if err == nil {
		err = fmt.Errorf("%w: gateway has %q, submitted %q", ErrVerificationMismatch, got, a.observed)
	}
	a.cfg.Metrics.Registration("unverified")
	a.logger.Error("endpoint verification failed, continuing with observed endpoint", "url", a.observed, "error", err)
	a.record()
	a.degraded = true
	a.lastErr = err
	a.finishAttempt()
	return a.cfg.CheckInterval
}

func (a *Agent) check(ctx context.Context) time.Duration {
	if !a.tunnel.Healthy(ctx) {
		a.logger.Warn("tunnel became unreachable")
		a.transition(StatePolling)
		return 0
	}
	u, err := a.tunnel.PublicURL(ctx)
	if err != nil {
		a.logger.Warn("tunnel lost its public url", "error", err)
		a.transition(StatePolling)
		return 0
	}
	switch {
	case u != a.registered:
		a.logger.Info("tunnel url changed", "old", a.registered, "new", u)
	case a.stale():
		a.logger.Info("refreshing registration", "url", u, "age", a.clock.Since(a.registeredAt))
	default:
		return a.cfg.CheckInterval
	}
	a.observed = u
	a.beginAttempt()
	a.transition(StateRegistering)
	return 0
}

func (a *Agent) timedOut() time.Duration {
	a.cfg.Metrics.Registration("timeout")
	a.lastErr = fmt.Errorf("%w after %s", ErrRegistrationTimeout, a.cfg.RegistrationTimeout)
	a.logger.Error("registration attempt abandoned", "state", a.state.String(), "error", a.lastErr)
	a.attemptStart = time.Time{}
	a.delay = a.cfg.RetryDelay
	a.transition(StatePolling)
	return a.cfg.CheckInterval
}

func (a *Agent) record() {
	a.registered = a.observed
	a.registeredAt = a.clock.Now()
}

func (a *Agent) stale() bool {
	return a.registeredAt.IsZero() || a.clock.Since(a.registeredAt) >= a.cfg.StalenessInterval
}

func (a *Agent) finishAttempt() {
	a.attemptStart = time.Time{}
	a.delay = a.cfg.RetryDelay
	a.transition(StateSteady)
}

// Run drives Step until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		d := a.Step(ctx)
		if d <= 0 {
			continue
		}
		t := a.clock.Timer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// Start runs the agent in the background. Non-blocking.
func (a *Agent) Start() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Run(ctx)
	}()
}

// Shutdown stops the background loop and waits for it to exit.
func (a *Agent) Shutdown() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}
