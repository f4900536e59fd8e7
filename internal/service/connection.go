package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/willianmendesf/whatsapp-sender/internal/constants"
	apperrors "github.com/willianmendesf/whatsapp-sender/internal/errors"
	"github.com/willianmendesf/whatsapp-sender/internal/metrics"
	"github.com/willianmendesf/whatsapp-sender/internal/models"
	"github.com/willianmendesf/whatsapp-sender/internal/retry"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp/types"
)

// ErrTransportNotReady is matched by every error returned while the
// transport cannot accept sends.
var ErrTransportNotReady = apperrors.New(apperrors.ErrCodeTransportNotReady, "transport is not ready")

// ErrReconnectExhausted is recorded once the reconnect budget is spent.
var ErrReconnectExhausted = apperrors.New(apperrors.ErrCodeReconnectExhausted, "reconnection attempts exhausted")

// TransitionFunc is notified after every state change.
type TransitionFunc func(from, to models.TransportState)

// ReconnectPolicy bounds automatic recovery from Disconnected.
type ReconnectPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultReconnectPolicy is five attempts spaced ten seconds apart.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Attempts: constants.DefaultReconnectAttempts,
		Delay:    time.Duration(constants.DefaultReconnectDelaySec) * time.Second,
	}
}

// ConnectionSnapshot is a point-in-time view of the connection state.
type ConnectionSnapshot struct {
	Session     string                `json:"session"`
	State       models.TransportState `json:"state"`
	Since       time.Time             `json:"since"`
	Attempts    int                   `json:"reconnectAttempts"`
	MaxAttempts int                   `json:"maxReconnectAttempts"`
	Exhausted   bool                  `json:"reconnectExhausted"`
	LastError   string                `json:"lastError,omitempty"`
}

// ConnectionManager tracks transport readiness and drives reconnection.
type ConnectionManager struct {
	client  types.WAClient
	logger  *logrus.Logger
	backoff *retry.Backoff

	mu           sync.Mutex
	state        models.TransportState
	since        time.Time
	attempts     int
	exhausted    bool
	reconnecting bool
	lastError    string
	listeners    []TransitionFunc
	lifecycleCtx context.Context
}

// NewConnectionManager creates a manager in the Initializing state.
func NewConnectionManager(client types.WAClient, logger *logrus.Logger, policy ReconnectPolicy) *ConnectionManager {
	if policy.Attempts <= 0 {
		policy.Attempts = constants.DefaultReconnectAttempts
	}
	if policy.Delay <= 0 {
		policy.Delay = time.Duration(constants.DefaultReconnectDelaySec) * time.Second
	}

	m := &ConnectionManager{
		client:       client,
		logger:       logger,
		backoff:      retry.NewBackoff(retry.FixedDelayConfig(policy.Delay, policy.Attempts)),
		state:        models.StateInitializing,
		since:        time.Now(),
		lifecycleCtx: context.Background(),
	}
	metrics.SetGauge(metrics.TransportState, float64(m.state), nil, "Transport readiness state")
	return m
}

// OnTransition registers fn for every later state change. Listeners run
// synchronously on the goroutine that caused the change.
func (m *ConnectionManager) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Start initializes the transport session. ctx bounds the manager's
// background reconnection as well.
func (m *ConnectionManager) Start(ctx context.Context) {
	m.mu.Lock()
	m.lifecycleCtx = ctx
	m.mu.Unlock()

	m.logger.WithField(LogFieldSession, m.client.SessionName()).Info("Initializing transport session")
	m.initialize(ctx)
}

// IsReady reports the cached readiness flag without blocking.
func (m *ConnectionManager) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == models.StateReady
}

// State returns the current transport state.
func (m *ConnectionManager) State() models.TransportState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnsureReady confirms readiness with a live status check. A failed check
// demotes the connection to Disconnected.
func (m *ConnectionManager) EnsureReady(ctx context.Context) error {
	state := m.State()
	if state != models.StateReady {
		return apperrors.Wrap(ErrTransportNotReady, apperrors.ErrCodeTransportNotReady,
			"transport is "+state.String()).WithContext(LogFieldState, state.String())
	}

	session, err := m.client.GetSessionStatus(ctx)
	if err == nil && session.Status == types.SessionStatusWorking {
		return nil
	}

	var reason string
	if err != nil {
		reason = err.Error()
	} else {
		reason = "session status " + string(session.Status)
		err = fmt.Errorf("session %s is %s", session.Name, session.Status)
	}

	m.HandleEvent(types.LifecycleEvent{
		Type:    types.EventDisconnected,
		Session: m.client.SessionName(),
		Reason:  reason,
		At:      time.Now(),
	})
	return apperrors.Wrap(err, apperrors.ErrCodeTransportNotReady, "transport liveness check failed")
}

// HandleEvent applies a lifecycle event to the state machine.
func (m *ConnectionManager) HandleEvent(event types.LifecycleEvent) {
	entry := m.logger.WithFields(logrus.Fields{
		LogFieldSession: event.Session,
		LogFieldEvent:   string(event.Type),
	})

	switch event.Type {
	case types.EventLoadingScreen:
		entry.Debug("Transport loading")
	case types.EventQR:
		entry.Info("Transport awaiting QR authentication")
		m.transition(models.StateAwaitingAuthentication, nil)
	case types.EventReady, types.EventAuthenticated:
		m.transition(models.StateReady, func() {
			m.attempts = 0
			m.exhausted = false
			m.lastError = ""
		})
	case types.EventDisconnected, types.EventAuthFailure:
		entry.WithField("reason", event.Reason).Warn("Transport disconnected")
		m.transition(models.StateDisconnected, func() {
			if event.Reason != "" {
				m.lastError = event.Reason
			} else {
				m.lastError = string(event.Type)
			}
		})
		m.startReconnect()
	default:
		entry.Debug("Ignoring unknown lifecycle event")
	}
}

// ClearSession logs the session out, resets recovery state and
// re-initializes the transport. The transport is re-initialized even when
// the logout fails; the logout error is still returned.
func (m *ConnectionManager) ClearSession(ctx context.Context) error {
	m.logger.WithField(LogFieldSession, m.client.SessionName()).Info("Clearing transport session")

	logoutErr := m.client.LogoutSession(ctx)
	if logoutErr != nil {
		logoutErr = apperrors.Wrap(logoutErr, apperrors.ErrCodeWhatsAppAPI, "session logout failed")
		apperrors.LogError(m.logger, logoutErr, "Session logout failed, continuing with re-initialization")
	}

	m.transition(models.StateInitializing, func() {
		m.attempts = 0
		m.exhausted = false
		m.lastError = ""
	})

	m.initialize(m.backgroundContext())
	return logoutErr
}

// Snapshot returns the current connection details.
func (m *ConnectionManager) Snapshot() ConnectionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ConnectionSnapshot{
		Session:     m.client.SessionName(),
		State:       m.state,
		Since:       m.since,
		Attempts:    m.attempts,
		MaxAttempts: m.backoff.MaxAttempts(),
		Exhausted:   m.exhausted,
		LastError:   m.lastError,
	}
}

// SyncStatus pulls the session status and applies the matching event.
func (m *ConnectionManager) SyncStatus(ctx context.Context) error {
	session, err := m.client.GetSessionStatus(ctx)
	if err != nil {
		return err
	}

	if event, ok := whatsapp.LifecycleForStatus(session.Name, session.Status); ok {
		if event.Type == types.EventReady && m.IsReady() {
			return nil
		}
		m.HandleEvent(event)
	}
	return nil
}

func (m *ConnectionManager) initialize(ctx context.Context) {
	if err := m.client.StartSession(ctx); err != nil {
		m.HandleEvent(types.LifecycleEvent{
			Type:    types.EventDisconnected,
			Session: m.client.SessionName(),
			Reason:  err.Error(),
			At:      time.Now(),
		})
		return
	}

	if err := m.SyncStatus(ctx); err != nil {
		apperrors.LogError(m.logger, err, "Failed to read session status after start")
	}
}

// transition moves to the target state, applying mutate under the lock,
// and notifies listeners when the state actually changed.
func (m *ConnectionManager) transition(to models.TransportState, mutate func()) {
	m.mu.Lock()
	if mutate != nil {
		mutate()
	}
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	m.since = time.Now()
	listeners := make([]TransitionFunc, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		LogFieldSession:   m.client.SessionName(),
		LogFieldFromState: from.String(),
		LogFieldState:     to.String(),
	}).Info("Transport state changed")

	metrics.SetGauge(metrics.TransportState, float64(to), nil, "Transport readiness state")
	metrics.IncrementCounter(metrics.TransportTransitions, map[string]string{
		"from": from.String(),
		"to":   to.String(),
	}, "Transport state transitions")

	for _, fn := range listeners {
		fn(from, to)
	}
}

func (m *ConnectionManager) backgroundContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lifecycleCtx
}

func (m *ConnectionManager) startReconnect() {
	m.mu.Lock()
	if m.reconnecting || m.exhausted {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	ctx := m.lifecycleCtx
	m.mu.Unlock()

	go m.reconnectLoop(ctx)
}

func (m *ConnectionManager) reconnectLoop(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	for {
		m.mu.Lock()
		if m.state != models.StateDisconnected {
			m.mu.Unlock()
			return
		}
		if m.attempts >= m.backoff.MaxAttempts() {
			m.exhausted = true
			lastError := m.lastError
			m.mu.Unlock()

			apperrors.LogError(m.logger, ErrReconnectExhausted, "ReconnectionExhausted: manual session clear required", logrus.Fields{
				LogFieldSession: m.client.SessionName(),
				"last_error":    lastError,
			})
			return
		}
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		if err := retry.Sleep(ctx, m.backoff.GetNextDelay(attempt)); err != nil {
			return
		}

		if m.State() != models.StateDisconnected {
			return
		}

		m.logger.WithFields(logrus.Fields{
			LogFieldSession: m.client.SessionName(),
			LogFieldAttempt: attempt,
		}).Info("Attempting transport reconnection")
		metrics.IncrementCounter(metrics.ReconnectAttemptsTotal, map[string]string{
			LogFieldAttempt: strconv.Itoa(attempt),
		}, "Transport reconnection attempts")

		m.transition(models.StateInitializing, nil)
		m.initialize(ctx)

		if m.State() != models.StateDisconnected {
			return
		}
	}
}
