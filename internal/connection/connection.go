// Package connection owns the transport client lifecycle, the connection
// state machine and the runtime counters. State transitions are serialized;
// concurrent readers only ever see copy-out snapshots.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/czpavel/visionfeed/internal/client"
	"github.com/czpavel/visionfeed/internal/config"
	"github.com/czpavel/visionfeed/internal/models"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateReconnecting  State = "reconnecting"
	StateError         State = "error"
	StateDisconnecting State = "disconnecting"
)

const sentPathsLimit = 10000

// ClientFactory builds the configured transport client. Injectable so tests
// can run the manager against a fake backend.
type ClientFactory func(ctx context.Context) (client.Client, error)

// Manager holds the live client plus runtime statistics.
type Manager struct {
	cfg     *config.AppConfig
	logger  *slog.Logger
	factory ClientFactory

	// Fixed waits of the restart/confirm sequences. Shortened in tests.
	restartSettle     time.Duration
	statusWaitTimeout time.Duration

	mu                sync.Mutex
	client            client.Client
	state             State
	statusText        string
	restartInProgress bool

	lastContext    models.Context
	lastData       string
	productionMode *bool

	totalSent      int
	totalEvaluated int
	okCount        int
	nokCount       int
	lastEvalTimeMS int
	evalTimeSumMS  int64
	lastResultJSON string
	sentPaths      []string
}

// NewManager builds a manager. A nil factory selects the transport from the
// config's server.mode.
func NewManager(cfg *config.AppConfig, logger *slog.Logger, factory ClientFactory) *Manager {
	m := &Manager{
		cfg:               cfg,
		logger:            logger,
		factory:           factory,
		restartSettle:     2 * time.Second,
		statusWaitTimeout: 30 * time.Second,
		state:             StateDisconnected,
		statusText:        string(StateDisconnected),
		lastResultJSON:    "{}",
	}
	if m.factory == nil {
		m.factory = func(ctx context.Context) (client.Client, error) {
			if cfg.Server.Mode == "agent" {
				return client.NewAgent(ctx, cfg.Server, logger)
			}
			return client.NewREST(cfg.Server), nil
		}
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether analyze calls may be dispatched.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Client returns the active transport client, or nil when disconnected.
func (m *Manager) Client() client.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// Connect constructs the configured client and health-checks it. Remote
// project start is issued first when the policy asks for it. Only a failure
// to construct the client at all is returned as an error; an unreachable
// server ends in the error state (or a bounded reconnect under
// auto_restart).
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(StateConnecting, string(StateConnecting))
	m.mu.Unlock()

	if m.shouldAutoStart() {
		m.pmStart(ctx)
	}

	c, err := m.factory(ctx)
	if err != nil {
		m.setState(StateError, "client construction failed")
		return fmt.Errorf("construct transport client: %w", err)
	}
	m.mu.Lock()
	m.client = c
	m.mu.Unlock()

	if m.ping(ctx) {
		m.setState(StateConnected, string(StateConnected))
		return nil
	}

	if m.shouldAutoRestart() {
		return m.autoRestart(ctx)
	}

	m.setState(StateError, "connection error")
	return nil
}

// Disconnect tears the client down, issuing a remote stop first when the
// policy asks for it.
func (m *Manager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateDisconnecting, string(StateDisconnecting))
	m.mu.Unlock()

	if m.shouldAutoStop() {
		m.pmStop(ctx)
	}

	m.mu.Lock()
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	m.setStateLocked(StateDisconnected, string(StateDisconnected))
	m.mu.Unlock()
}

// CheckHealth probes the server. A failed probe moves a connected manager to
// reconnecting and, under the auto_restart policy, runs the bounded restart
// sequence.
func (m *Manager) CheckHealth(ctx context.Context) bool {
	m.mu.Lock()
	c := m.client
	m.mu.Unlock()
	if c == nil {
		m.setState(StateDisconnected, string(StateDisconnected))
		return false
	}
	if m.ping(ctx) {
		m.setState(StateConnected, string(StateConnected))
		return true
	}
	m.setState(StateReconnecting, string(StateReconnecting))
	if m.shouldAutoRestart() {
		return m.autoRestart(ctx) == nil && m.IsConnected()
	}
	return false
}

// autoRestart runs the escalation contract: stop, start, fixed wait, ping,
// up to the configured attempt count. Waits abort immediately on ctx cancel.
// Exhausting all attempts ends in the error state.
func (m *Manager) autoRestart(ctx context.Context) error {
	m.mu.Lock()
	if m.restartInProgress {
		m.mu.Unlock()
		return fmt.Errorf("restart already in progress")
	}
	m.restartInProgress = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.restartInProgress = false
		m.mu.Unlock()
	}()

	attempts := m.cfg.Control.ReconnectAttempts
	delay := time.Duration(m.cfg.Control.ReconnectDelaySec) * time.Second

	for attempt := 1; attempt <= attempts; attempt++ {
		m.setState(StateReconnecting, fmt.Sprintf("trying to reconnect (%d/%d)", attempt, attempts))
		m.logger.Warn("auto-restart attempt", "attempt", attempt, "attempts", attempts)

		m.pmStop(ctx)
		if !sleepCtx(ctx, m.restartSettle) {
			return ctx.Err()
		}
		m.pmStart(ctx)
		if !sleepCtx(ctx, delay) {
			return ctx.Err()
		}

		c, err := m.factory(ctx)
		if err != nil {
			m.logger.Warn("client construction failed during restart", "error", err)
			continue
		}
		m.mu.Lock()
		m.client = c
		m.mu.Unlock()

		if m.ping(ctx) {
			m.setState(StateConnected, string(StateConnected))
			return nil
		}
	}

	m.setState(StateError, fmt.Sprintf("fail to reconnect after %dx try", attempts))
	return fmt.Errorf("reconnect failed after %d attempts", attempts)
}

func (m *Manager) ping(ctx context.Context) bool {
	m.mu.Lock()
	c := m.client
	m.mu.Unlock()
	if c == nil {
		return false
	}
	return c.Ping(ctx)
}

func (m *Manager) setState(state State, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(state, text)
}

func (m *Manager) setStateLocked(state State, text string) {
	m.state = state
	m.statusText = text
}

// -- remote control plane --

func (m *Manager) pmEnabled() bool {
	return m.cfg.Control.TCPEnabled && strings.TrimSpace(m.cfg.Control.ProjectPath) != ""
}

func (m *Manager) shouldAutoStart() bool {
	p := m.cfg.Control.Policy
	return m.pmEnabled() && (p == "auto_start" || p == "auto_start_stop")
}

func (m *Manager) shouldAutoStop() bool {
	return m.pmEnabled() && m.cfg.Control.Policy == "auto_start_stop"
}

func (m *Manager) shouldAutoRestart() bool {
	return m.pmEnabled() && m.cfg.Control.Policy == "auto_restart"
}

// pmStart fires the start command and then polls status rather than
// trusting the command's own (possibly absent) response.
func (m *Manager) pmStart(ctx context.Context) {
	if !m.pmEnabled() {
		m.logger.Warn("control channel not enabled or project path missing")
		return
	}
	ctrl := client.NewTCPControl(m.cfg.Control.TCPHost, m.cfg.Control.TCPPort)
	resp, err := ctrl.Start(m.cfg.Control.ProjectPath)
	switch {
	case err != nil:
		m.logger.Warn("remote start failed", "error", err)
		return
	case resp == client.TimeoutResponse:
		m.logger.Info("remote start pending, polling status")
	default:
		m.logger.Info("remote start response", "response", resp)
	}
	m.waitStatus(ctx, ctrl, "running", m.statusWaitTimeout)
}

func (m *Manager) pmStop(ctx context.Context) {
	if !m.pmEnabled() {
		return
	}
	ctrl := client.NewTCPControl(m.cfg.Control.TCPHost, m.cfg.Control.TCPPort)
	resp, err := ctrl.Stop(m.cfg.Control.ProjectPath)
	switch {
	case err != nil:
		m.logger.Warn("remote stop failed", "error", err)
		return
	case resp == client.TimeoutResponse:
		m.logger.Info("remote stop pending, polling status")
	default:
		m.logger.Info("remote stop response", "response", resp)
	}
	m.waitStatus(ctx, ctrl, "stopped", m.statusWaitTimeout)
}

func (m *Manager) waitStatus(ctx context.Context, ctrl *client.TCPControl, target string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, err := ctrl.Status(m.cfg.Control.ProjectPath)
		if err == nil && status == target {
			return
		}
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

// ListProjects fetches the remote project catalog when enabled.
func (m *Manager) ListProjects(ctx context.Context) ([]map[string]any, error) {
	if !m.cfg.Control.EnableHTTPList {
		return nil, nil
	}
	return client.NewProjectsHTTP(m.cfg.Control.HTTPListURL).ListProjects(ctx)
}

// -- counters --

// RecordSent counts one dispatched task.
func (m *Manager) RecordSent(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalSent++
	m.sentPaths = append(m.sentPaths, path)
	if len(m.sentPaths) > sentPathsLimit {
		m.sentPaths = m.sentPaths[1:]
	}
}

// UpdateLastData remembers the data tag of the latest dispatch.
func (m *Manager) UpdateLastData(data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastData = data
}

// UpdateLastContext keeps the raw last context for diagnostics and extracts
// the server's production-mode flag when present.
func (m *Manager) UpdateLastContext(ctx models.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastContext = ctx
	m.productionMode = extractProductionMode(ctx)
}

// RecordEvaluation updates the aggregate counters after one analyze
// outcome. A nil context means the task failed before evaluation; it is not
// counted, only surfaced as the last result.
func (m *Manager) RecordEvaluation(completeTimeMS int, oknok string, ctx models.Context, errText string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx != nil {
		m.totalEvaluated++
		if completeTimeMS > 0 {
			m.lastEvalTimeMS = completeTimeMS
			m.evalTimeSumMS += int64(completeTimeMS)
		}
		switch strings.ToUpper(strings.TrimSpace(oknok)) {
		case "OK":
			m.okCount++
		case "NOK":
			m.nokCount++
		}
		if pretty, err := json.MarshalIndent(ctx, "", "  "); err == nil {
			m.lastResultJSON = string(pretty)
		} else {
			m.lastResultJSON = `{"status":"ERROR","error":"invalid-context"}`
		}
		return
	}

	payload := map[string]any{
		"status":    "ERROR",
		"error":     errText,
		"ok_nok":    oknok,
		"timestamp": time.Now().Format("2006-01-02 15:04:05"),
	}
	if raw, err := json.MarshalIndent(payload, "", "  "); err == nil {
		m.lastResultJSON = string(raw)
	}
}

// ResetCounters restores all counters atomically.
func (m *Manager) ResetCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalSent = 0
	m.totalEvaluated = 0
	m.okCount = 0
	m.nokCount = 0
	m.lastEvalTimeMS = 0
	m.evalTimeSumMS = 0
	m.lastResultJSON = "{}"
	m.sentPaths = nil
}

// Snapshot returns a copy-out view of the runtime state. Writers never
// block on readers beyond this short critical section.
func (m *Manager) Snapshot() models.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	avg := 0.0
	if m.totalEvaluated > 0 {
		avg = float64(m.evalTimeSumMS) / float64(m.totalEvaluated)
	}
	return models.Snapshot{
		State:          string(m.state),
		StatusText:     m.statusText,
		TotalSent:      m.totalSent,
		TotalEvaluated: m.totalEvaluated,
		OKCount:        m.okCount,
		NOKCount:       m.nokCount,
		LastEvalTimeMS: m.lastEvalTimeMS,
		AvgEvalTimeMS:  avg,
		LastResultJSON: m.lastResultJSON,
		LastData:       m.lastData,
		ProductionMode: m.productionMode,
	}
}

// Different projects publish the production flag under different spellings.
var productionModeKeys = []string{
	"Production_Mode",
	"production_mode",
	"ProductionMode",
	"productionMode",
	"production mode",
}

func extractProductionMode(ctx models.Context) *bool {
	if ctx == nil {
		return nil
	}
	for _, key := range productionModeKeys {
		value, ok := ctx[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case bool:
			return &v
		case float64:
			if v == 1 {
				return boolPtr(true)
			}
			if v == 0 {
				return boolPtr(false)
			}
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "on":
				return boolPtr(true)
			case "false", "0", "off":
				return boolPtr(false)
			}
		}
	}
	return nil
}

func boolPtr(v bool) *bool { return &v }

// sleepCtx waits for d, returning false when ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
