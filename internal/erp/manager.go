package erp

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Manager owns the active connector and serializes runtime mode
// switches. Callers always read the current connector through it
// instead of holding their own reference.
type Manager struct {
	factory *Factory
	logger  *zap.Logger

	mu        sync.RWMutex
	mode      string
	connector Connector
}

// NewManager creates a manager with the initial mode's connector built
// but not yet connected.
func NewManager(factory *Factory, initialMode string, logger *zap.Logger) (*Manager, error) {
	conn, err := factory.Build(initialMode)
	if err != nil {
		return nil, err
	}
	return &Manager{
		factory:   factory,
		logger:    logger,
		mode:      initialMode,
		connector: conn,
	}, nil
}

// Current returns the active connector.
func (m *Manager) Current() Connector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connector
}

// Mode returns the active connector mode.
func (m *Manager) Mode() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Connect connects the active connector.
func (m *Manager) Connect(ctx context.Context) error {
	return m.Current().Connect(ctx)
}

// Switch replaces the active connector with a freshly connected one for
// mode. The old connector is disconnected first; if the new one fails
// to connect, the manager is left pointing at the unconnected new
// connector so the failure is visible in health checks. Switching to
// the current mode rebuilds anyway, which is how callers force a
// reconnect after rotating credentials.
func (m *Manager) Switch(ctx context.Context, mode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := m.factory.Build(mode)
	if err != nil {
		return err
	}

	m.logger.Info("Switching ERP connector",
		zap.String("from", m.mode),
		zap.String("to", mode))

	if err := m.connector.Disconnect(); err != nil {
		m.logger.Warn("Failed to disconnect previous connector", zap.Error(err))
	}

	m.mode = mode
	m.connector = next

	if err := next.Connect(ctx); err != nil {
		return fmt.Errorf("switched to %s but connect failed: %w", mode, err)
	}

	m.logger.Info("ERP connector switched", zap.String("mode", mode))
	return nil
}

// Shutdown disconnects the active connector.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.connector.Disconnect(); err != nil {
		m.logger.Warn("Failed to disconnect connector on shutdown", zap.Error(err))
	}
}
