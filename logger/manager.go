package logger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const TypeDefault = "default"

// Manager owns the process logger and flushes it on Stop.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	config          types.ConfigManager
	state           atomic.Value
	shutdownTimeout time.Duration
}

var customLoggerCreators = sync.Map{}

// RegisterLogger makes a logger implementation selectable by logger.type.
func RegisterLogger(loggerName string, creator types.LoggerCreator) {
	customLoggerCreators.Store(loggerName, creator)
}

func NewManager(ctx context.Context, config types.ConfigManager) (*Manager, error) {
	loggerConfig := config.GetConfig().Logger
	if loggerConfig == nil {
		return nil, types.ErrLoggerConfigInvalid
	}

	logger, err := createLogger(loggerConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:             managerCtx,
		cancel:          cancel,
		logger:          logger,
		config:          config,
		shutdownTimeout: 5 * time.Second,
	}
	manager.state.Store(StateStopped)

	return manager, nil
}

func createLogger(loggerConfig *types.LoggerConfig) (types.Logger, error) {
	loggerName := loggerConfig.Type
	if loggerName == "" || loggerName == TypeDefault {
		return NewDefaultLogger(loggerConfig)
	}

	creator, exists := customLoggerCreators.Load(loggerName)
	if !exists {
		return nil, types.Errorf(types.ErrLoggerTypeUnknown, "logger type: %s", loggerName)
	}
	return creator.(types.LoggerCreator)(loggerConfig)
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrAlreadyRunning
	}

	m.setState(StateRunning)
	m.logger.Debug("Logger manager started")
	return nil
}

// Stop flushes buffered entries. A sync that outlives the shutdown timeout is
// abandoned.
func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrNotRunning
	}

	defer func() {
		m.setState(StateStopped)
		m.cancel()
	}()

	syncer, ok := m.logger.(interface{ Sync() error })
	if !ok {
		return nil
	}

	done := make(chan struct{})
	go func() {
		// stdout and stderr report EINVAL on sync; nothing to act on.
		_ = syncer.Sync()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(m.shutdownTimeout):
	}
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

// Component returns a logger that tags every entry with the component name.
func (m *Manager) Component(name string) types.Logger {
	return Component(m.logger, name)
}

// Component tags l with a component field when l supports child loggers.
func Component(l types.Logger, name string) types.Logger {
	if parent, ok := l.(interface {
		With(fields ...zap.Field) types.Logger
	}); ok {
		return parent.With(zap.String("component", name))
	}
	return l
}

func (m *Manager) Error(msg string, fields ...zap.Field) {
	m.logger.Error(msg, fields...)
}

type stackLogger interface {
	ErrorWithErrStack(msg string, err error, fields ...zap.Field)
}

// ErrorWithErrStack prints the pkg/errors stack of err when the backing logger supports it.
func (m *Manager) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	if sl, ok := m.logger.(stackLogger); ok {
		sl.ErrorWithErrStack(msg, err, fields...)
		return
	}
	m.logger.Error(msg, append(fields, zap.Error(err))...)
}

func (m *Manager) Warn(msg string, fields ...zap.Field) {
	m.logger.Warn(msg, fields...)
}

func (m *Manager) Info(msg string, fields ...zap.Field) {
	m.logger.Info(msg, fields...)
}

func (m *Manager) Debug(msg string, fields ...zap.Field) {
	m.logger.Debug(msg, fields...)
}

func (m *Manager) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	m.logger.Log(lvl, msg, fields...)
}
