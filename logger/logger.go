package logger

import (
	"go.uber.org/zap"

	"github.com/saiset-co/sai-query-cache/types"
)

var customLoggerCreators = make(map[string]types.LoggerCreator)

func RegisterLogger(loggerName string, creator types.LoggerCreator) {
	customLoggerCreators[loggerName] = creator
}

// NewLogger builds the logger named by config.Type, falling back to the zap
// console logger.
func NewLogger(config *types.LoggerConfig) (types.Logger, error) {
	if config == nil {
		return nil, types.ErrLoggerConfigInvalid
	}

	loggerName := "default"
	if config.Type != "" {
		loggerName = config.Type
	}

	switch loggerName {
	case "default", "zap":
		return NewDefaultLogger(config)
	case "nop":
		return NewNop(), nil
	default:
		if creator, exists := customLoggerCreators[loggerName]; exists {
			return creator(config.Config)
		}
		return nil, types.Errorf(types.ErrLoggerTypeUnknown, "logger type: %s", loggerName)
	}
}

func NewNop() types.Logger {
	return NewZapWrapper(zap.NewNop())
}

// Sync flushes buffered log entries when the logger supports it.
func Sync(l types.Logger) {
	if syncer, ok := l.(interface{ Sync() error }); ok {
		_ = syncer.Sync()
	}
}
