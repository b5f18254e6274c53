package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New создает консольный zap-логгер для клиента.
// В окружении development уровень Debug и цветные уровни,
// в production — Info без цвета.
func New(appEnv string) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	encodeLevel := zapcore.CapitalLevelEncoder
	if appEnv == "development" {
		level = zapcore.DebugLevel
		encodeLevel = zapcore.CapitalColorLevelEncoder
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   encodeLevel,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stdout),
		level,
	)

	return zap.New(core, zap.AddCaller()).Sugar()
}

// Nop возвращает логгер, который ничего не пишет (для тестов)
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
