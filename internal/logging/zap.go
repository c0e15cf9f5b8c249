package logging

import (
	"context"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a *zap.Logger to Logger through its sugared API.
type ZapLogger struct {
	z *zap.Logger
	s *zap.SugaredLogger
}

func NewZapLogger(z *zap.Logger) *ZapLogger {
	return &ZapLogger{z: z, s: z.Sugar()}
}

// NewZap builds a JSON zap logger writing to w at the given level.
func NewZap(w io.Writer, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.RFC3339TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), lvl)
	return zap.New(core, zap.AddCaller()), nil
}

// Zap exposes the underlying logger for libraries that need it directly (ginzap).
func (l *ZapLogger) Zap() *zap.Logger {
	return l.z
}

func (l *ZapLogger) Debug(_ context.Context, msg string, args ...any) {
	l.s.Debugw(msg, args...)
}

func (l *ZapLogger) Info(_ context.Context, msg string, args ...any) {
	l.s.Infow(msg, args...)
}

func (l *ZapLogger) Warn(_ context.Context, msg string, args ...any) {
	l.s.Warnw(msg, args...)
}

func (l *ZapLogger) Error(_ context.Context, msg string, args ...any) {
	l.s.Errorw(msg, args...)
}

func (l *ZapLogger) With(args ...any) Logger {
	s := l.s.With(args...)
	return &ZapLogger{z: s.Desugar(), s: s}
}
