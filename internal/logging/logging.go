// Package logging carries a zap logger through context.Context so that
// request-scoped fields (request id, url, item index) reach every stage of
// the pipeline.
package logging

import (
	"context"

	"go.uber.org/zap"
)

var logger = zap.NewNop()

// SetLogger installs the process logger. A nil logger disables logging.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

type loggingCtxKey int

const (
	logKey = loggingCtxKey(iota)
)

func FromContextS(ctx context.Context) *zap.SugaredLogger {
	return FromContext(ctx).Sugar()
}

func FromContext(ctx context.Context) *zap.Logger {
	if vlog, ok := ctx.Value(logKey).(*zap.Logger); ok {
		return vlog
	}
	return logger
}

func NewContextS(ctx context.Context, fields ...interface{}) (nctx context.Context) {
	nctx, _ = NewContextSL(ctx, fields...)
	return
}

func NewContextSL(ctx context.Context, fields ...interface{}) (nctx context.Context, slog *zap.SugaredLogger) {
	slog = FromContextS(ctx).With(fields...)
	nctx = context.WithValue(ctx, logKey, slog.Desugar())
	return
}

// CopyContext moves the logger of from into to. Used when work outlives the
// context it was started from.
func CopyContext(from, to context.Context) (nctx context.Context) {
	return context.WithValue(to, logKey, FromContext(from))
}

// Build creates the process logger for mode ("prod" or "debug") with an
// optional extra output path.
func Build(mode, filePath string) (*zap.Logger, error) {
	var cfg zap.Config
	if mode == ModeProduction {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	if filePath != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, filePath)
	}
	return cfg.Build()
}

const (
	ModeProduction = "prod"
	ModeDebug      = "debug"
)
