package temporal

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// logAdapter routes Temporal SDK logs into zap
type logAdapter struct {
	sugar *zap.SugaredLogger
}

var _ log.Logger = (*logAdapter)(nil)

func newLogAdapter(logger *zap.Logger) *logAdapter {
	return &logAdapter{sugar: logger.Named("temporal").WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *logAdapter) Debug(msg string, keyvals ...interface{}) { l.sugar.Debugw(msg, keyvals...) }
func (l *logAdapter) Info(msg string, keyvals ...interface{})  { l.sugar.Infow(msg, keyvals...) }
func (l *logAdapter) Warn(msg string, keyvals ...interface{})  { l.sugar.Warnw(msg, keyvals...) }
func (l *logAdapter) Error(msg string, keyvals ...interface{}) { l.sugar.Errorw(msg, keyvals...) }
