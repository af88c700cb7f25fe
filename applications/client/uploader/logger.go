package uploader

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-retryablehttp"
)

// leveledLogger lets retryablehttp log through go-kit.
type leveledLogger struct {
	logger log.Logger
}

var _ retryablehttp.LeveledLogger = leveledLogger{}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	level.Error(l.logger).Log(append([]interface{}{"msg", msg}, keysAndValues...)...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	level.Info(l.logger).Log(append([]interface{}{"msg", msg}, keysAndValues...)...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	level.Debug(l.logger).Log(append([]interface{}{"msg", msg}, keysAndValues...)...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	level.Warn(l.logger).Log(append([]interface{}{"msg", msg}, keysAndValues...)...)
}
