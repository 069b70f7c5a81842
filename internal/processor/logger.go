package processor

import (
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v82"
)

// slogLeveled routes stripe-go's internal logging into slog. Stripe's
// per-request info lines are demoted to debug.
type slogLeveled struct {
	logger *slog.Logger
}

var _ stripe.LeveledLoggerInterface = slogLeveled{}

func (l slogLeveled) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l slogLeveled) Infof(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l slogLeveled) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l slogLeveled) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
