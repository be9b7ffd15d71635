package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
)

// cronLogger adapts the service logger to the scheduler's logger interface.
// Scheduler chatter (wake, run, schedule) goes to debug.
type cronLogger struct {
	logg *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logg.Debug(c.fields(keysAndValues), "scheduler: "+msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logg.Error(c.fields(keysAndValues), "scheduler: "+msg, err)
}

func (c cronLogger) fields(keysAndValues []interface{}) context.Context {
	ctx := context.Background()
	if len(keysAndValues) == 0 {
		return ctx
	}
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return c.logg.WithFields(ctx, fields)
}
