package logx

import (
	"fmt"

	"github.com/rs/zerolog"
)

// TaskLogger satisfies asynq.Logger so the task server logs through zerolog.
type TaskLogger struct{ L zerolog.Logger }

func (t TaskLogger) Debug(args ...interface{}) { t.L.Debug().Msg(fmt.Sprint(args...)) }
func (t TaskLogger) Info(args ...interface{})  { t.L.Info().Msg(fmt.Sprint(args...)) }
func (t TaskLogger) Warn(args ...interface{})  { t.L.Warn().Msg(fmt.Sprint(args...)) }
func (t TaskLogger) Error(args ...interface{}) { t.L.Error().Msg(fmt.Sprint(args...)) }
func (t TaskLogger) Fatal(args ...interface{}) { t.L.Fatal().Msg(fmt.Sprint(args...)) }
