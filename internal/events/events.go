// Package events carries human-facing activity messages from components to
// whatever console the session shows. A sink is created once per session and
// passed explicitly to every component that reports activity.
package events

import (
	"go.uber.org/zap"

	"github.com/spigell/livepatch/internal/logger"
)

// Component names the part of the system that produced an event.
type Component string

const (
	ComponentSystem  Component = "system"
	ComponentMerge   Component = "merge"
	ComponentScoring Component = "scoring"
	ComponentDeploy  Component = "deploy"
)

// Level is the severity of an event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Sink receives activity events.
type Sink interface {
	Emit(component Component, level Level, message string)
}

type nopSink struct{}

func (nopSink) Emit(Component, Level, string) {}

// Nop returns a sink that drops everything.
func Nop() Sink { return nopSink{} }

// OrNop returns s, or a no-op sink when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop()
	}
	return s
}

type multiSink []Sink

func (m multiSink) Emit(component Component, level Level, message string) {
	for _, s := range m {
		s.Emit(component, level, message)
	}
}

// Multi fans events out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type zapSink struct {
	logger *zap.Logger
}

// NewZapSink forwards events to structured logs.
func NewZapSink(logger *zap.Logger) Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapSink{logger: logger}
}

func (z *zapSink) Emit(component Component, level Level, message string) {
	field := zap.String(logger.FieldComponent, string(component))
	switch level {
	case LevelError:
		z.logger.Error(message, field)
	case LevelWarning:
		z.logger.Warn(message, field)
	default:
		z.logger.Info(message, field, zap.String("event_level", string(level)))
	}
}
