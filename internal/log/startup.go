// Package log adapts the CLI's step-timed progress reporting to a
// long-running daemon: no terminal spinner (there's no bounded total to
// animate toward when the next "step" is "run until SIGTERM"), but the same
// named-step/duration/summary idiom, logged through zerolog.
//
// Grounded on cmd/cryptorun's internal/log/progress.go StepLogger.
package log

import (
	"time"

	"github.com/rs/zerolog/log"
)

// StartupLogger times the named steps of a daemon's boot sequence and logs
// a per-step duration summary when Finish is called; Fail logs only the
// failing step, with no summary.
type StartupLogger struct {
	steps     []string
	durations []time.Duration
	current   int
	stepStart time.Time
	total     time.Time
}

// NewStartupLogger begins timing a boot sequence of the given steps, in order.
func NewStartupLogger(steps []string) *StartupLogger {
	return &StartupLogger{
		steps:     steps,
		durations: make([]time.Duration, len(steps)),
		current:   -1,
		total:     now(),
	}
}

// StartStep begins timing the next step. Steps must be started in the order
// passed to NewStartupLogger.
func (s *StartupLogger) StartStep(name string) {
	s.current++
	s.stepStart = now()
	log.Info().Str("step", name).Int("step_number", s.current+1).Int("total_steps", len(s.steps)).Msg("startup: step begin")
}

// CompleteStep records the current step's duration.
func (s *StartupLogger) CompleteStep() {
	if s.current < 0 || s.current >= len(s.steps) {
		return
	}
	d := now().Sub(s.stepStart)
	s.durations[s.current] = d
	log.Info().Str("step", s.steps[s.current]).Dur("duration", d).Msg("startup: step complete")
}

// Finish logs the full boot sequence's per-step timing summary.
func (s *StartupLogger) Finish() {
	total := now().Sub(s.total)
	log.Info().Dur("total_duration", total).Msg("startup complete")
	for i, step := range s.steps {
		log.Info().Str("step", step).Dur("duration", s.durations[i]).Msgf("  %d. %s", i+1, step)
	}
}

// Fail logs that the named step aborted the boot sequence.
func (s *StartupLogger) Fail(reason string) {
	name := "unknown"
	if s.current >= 0 && s.current < len(s.steps) {
		name = s.steps[s.current]
	}
	log.Error().Str("failed_step", name).Str("reason", reason).Msg("startup failed")
}

// now is a seam so tests could inject a fixed clock; production always uses
// the wall clock.
var now = time.Now
