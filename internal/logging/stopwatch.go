package logging

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// #region stopwatch
// Stopwatch measures wall time from construction.
type Stopwatch struct {
	start time.Time
	now   func() time.Time
}

// StartStopwatch starts a stopwatch at the current time.
func StartStopwatch() *Stopwatch {
	return &Stopwatch{start: time.Now(), now: time.Now}
}

// Elapsed returns the time since start.
func (s *Stopwatch) Elapsed() time.Duration {
	return s.now().Sub(s.start)
}

// String formats elapsed time as H:MM:SS.
func (s *Stopwatch) String() string {
	return FormatDuration(s.Elapsed())
}

// FormatDuration renders d as H:MM:SS, truncated to seconds.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// #endregion stopwatch

// #region parameter-summary
// ParameterSummary describes a model's parameter count, e.g. "3,217,090 parameters (3.2 M)".
func ParameterSummary(n int) string {
	short := humanize.SIWithDigits(float64(n), 1, "")
	return fmt.Sprintf("%s parameters (%s)", humanize.Comma(int64(n)), short)
}

// #endregion parameter-summary
