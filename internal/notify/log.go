package notify

import (
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/sweeney/clickguard/internal/logic"
)

// LogObserver writes samples and drops to the standard logger.
// Drop lines are rate limited so a bouncing switch cannot flood the log;
// the number of lines held back is reported with the next one let through.
// It is driven from the dispatcher goroutine and is not safe for concurrent use.
type LogObserver struct {
	limiter    *rate.Limiter
	suppressed int
	logf       func(format string, args ...any)
}

// NewLogObserver allows burst drop lines, refilling at one per interval.
func NewLogObserver(interval time.Duration, burst int) *LogObserver {
	return &LogObserver{
		limiter: rate.NewLimiter(rate.Every(interval), burst),
		logf:    log.Printf,
	}
}

// ObserveSample logs the interval.
func (l *LogObserver) ObserveSample(s logic.IntervalSample) {
	l.logf("interval: %.1fms", s.Milliseconds)
}

// ObserveDrop logs the drop unless the limiter is exhausted.
func (l *LogObserver) ObserveDrop(d logic.Drop) {
	if !l.limiter.AllowN(d.Time, 1) {
		l.suppressed++
		return
	}
	if l.suppressed > 0 {
		l.logf("dropped middle click %.1fms after last accepted (threshold %v, %d more not logged)",
			msOf(d.SinceAccepted), d.Threshold, l.suppressed)
		l.suppressed = 0
		return
	}
	l.logf("dropped middle click %.1fms after last accepted (threshold %v)", msOf(d.SinceAccepted), d.Threshold)
}

func msOf(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
