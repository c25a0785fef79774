// Package governor paces the scan loop. It never calls the fetcher; it only
// observes cycle outcomes and answers "should we scan now" and "sleep how
// long", keeping the polling cadence jittered and unfingerprintable.
package governor

import (
	"log/slog"
	"math/rand"
	"time"

	"github.com/mkravets/orderwatch/internal/model"
)

// State of the scan pacing machine.
type State int

const (
	Normal State = iota
	Backoff
	CaptchaPause
	NightPause
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case Backoff:
		return "backoff"
	case CaptchaPause:
		return "captcha_pause"
	case NightPause:
		return "night_pause"
	default:
		return "unknown"
	}
}

// Config holds the pacing knobs. NightStart/NightEnd are offsets from local
// midnight; equal values disable the quiet window.
type Config struct {
	BaseInterval time.Duration
	MinInterval  time.Duration
	MaxInterval  time.Duration
	CaptchaPause time.Duration
	NightStart   time.Duration
	NightEnd     time.Duration
	// BackoffThreshold is how many consecutive errors are tolerated before
	// the interval starts growing.
	BackoffThreshold  int
	BackoffMultiplier float64
	BackoffCap        time.Duration
	// JitterFrac perturbs every computed interval by ±frac. Zero falls back
	// to the default so a period is never fixed.
	JitterFrac float64
}

const defaultJitterFrac = 0.2

// Feedback is the per-cycle summary the orchestrator reports.
type Feedback struct {
	Signal     model.Signal
	NewCount   int
	Duplicates int
	Errored    bool // unrecoverable cycle error (fetch/store)
}

// Governor owns the pacing state. It is mutated only by the orchestrator
// goroutine; no locking by design.
type Governor struct {
	cfg    Config
	logger *slog.Logger

	now       func() time.Time
	randFloat func() float64

	state             State
	interval          time.Duration
	consecutiveEmpty  int
	consecutiveErrors int
	captchaFlag       bool
	pausedUntil       time.Time
}

// Option configures a Governor, used by tests to inject clock and randomness.
type Option func(*Governor)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithRand replaces the jitter source. f must return values in [0, 1).
func WithRand(f func() float64) Option {
	return func(g *Governor) { g.randFloat = f }
}

// New creates a governor in the NORMAL state at the base interval.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Governor {
	if cfg.JitterFrac <= 0 {
		cfg.JitterFrac = defaultJitterFrac
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 2
	}
	g := &Governor{
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		randFloat: rand.Float64,
		state:     Normal,
		interval:  cfg.BaseInterval,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.interval = g.jittered(cfg.BaseInterval)
	return g
}

// Observe feeds one cycle's outcome in and recomputes state and interval.
func (g *Governor) Observe(fb Feedback) {
	prev := g.state

	switch {
	case fb.Signal == model.SignalCaptcha:
		// A captcha must not be silently retried: pause for the configured
		// duration and resume on expiry, not on retry success.
		g.state = CaptchaPause
		g.captchaFlag = true
		g.pausedUntil = g.now().Add(g.cfg.CaptchaPause)
		g.consecutiveErrors = 0
		g.interval = g.jittered(g.cfg.BaseInterval)

	case fb.Signal == model.SignalRateLimit:
		g.consecutiveErrors++
		g.enterBackoff()

	case fb.Errored || fb.Signal == model.SignalError:
		g.consecutiveErrors++
		if g.consecutiveErrors > g.cfg.BackoffThreshold {
			g.enterBackoff()
		} else {
			g.interval = g.jittered(g.cfg.BaseInterval)
		}

	default:
		// Clean success resets backoff to the base interval.
		g.consecutiveErrors = 0
		g.captchaFlag = false
		g.state = Normal
		if fb.NewCount == 0 {
			g.consecutiveEmpty++
		} else {
			g.consecutiveEmpty = 0
		}
		// Quiet stretches relax the cadence a little; a hit snaps it back.
		stretch := 1.0 + 0.25*float64(min(g.consecutiveEmpty, 8))
		g.interval = g.jittered(time.Duration(float64(g.cfg.BaseInterval) * stretch))
	}

	if g.state != prev {
		g.logger.Info("governor transition",
			"from", prev.String(),
			"to", g.state.String(),
			"interval", g.interval.String(),
			"consecutive_errors", g.consecutiveErrors,
		)
	}
}

func (g *Governor) enterBackoff() {
	g.state = Backoff
	over := g.consecutiveErrors - g.cfg.BackoffThreshold
	if over < 1 {
		over = 1
	}
	d := float64(g.cfg.BaseInterval)
	for i := 0; i < over; i++ {
		d *= g.cfg.BackoffMultiplier
		if g.cfg.BackoffCap > 0 && d > float64(g.cfg.BackoffCap) {
			d = float64(g.cfg.BackoffCap)
			break
		}
	}
	g.interval = g.jittered(time.Duration(d))
}

// ShouldScan reports whether a scan may be issued right now.
func (g *Governor) ShouldScan() bool {
	now := g.now()

	if g.state == CaptchaPause {
		if now.Before(g.pausedUntil) {
			return false
		}
		// Pause expired on the clock, not on a retry.
		g.state = Normal
		g.pausedUntil = time.Time{}
	}

	if g.inNightWindow(now) {
		g.state = NightPause
		return false
	}
	if g.state == NightPause {
		g.state = Normal
	}

	return true
}

// NextDelay returns how long the orchestrator should sleep before the next
// scan attempt. While paused it is the time until the later of the captcha
// and night resume points, plus jitter; otherwise the current interval.
func (g *Governor) NextDelay() time.Duration {
	now := g.now()

	resume := time.Time{}
	if g.state == CaptchaPause && now.Before(g.pausedUntil) {
		resume = g.pausedUntil
	}
	if g.inNightWindow(now) {
		if end := g.nightEnd(now); end.After(resume) {
			resume = end
		}
	}

	if !resume.IsZero() {
		// Jitter past the resume point so wake-ups are not clock-aligned.
		extra := time.Duration(g.randFloat() * float64(g.cfg.MinInterval))
		return resume.Sub(now) + extra
	}

	return g.clamp(g.interval)
}

// State returns the current pacing state.
func (g *Governor) State() State {
	return g.state
}

// Snapshot is an operator-facing view of the governor.
type Snapshot struct {
	State             State
	Interval          time.Duration
	ConsecutiveEmpty  int
	ConsecutiveErrors int
	CaptchaFlag       bool
	PausedUntil       time.Time
}

// Snapshot returns a copy of the governor's observable state.
func (g *Governor) Snapshot() Snapshot {
	return Snapshot{
		State:             g.state,
		Interval:          g.interval,
		ConsecutiveEmpty:  g.consecutiveEmpty,
		ConsecutiveErrors: g.consecutiveErrors,
		CaptchaFlag:       g.captchaFlag,
		PausedUntil:       g.pausedUntil,
	}
}

// jittered perturbs d by ±JitterFrac and clamps to [min, max]. Intervals are
// never a fixed period.
func (g *Governor) jittered(d time.Duration) time.Duration {
	j := float64(d) * g.cfg.JitterFrac
	return g.clamp(time.Duration(float64(d) + (g.randFloat()*2-1)*j))
}

func (g *Governor) clamp(d time.Duration) time.Duration {
	if g.cfg.MinInterval > 0 && d < g.cfg.MinInterval {
		return g.cfg.MinInterval
	}
	if g.cfg.MaxInterval > 0 && d > g.cfg.MaxInterval {
		return g.cfg.MaxInterval
	}
	return d
}

// inNightWindow reports whether the local time-of-day falls in the quiet
// window. The window may wrap midnight.
func (g *Governor) inNightWindow(now time.Time) bool {
	if g.cfg.NightStart == g.cfg.NightEnd {
		return false
	}
	m := timeOfDay(now)
	if g.cfg.NightStart < g.cfg.NightEnd {
		return m >= g.cfg.NightStart && m < g.cfg.NightEnd
	}
	return m >= g.cfg.NightStart || m < g.cfg.NightEnd
}

// nightEnd returns the next moment the quiet window closes.
func (g *Governor) nightEnd(now time.Time) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := midnight.Add(g.cfg.NightEnd)
	if !end.After(now) {
		end = end.Add(24 * time.Hour)
	}
	return end
}

func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}
