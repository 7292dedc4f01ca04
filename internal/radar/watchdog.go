package radar

import "time"

// GpsWatchdog tracks signal health. It raises GpsLost when no fix arrives
// for GpsFirstTimeout, repeats it every GpsRepeatTimeout while the signal
// stays lost, and only declares the signal acquired again after
// StableSignalAcquisitionCountLimit consecutive good fixes.
type GpsWatchdog struct {
	cfg Config

	lastFix   time.Time
	acquired  bool
	lost      bool
	lastLost  time.Time
	goodFixes int
}

// NewGpsWatchdog returns a watchdog that starts timing at now.
func NewGpsWatchdog(cfg Config, now time.Time) *GpsWatchdog {
	w := &GpsWatchdog{cfg: cfg.withDefaults()}
	w.Reset(now)
	return w
}

// Reset starts a new ride at now: no signal yet, timer running.
func (w *GpsWatchdog) Reset(now time.Time) {
	*w = GpsWatchdog{cfg: w.cfg, lastFix: now}
}

// Acquired reports whether fixes are currently trusted.
func (w *GpsWatchdog) Acquired() bool { return w.acquired }

// Lost reports whether GpsLost has fired and the signal is not back yet.
func (w *GpsWatchdog) Lost() bool { return w.lost }

// GoodFixes is the current run of consecutive good fixes while acquiring.
func (w *GpsWatchdog) GoodFixes() int { return w.goodFixes }

// Fix records a good fix at t and reports whether the signal is acquired.
// The fix that completes the stable run is itself trusted.
func (w *GpsWatchdog) Fix(t time.Time) bool {
	w.lastFix = t
	if w.acquired {
		return true
	}
	w.goodFixes++
	if w.goodFixes >= w.cfg.StableSignalAcquisitionCountLimit {
		w.acquired = true
		w.lost = false
		w.goodFixes = 0
	}
	return w.acquired
}

// Tick checks the silence at now and reports whether GpsLost fires.
func (w *GpsWatchdog) Tick(now time.Time) bool {
	if now.Sub(w.lastFix) < w.cfg.GpsFirstTimeout {
		return false
	}
	if !w.lost {
		w.lost = true
		w.acquired = false
		w.goodFixes = 0
		w.lastLost = now
		return true
	}
	if now.Sub(w.lastLost) >= w.cfg.GpsRepeatTimeout {
		w.lastLost = now
		return true
	}
	return false
}
