package lot

import "github.com/mcdev12/pregao/go/internal/models"

// timer wraps the countdown of a lot or tie-break round. It only moves on tick.
type timer struct {
	models.TimerState
}

func runningTimer(phase models.TimerPhase, seconds int, mode models.DisputeMode) timer {
	if seconds < 0 {
		seconds = 0
	}
	return timer{models.TimerState{
		Phase:            phase,
		RemainingSeconds: seconds,
		Mode:             mode,
		Running:          true,
	}}
}

func sealedTimer(mode models.DisputeMode) timer {
	return timer{models.TimerState{
		Phase: models.TimerPhaseClosed,
		Mode:  mode,
	}}
}

// tick decrements the countdown and reports whether it just reached zero.
// A stopped timer never expires.
func (t *timer) tick() bool {
	if !t.Running {
		return false
	}
	if t.RemainingSeconds > 0 {
		t.RemainingSeconds--
	}
	if t.RemainingSeconds == 0 {
		t.Running = false
		return true
	}
	return false
}

func (t *timer) stop() {
	t.Running = false
}

// visibleRemaining returns the countdown as shown to clients. Hidden and
// stopped timers have no visible countdown.
func (t timer) visibleRemaining() *int {
	if !t.Running || t.Phase == models.TimerPhaseHidden {
		return nil
	}
	v := t.RemainingSeconds
	return &v
}

// initialTimer returns the timer a lot starts with in the given mode.
func initialTimer(mode models.DisputeMode, p Policy, rnd RandSource) (timer, int) {
	switch mode {
	case models.DisputeModeClosed, models.DisputeModeClosedOpen:
		return sealedTimer(mode), 0
	case models.DisputeModeRandom:
		drawn := rnd.Intn(p.RandomMaxSeconds + 1)
		return runningTimer(models.TimerPhaseHidden, drawn, mode), drawn
	default:
		return runningTimer(models.TimerPhaseInitial, p.InitialSeconds, mode), 0
	}
}

// hasExtension reports whether the mode's open phase is followed by a
// renewable extension window.
func hasExtension(mode models.DisputeMode) bool {
	switch mode {
	case models.DisputeModeOpen, models.DisputeModeOpenRestart,
		models.DisputeModeOpenClosed, models.DisputeModeClosedOpen:
		return true
	}
	return false
}
