package identity

import (
	"math"
	"time"

	"github.com/DavidPainting/dti-characters/internal/store"
)

// TrialProgress is the "day X of N" projection shown in the UI.
type TrialProgress struct {
	TrialDay       int `json:"trial_day"`
	TrialDaysTotal int `json:"trial_days_total"`
	DaysLeft       int `json:"days_left"`
}

// TrialProgressFor derives trial progress from a session's expiry. Days left
// are counted inclusively: a session expiring later today shows one day left.
func TrialProgressFor(sess store.WebSession, totalDays int, now time.Time) TrialProgress {
	if sess.ID == "" || sess.ExpiresAt.IsZero() {
		return TrialProgress{TrialDay: 1, TrialDaysTotal: totalDays, DaysLeft: totalDays}
	}

	secondsLeft := sess.ExpiresAt.Sub(now).Seconds()
	daysLeft := int(math.Ceil(secondsLeft / 86400))
	if daysLeft < 0 {
		daysLeft = 0
	}

	day := totalDays - daysLeft + 1
	if day < 1 {
		day = 1
	}
	if day > totalDays {
		day = totalDays
	}

	return TrialProgress{TrialDay: day, TrialDaysTotal: totalDays, DaysLeft: daysLeft}
}
