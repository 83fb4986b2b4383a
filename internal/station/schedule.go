package station

import "time"

// SleepFor reports how long to sleep when now is outside the operating window
// [wakeHour, sleepHour). The window may wrap midnight. Hours outside 0-23 or
// equal hours disable the window.
func SleepFor(now time.Time, wakeHour, sleepHour int) (time.Duration, bool) {
	if !validHour(wakeHour) || !validHour(sleepHour) || wakeHour == sleepHour {
		return 0, false
	}
	if InWindow(now.Hour(), wakeHour, sleepHour) {
		return 0, false
	}

	wake := time.Date(now.Year(), now.Month(), now.Day(), wakeHour, 0, 0, 0, now.Location())
	if !wake.After(now) {
		wake = wake.AddDate(0, 0, 1)
	}
	return wake.Sub(now), true
}

func InWindow(hour, wakeHour, sleepHour int) bool {
	if wakeHour < sleepHour {
		return hour >= wakeHour && hour < sleepHour
	}
	return hour >= wakeHour || hour < sleepHour
}

func validHour(h int) bool {
	return h >= 0 && h <= 23
}
