package urgency

import "time"

// Level represents how overdue a ticket is on the kitchen display.
type Level string

const (
	LevelNormal  Level = "normal"
	LevelWarning Level = "warning"
	LevelUrgent  Level = "urgent"
)

func (l Level) String() string {
	return string(l)
}

// Thresholds carries a tenant's urgency boundaries in minutes. Both
// boundaries are inclusive: an order exactly at a threshold already holds
// that level.
type Thresholds struct {
	WarningMinutes int `json:"warningMinutes" mapstructure:"warning_minutes"`
	UrgentMinutes  int `json:"urgentMinutes" mapstructure:"urgent_minutes"`
}

// DefaultThresholds matches the platform-wide kitchen defaults applied when
// a tenant has no override configured.
var DefaultThresholds = Thresholds{WarningMinutes: 10, UrgentMinutes: 15}

// ThresholdSource resolves the thresholds of one tenant. Implementations
// fall back to DefaultThresholds for tenants without an override.
type ThresholdSource func(restaurantID string) Thresholds

// Classify maps elapsed minutes since order creation onto an urgency level.
// The urgent boundary is checked first so overlapping thresholds resolve to
// the higher level.
func Classify(elapsedMinutes float64, t Thresholds) Level {
	switch {
	case elapsedMinutes >= float64(t.UrgentMinutes):
		return LevelUrgent
	case elapsedMinutes >= float64(t.WarningMinutes):
		return LevelWarning
	default:
		return LevelNormal
	}
}

// ClassifyAge is Classify for callers holding a duration.
func ClassifyAge(age time.Duration, t Thresholds) Level {
	return Classify(age.Minutes(), t)
}
