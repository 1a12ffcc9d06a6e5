package urgency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyBoundaries(t *testing.T) {
	thresholds := Thresholds{WarningMinutes: 10, UrgentMinutes: 15}

	cases := []struct {
		elapsed float64
		want    Level
	}{
		{0, LevelNormal},
		{5, LevelNormal},
		{9, LevelNormal},
		{9.99, LevelNormal},
		{10, LevelWarning},
		{12, LevelWarning},
		{14, LevelWarning},
		{14.5, LevelWarning},
		{15, LevelUrgent},
		{16, LevelUrgent},
		{240, LevelUrgent},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.elapsed, thresholds), "elapsed=%v", tc.elapsed)
	}
}

func TestClassifyNegativeElapsedIsNormal(t *testing.T) {
	// clock skew between client and server must not light up the display
	assert.Equal(t, LevelNormal, Classify(-3, Thresholds{WarningMinutes: 10, UrgentMinutes: 15}))
}

func TestClassifyOverlappingThresholdsPreferUrgent(t *testing.T) {
	thresholds := Thresholds{WarningMinutes: 15, UrgentMinutes: 15}
	assert.Equal(t, LevelUrgent, Classify(15, thresholds))
	assert.Equal(t, LevelWarning, Classify(15, Thresholds{WarningMinutes: 10, UrgentMinutes: 20}))
}

func TestClassifyPerTenantThresholds(t *testing.T) {
	fastCasual := Thresholds{WarningMinutes: 5, UrgentMinutes: 8}
	steakhouse := Thresholds{WarningMinutes: 25, UrgentMinutes: 40}

	assert.Equal(t, LevelUrgent, Classify(9, fastCasual))
	assert.Equal(t, LevelNormal, Classify(9, steakhouse))
}

func TestClassifyAge(t *testing.T) {
	thresholds := DefaultThresholds
	assert.Equal(t, LevelNormal, ClassifyAge(9*time.Minute+59*time.Second, thresholds))
	assert.Equal(t, LevelWarning, ClassifyAge(10*time.Minute, thresholds))
	assert.Equal(t, LevelUrgent, ClassifyAge(15*time.Minute, thresholds))
}
