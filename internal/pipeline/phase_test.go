package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitafit/internal/models"
)

var testNow = time.Date(2026, 10, 19, 15, 30, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	t := testNow.AddDate(0, 0, -n)
	return &t
}

func TestComputePhase_GestationWeekAndTrimester(t *testing.T) {
	tests := []struct {
		name          string
		days          int
		wantWeek      int
		wantTrimester int
	}{
		{name: "day zero", days: 0, wantWeek: 0, wantTrimester: 1},
		{name: "six days", days: 6, wantWeek: 0, wantTrimester: 1},
		{name: "week 13 is first trimester", days: 13*7 + 6, wantWeek: 13, wantTrimester: 1},
		{name: "week 14 is second trimester", days: 14 * 7, wantWeek: 14, wantTrimester: 2},
		{name: "140 days", days: 140, wantWeek: 20, wantTrimester: 2},
		{name: "week 26 is second trimester", days: 26*7 + 6, wantWeek: 26, wantTrimester: 2},
		{name: "week 27 is third trimester", days: 27 * 7, wantWeek: 27, wantTrimester: 3},
		{name: "week 41", days: 41*7 + 2, wantWeek: 41, wantTrimester: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := models.UserProfile{Phase: models.PhasePregnant, LastMenstrualDate: daysAgo(tt.days)}

			m := ComputePhase(p, testNow)

			require.NotNil(t, m.GestationWeek)
			require.NotNil(t, m.Trimester)
			assert.Equal(t, tt.wantWeek, *m.GestationWeek)
			assert.Equal(t, tt.wantTrimester, *m.Trimester)
			assert.Equal(t, models.PhasePregnant, m.Phase)
			assert.Equal(t, testNow, m.AsOf)
		})
	}
}

func TestComputePhase_CalendarDaysIgnoreTimeOfDay(t *testing.T) {
	lmp := time.Date(2026, 6, 1, 23, 59, 0, 0, time.UTC)
	asOf := time.Date(2026, 6, 8, 0, 1, 0, 0, time.UTC)

	m := ComputePhase(models.UserProfile{Phase: models.PhasePregnant, LastMenstrualDate: &lmp}, asOf)

	require.NotNil(t, m.GestationWeek)
	assert.Equal(t, 1, *m.GestationWeek)
}

func TestComputePhase_UndefinedWeek(t *testing.T) {
	tests := []struct {
		name    string
		profile models.UserProfile
	}{
		{name: "pregnant without last menstrual date", profile: models.UserProfile{Phase: models.PhasePregnant}},
		{name: "pregnant with future date", profile: models.UserProfile{Phase: models.PhasePregnant, LastMenstrualDate: daysAgo(-3)}},
		{name: "postpartum ignores dates", profile: models.UserProfile{Phase: models.PhasePostpartum, LastMenstrualDate: daysAgo(300)}},
		{name: "active", profile: models.UserProfile{Phase: models.PhaseActive, LastMenstrualDate: daysAgo(20)}},
		{name: "trying", profile: models.UserProfile{Phase: models.PhaseTrying, LastMenstrualDate: daysAgo(20)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ComputePhase(tt.profile, testNow)
			assert.Nil(t, m.GestationWeek)
			assert.Nil(t, m.Trimester)
		})
	}
}

func TestComputePhase_CarriesPhaseFlags(t *testing.T) {
	postpartum := ComputePhase(models.UserProfile{Phase: models.PhasePostpartum, Breastfeeding: true}, testNow)
	assert.True(t, postpartum.Breastfeeding)

	goals := []string{"ganhar força", "correr 5 km"}
	active := ComputePhase(models.UserProfile{Phase: models.PhaseActive, Goals: goals, Breastfeeding: true}, testNow)
	assert.Equal(t, goals, active.Goals)
	assert.False(t, active.Breastfeeding)

	// the metrics own their goals
	goals[0] = "outro"
	assert.Equal(t, "ganhar força", active.Goals[0])

	// breastfeeding only matters after birth
	pregnant := ComputePhase(models.UserProfile{Phase: models.PhasePregnant, Breastfeeding: true}, testNow)
	assert.False(t, pregnant.Breastfeeding)
}
