package pipeline

import (
	"time"

	"vitafit/internal/models"
)

// PhaseMetrics are values derived from a profile at a point in time.
// GestationWeek and Trimester are nil unless the phase is PREGNANT and the
// last menstrual date is known.
type PhaseMetrics struct {
	Phase         models.Phase
	AsOf          time.Time
	GestationWeek *int
	Trimester     *int
	Breastfeeding bool
	// Goals are the profile's goals, carried through for every phase.
	Goals []string
}

// ComputePhase derives phase metrics. It never fails: missing or future
// dates leave the derived fields undefined.
func ComputePhase(p models.UserProfile, asOf time.Time) PhaseMetrics {
	m := PhaseMetrics{
		Phase: p.Phase,
		AsOf:  asOf,
		Goals: append([]string(nil), p.Goals...),
	}

	switch p.Phase {
	case models.PhasePregnant:
		if p.LastMenstrualDate == nil {
			break
		}
		days := daysBetween(*p.LastMenstrualDate, asOf)
		if days < 0 {
			break
		}
		week := days / 7
		trimester := trimesterFor(week)
		m.GestationWeek = &week
		m.Trimester = &trimester
	case models.PhasePostpartum:
		m.Breastfeeding = p.Breastfeeding
	}
	return m
}

func trimesterFor(week int) int {
	switch {
	case week <= 13:
		return 1
	case week <= 26:
		return 2
	default:
		return 3
	}
}

// daysBetween counts calendar days from a to b, each taken in its own location.
func daysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
