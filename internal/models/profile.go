// internal/models/profile.go
package models

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Phase is the user's current life stage.
type Phase string

const (
	PhaseTrying     Phase = "TRYING"
	PhasePregnant   Phase = "PREGNANT"
	PhasePostpartum Phase = "POSTPARTUM"
	PhaseActive     Phase = "ACTIVE"
)

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseTrying, PhasePregnant, PhasePostpartum, PhaseActive:
		return true
	}
	return false
}

type UserProfile struct {
	UserID            string     `json:"user_id"`
	TelegramID        *int64     `json:"telegram_id,omitempty"`
	Name              string     `json:"name"`
	Phase             Phase      `json:"phase"`
	LastMenstrualDate *time.Time `json:"last_menstrual_date,omitempty"`
	DueDate           *time.Time `json:"due_date,omitempty"`
	BabyBirthDate     *time.Time `json:"baby_birth_date,omitempty"`
	Goals             []string   `json:"goals"`
	Restrictions      []string   `json:"restrictions"`
	Breastfeeding     bool       `json:"is_breastfeeding"`
	ExerciseLevel     string     `json:"exercise_level"`
	Premium           bool       `json:"premium"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// AnonymousProfile is the default context used when no stored profile exists.
func AnonymousProfile(userID string) *UserProfile {
	return &UserProfile{
		UserID: userID,
		Phase:  PhaseActive,
	}
}

// Memory is a short snippet remembered about the user.
type Memory struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	Content    string    `json:"content"`
	Importance int       `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
}
