// internal/models/records.go
package models

import (
	"encoding/json"
	"time"
)

// GenerationRecord is a validated generation result as stored.
type GenerationRecord struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Task             string          `json:"task"`
	SchemaVersion    int             `json:"schema_version"`
	Payload          json.RawMessage `json:"payload"`
	Missing          []string        `json:"missing"`
	Model            string          `json:"model"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	CreatedAt        time.Time       `json:"created_at"`
}

type Payment struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	StripeSessionID string    `json:"stripe_session_id"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
)

// ChatReply is the decoded form of a chat task result.
type ChatReply struct {
	Reply     string   `json:"reply"`
	FollowUps []string `json:"follow_up_questions,omitempty"`
	Topics    []string `json:"topics,omitempty"`
}

type FoodItem struct {
	Name     string  `json:"name"`
	Portion  string  `json:"portion"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

// MealAnalysis is the decoded form of a meal-analysis task result.
type MealAnalysis struct {
	Foods              []FoodItem `json:"foods"`
	TotalCalories      float64    `json:"totalCalories"`
	TotalProtein       float64    `json:"totalProtein"`
	TotalCarbs         float64    `json:"totalCarbs"`
	TotalFat           float64    `json:"totalFat"`
	IsSafeForPregnancy *bool      `json:"isSafeForPregnancy,omitempty"`
	Warnings           []string   `json:"warnings,omitempty"`
	Suggestions        []string   `json:"suggestions,omitempty"`
}
