package db

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitafit/internal/models"
)

// runStoreContract exercises behavior every Store implementation must share.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx), "migrations must be re-runnable")

	userID := "user-" + uuid.NewString()
	telegramID := time.Now().UnixNano()

	t.Run("profiles", func(t *testing.T) {
		_, err := s.GetProfile(ctx, userID)
		require.ErrorIs(t, err, models.ErrNotFound)

		lmp := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		p := &models.UserProfile{
			UserID:            userID,
			TelegramID:        &telegramID,
			Name:              "Ana",
			Phase:             models.PhasePregnant,
			LastMenstrualDate: &lmp,
			Goals:             []string{"energia", "sono"},
			ExerciseLevel:     "beginner",
		}
		require.NoError(t, s.UpsertProfile(ctx, p))
		assert.False(t, p.UpdatedAt.IsZero())

		got, err := s.GetProfile(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "Ana", got.Name)
		assert.Equal(t, models.PhasePregnant, got.Phase)
		require.NotNil(t, got.LastMenstrualDate)
		assert.Equal(t, "2026-05-01", got.LastMenstrualDate.Format(time.DateOnly))
		assert.Nil(t, got.DueDate)
		assert.Equal(t, []string{"energia", "sono"}, got.Goals)
		assert.Empty(t, got.Restrictions)
		assert.Equal(t, "beginner", got.ExerciseLevel)
		require.NotNil(t, got.TelegramID)
		assert.Equal(t, telegramID, *got.TelegramID)

		byTelegram, err := s.GetProfileByTelegramID(ctx, telegramID)
		require.NoError(t, err)
		assert.Equal(t, userID, byTelegram.UserID)

		_, err = s.GetProfileByTelegramID(ctx, telegramID+1)
		assert.ErrorIs(t, err, models.ErrNotFound)

		p.Phase = models.PhasePostpartum
		p.Breastfeeding = true
		p.Restrictions = []string{"lactose"}
		require.NoError(t, s.UpsertProfile(ctx, p))

		got, err = s.GetProfile(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, models.PhasePostpartum, got.Phase)
		assert.True(t, got.Breastfeeding)
		assert.Equal(t, []string{"lactose"}, got.Restrictions)
		assert.False(t, got.Premium)
	})

	t.Run("premium", func(t *testing.T) {
		require.NoError(t, s.SetPremium(ctx, userID, true))
		got, err := s.GetProfile(ctx, userID)
		require.NoError(t, err)
		assert.True(t, got.Premium)

		// profile edits keep the entitlement
		got.Name = "Ana Maria"
		require.NoError(t, s.UpsertProfile(ctx, got))
		assert.True(t, got.Premium)

		assert.ErrorIs(t, s.SetPremium(ctx, "nobody-"+uuid.NewString(), true), models.ErrNotFound)
	})

	t.Run("memories", func(t *testing.T) {
		for i, content := range []string{"primeira", "segunda", "terceira"} {
			m := &models.Memory{UserID: userID, Content: content, Importance: i + 1}
			require.NoError(t, s.AddMemory(ctx, m))
			assert.NotZero(t, m.ID)
		}

		mems, err := s.RecentMemories(ctx, userID, 2)
		require.NoError(t, err)
		require.Len(t, mems, 2)
		assert.Equal(t, "terceira", mems[0].Content)
		assert.Equal(t, 3, mems[0].Importance)
		assert.Equal(t, "segunda", mems[1].Content)

		none, err := s.RecentMemories(ctx, "nobody", 5)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("results", func(t *testing.T) {
		base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
		chat := &models.GenerationRecord{
			ID:            uuid.NewString(),
			UserID:        userID,
			Task:          "chat",
			SchemaVersion: 1,
			Payload:       json.RawMessage(`{"reply":"oi","topics":null}`),
			Missing:       []string{"topics"},
			Model:         "gemini-1.5-flash",
			PromptTokens:  120,
			CreatedAt:     base,
		}
		plan := &models.GenerationRecord{
			ID:            uuid.NewString(),
			UserID:        userID,
			Task:          "meal-plan",
			SchemaVersion: 1,
			Payload:       json.RawMessage(`{"dailyCalories":2000}`),
			CreatedAt:     base.Add(time.Hour),
		}
		require.NoError(t, s.SaveResult(ctx, chat))
		require.NoError(t, s.SaveResult(ctx, plan))

		all, err := s.ListResults(ctx, userID, "", 10)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, plan.ID, all[0].ID)
		assert.Equal(t, chat.ID, all[1].ID)
		assert.Empty(t, all[0].Missing)

		chats, err := s.ListResults(ctx, userID, "chat", 10)
		require.NoError(t, err)
		require.Len(t, chats, 1)
		got := chats[0]
		assert.JSONEq(t, string(chat.Payload), string(got.Payload))
		assert.Equal(t, []string{"topics"}, got.Missing)
		assert.Equal(t, "gemini-1.5-flash", got.Model)
		assert.Equal(t, 120, got.PromptTokens)
		assert.True(t, base.Equal(got.CreatedAt))
	})

	t.Run("payments", func(t *testing.T) {
		sessionID := "cs_test_" + uuid.NewString()
		p := &models.Payment{
			UserID:          userID,
			Amount:          1990,
			Currency:        "brl",
			StripeSessionID: sessionID,
			Status:          models.PaymentPending,
		}
		require.NoError(t, s.SavePayment(ctx, p))
		assert.NotZero(t, p.ID)

		require.NoError(t, s.UpdatePaymentStatus(ctx, sessionID, models.PaymentCompleted))

		got, err := s.GetPaymentByStripeID(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentCompleted, got.Status)
		assert.Equal(t, int64(1990), got.Amount)
		assert.Equal(t, userID, got.UserID)

		_, err = s.GetPaymentByStripeID(ctx, "cs_missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.ErrorIs(t, s.UpdatePaymentStatus(ctx, "cs_missing", models.PaymentCompleted), models.ErrNotFound)
	})
}
