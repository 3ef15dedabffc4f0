package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vitafit/internal/llm"
	"vitafit/internal/models"
	"vitafit/internal/pipeline"
	"vitafit/pkg/logger"
)

const (
	maxPhotoBytes     = 10 << 20
	memoryImportance  = 5
	defaultHistoryLen = 10
	defaultSessionTTL = 24 * time.Hour
)

const (
	msgWelcome = "Olá, %s! 💜 Eu sou a Vita, sua companheira de saúde. Me conte como você está ou envie a foto de uma refeição para eu analisar."
	msgHelp    = "Envie uma mensagem para conversar comigo ou a foto de um prato para análise nutricional.\n\n" +
		"/lembrar <texto> guarda algo importante sobre você\n/reset começa uma conversa nova\n/help mostra esta ajuda"
	msgReset          = "Conversa reiniciada. Do que você precisa agora?"
	msgRemembered     = "Anotado! Vou levar isso em conta nas próximas conversas."
	msgRememberUsage  = "Use /lembrar seguido do que devo guardar, por exemplo: /lembrar tenho intolerância à lactose"
	msgUnknownCommand = "Comando desconhecido. Use /help para ver o que posso fazer."
	msgUnsupported    = "Por enquanto eu entendo apenas mensagens de texto e fotos de refeições."
	msgPremium        = "Esse recurso é exclusivo para assinantes premium."
	msgUnavailable    = "Estou com instabilidade no momento. Tente novamente em instantes."
	msgInvalidInput   = "Não consegui entender sua mensagem. Pode reformular?"
	msgFailed         = "Desculpe, não consegui gerar uma resposta agora. Tente novamente."
	msgPhotoFailed    = "Não consegui baixar a foto. Pode enviar de novo?"
)

// API is the part of the Telegram client the handler uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Generator runs generation requests.
type Generator interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
}

// Store resolves Telegram users to profiles and records memories.
type Store interface {
	GetProfileByTelegramID(ctx context.Context, telegramID int64) (*models.UserProfile, error)
	UpsertProfile(ctx context.Context, p *models.UserProfile) error
	AddMemory(ctx context.Context, m *models.Memory) error
}

type session struct {
	mu      sync.Mutex
	history []llm.Turn
	// lastUsed is guarded by Handler.sessionsMu.
	lastUsed time.Time
}

// Handler turns Telegram messages into generation requests. Chat history
// is kept per chat in memory.
type Handler struct {
	api          API
	generator    Generator
	store        Store
	httpClient   *http.Client
	logger       *logger.Logger
	historyLimit int

	sessions   map[int64]*session
	sessionsMu sync.Mutex
	sessionTTL time.Duration
	lastSweep  time.Time
	now        func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithSessionTTL sets how long an untouched chat history is kept.
func WithSessionTTL(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.sessionTTL = d
		}
	}
}

func withClock(now func() time.Time) HandlerOption {
	return func(h *Handler) { h.now = now }
}

func NewHandler(api API, generator Generator, store Store, historyLimit int, log *logger.Logger, opts ...HandlerOption) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLen
	}
	h := &Handler{
		api:          api,
		generator:    generator,
		store:        store,
		httpClient:   http.DefaultClient,
		logger:       log.Named("telegram"),
		historyLimit: historyLimit,
		sessions:     make(map[int64]*session),
		sessionTTL:   defaultSessionTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.lastSweep = h.now()
	return h
}

func (h *Handler) session(chatID int64) *session {
	h.sessionsMu.Lock()
	defer h.sessionsMu.Unlock()

	now := h.now()
	if now.Sub(h.lastSweep) >= h.sessionTTL/2 {
		h.sweepSessions(now)
	}

	s, ok := h.sessions[chatID]
	if !ok {
		s = &session{}
		h.sessions[chatID] = s
	}
	s.lastUsed = now
	return s
}

// sweepSessions drops histories idle for longer than the TTL. Callers hold
// sessionsMu.
func (h *Handler) sweepSessions(now time.Time) {
	for id, s := range h.sessions {
		if now.Sub(s.lastUsed) > h.sessionTTL {
			delete(h.sessions, id)
		}
	}
	h.lastSweep = now
}

// HandleUpdate processes one update. Updates of the same chat must be
// handled in order; see dispatch.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	h.logger.Debugw("Received message", "chat_id", msg.Chat.ID, "from", msg.From.ID)

	if msg.IsCommand() {
		h.handleCommand(ctx, msg)
		return
	}

	switch {
	case len(msg.Photo) > 0:
		h.handlePhoto(ctx, msg)
	case strings.TrimSpace(msg.Text) != "":
		h.handleText(ctx, msg)
	default:
		h.reply(msg.Chat.ID, msgUnsupported)
	}
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		p, err := h.profile(ctx, msg.From)
		if err != nil {
			h.logger.Errorw("Failed to load profile", "telegram_id", msg.From.ID, "error", err)
			h.reply(chatID, msgFailed)
			return
		}
		name := p.Name
		if name == "" {
			name = "querida"
		}
		h.reply(chatID, fmt.Sprintf(msgWelcome, name))

	case "help":
		h.reply(chatID, msgHelp)

	case "reset":
		s := h.session(chatID)
		s.mu.Lock()
		s.history = nil
		s.mu.Unlock()
		h.reply(chatID, msgReset)

	case "lembrar":
		content := strings.TrimSpace(msg.CommandArguments())
		if content == "" {
			h.reply(chatID, msgRememberUsage)
			return
		}
		p, err := h.profile(ctx, msg.From)
		if err != nil {
			h.logger.Errorw("Failed to load profile", "telegram_id", msg.From.ID, "error", err)
			h.reply(chatID, msgFailed)
			return
		}
		m := &models.Memory{UserID: p.UserID, Content: content, Importance: memoryImportance}
		if err := h.store.AddMemory(ctx, m); err != nil {
			h.logger.Errorw("Failed to save memory", "user_id", p.UserID, "error", err)
			h.reply(chatID, msgFailed)
			return
		}
		h.reply(chatID, msgRemembered)

	default:
		h.reply(chatID, msgUnknownCommand)
	}
}

func (h *Handler) handleText(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	p, err := h.profile(ctx, msg.From)
	if err != nil {
		h.logger.Errorw("Failed to load profile", "telegram_id", msg.From.ID, "error", err)
		h.reply(chatID, msgFailed)
		return
	}

	s := h.session(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := h.generator.Run(ctx, pipeline.Request{
		UserID:  p.UserID,
		Task:    pipeline.TaskChat,
		Input:   pipeline.TaskInput{Message: msg.Text},
		History: s.history,
	})
	if err != nil {
		h.replyError(chatID, err)
		return
	}

	var reply models.ChatReply
	if err := out.Result.Decode(&reply); err != nil {
		h.logger.Errorw("Failed to decode chat reply", "request_id", out.RequestID, "error", err)
		h.reply(chatID, msgFailed)
		return
	}

	s.history = append(s.history,
		llm.Turn{Role: llm.RoleUser, Content: msg.Text},
		llm.Turn{Role: llm.RoleAssistant, Content: reply.Reply},
	)
	if len(s.history) > h.historyLimit {
		s.history = append([]llm.Turn(nil), s.history[len(s.history)-h.historyLimit:]...)
	}

	h.reply(chatID, reply.Reply)
}

func (h *Handler) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	p, err := h.profile(ctx, msg.From)
	if err != nil {
		h.logger.Errorw("Failed to load profile", "telegram_id", msg.From.ID, "error", err)
		h.reply(chatID, msgFailed)
		return
	}

	// the last size is the largest
	photo := msg.Photo[len(msg.Photo)-1]
	data, err := h.download(ctx, photo.FileID)
	if err != nil {
		h.logger.Errorw("Failed to download photo", "file_id", photo.FileID, "error", err)
		h.reply(chatID, msgPhotoFailed)
		return
	}

	out, err := h.generator.Run(ctx, pipeline.Request{
		UserID: p.UserID,
		Task:   pipeline.TaskMealAnalysis,
		Input: pipeline.TaskInput{
			Attachment: &llm.Attachment{MediaType: "image/jpeg", Data: data},
		},
	})
	if err != nil {
		h.replyError(chatID, err)
		return
	}

	var analysis models.MealAnalysis
	if err := out.Result.Decode(&analysis); err != nil {
		h.logger.Errorw("Failed to decode meal analysis", "request_id", out.RequestID, "error", err)
		h.reply(chatID, msgFailed)
		return
	}
	h.reply(chatID, formatMealAnalysis(analysis))
}

func (h *Handler) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := h.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxPhotoBytes {
		return nil, fmt.Errorf("photo larger than %d bytes", maxPhotoBytes)
	}
	return data, nil
}

// profile resolves the Telegram user, creating a default profile on first contact.
func (h *Handler) profile(ctx context.Context, from *tgbotapi.User) (*models.UserProfile, error) {
	p, err := h.store.GetProfileByTelegramID(ctx, from.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	telegramID := from.ID
	p = &models.UserProfile{
		UserID:     "tg:" + strconv.FormatInt(from.ID, 10),
		TelegramID: &telegramID,
		Name:       from.FirstName,
		Phase:      models.PhaseActive,
	}
	if err := h.store.UpsertProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	h.logger.Infow("Created profile for Telegram user", "user_id", p.UserID)
	return p, nil
}

func (h *Handler) replyError(chatID int64, err error) {
	switch {
	case errors.Is(err, pipeline.ErrPremiumRequired):
		h.reply(chatID, msgPremium)
	case errors.Is(err, pipeline.ErrInvalidInput):
		h.reply(chatID, msgInvalidInput)
	case llm.IsUnavailable(err):
		h.reply(chatID, msgUnavailable)
	default:
		h.reply(chatID, msgFailed)
	}
}

func (h *Handler) reply(chatID int64, text string) {
	if _, err := h.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		h.logger.Errorw("Failed to send message", "chat_id", chatID, "error", err)
	}
}

func formatMealAnalysis(a models.MealAnalysis) string {
	var b strings.Builder
	b.WriteString("🍽️ Análise da refeição\n\n")
	for _, f := range a.Foods {
		if f.Portion != "" {
			fmt.Fprintf(&b, "• %s (%s): %.0f kcal\n", f.Name, f.Portion, f.Calories)
		} else {
			fmt.Fprintf(&b, "• %s: %.0f kcal\n", f.Name, f.Calories)
		}
	}
	fmt.Fprintf(&b, "\nTotal: %.0f kcal\nProteínas: %.0f g | Carboidratos: %.0f g | Gorduras: %.0f g\n",
		a.TotalCalories, a.TotalProtein, a.TotalCarbs, a.TotalFat)

	if a.IsSafeForPregnancy != nil && !*a.IsSafeForPregnancy {
		b.WriteString("\n⚠️ Atenção: alguns itens não são recomendados na gestação.\n")
	}
	for _, w := range a.Warnings {
		fmt.Fprintf(&b, "⚠️ %s\n", w)
	}
	if len(a.Suggestions) > 0 {
		b.WriteString("\nSugestões:\n")
		for _, s := range a.Suggestions {
			fmt.Fprintf(&b, "• %s\n", s)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
