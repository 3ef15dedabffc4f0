package bot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vitafit/config"
	"vitafit/pkg/logger"
)

const (
	// chatQueueSize bounds the updates buffered for one chat before the
	// receive loop waits.
	chatQueueSize = 16
	// defaultIdleTimeout is how long a chat worker lingers without updates.
	defaultIdleTimeout = 10 * time.Minute
)

type TelegramBot struct {
	bot         *tgbotapi.BotAPI
	idleTimeout time.Duration
	logger      *logger.Logger
}

// NewTelegramBot authorizes against the Bot API. The handler is built by the
// caller with the returned API client.
func NewTelegramBot(cfg config.TelegramConfig, logger *logger.Logger) (*TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	logger.Infow("Authorized on Telegram", "username", bot.Self.UserName)

	return &TelegramBot{
		bot:         bot,
		idleTimeout: cfg.IdleTimeout,
		logger:      logger.Named("telegram"),
	}, nil
}

// API exposes the client for building a Handler.
func (t *TelegramBot) API() *tgbotapi.BotAPI {
	return t.bot
}

// Run polls for updates until ctx is done and waits for in-flight handlers.
func (t *TelegramBot) Run(ctx context.Context, handler *Handler) error {
	// First, remove any existing webhook to ensure we can use polling
	_, err := t.bot.Request(tgbotapi.DeleteWebhookConfig{
		DropPendingUpdates: false,
	})
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60

	updates := t.bot.GetUpdatesChan(updateConfig)
	t.logger.Infow("Started receiving Telegram updates")

	go func() {
		<-ctx.Done()
		t.bot.StopReceivingUpdates()
	}()

	d := newDispatcher(handler.HandleUpdate, t.idleTimeout, t.logger)
	d.run(ctx, updates)
	t.logger.Infow("Telegram bot stopped")
	return nil
}

type chatQueue struct {
	chatID  int64
	updates chan tgbotapi.Update
	// sent counts updates queued so far; only the receive loop touches it.
	sent int
}

type idleSignal struct {
	queue     *chatQueue
	processed int
}

// dispatcher fans updates out to one worker per chat so that chats proceed
// independently while each chat sees its messages in arrival order. A worker
// that stays idle reports it, and the receive loop retires the worker once
// everything queued for that chat has been handled.
type dispatcher struct {
	handle      func(context.Context, tgbotapi.Update)
	idleTimeout time.Duration
	logger      *logger.Logger

	idle    chan idleSignal
	workers atomic.Int64
}

func newDispatcher(handle func(context.Context, tgbotapi.Update), idleTimeout time.Duration, log *logger.Logger) *dispatcher {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &dispatcher{
		handle:      handle,
		idleTimeout: idleTimeout,
		logger:      log,
		idle:        make(chan idleSignal, chatQueueSize),
	}
}

func (d *dispatcher) run(ctx context.Context, updates <-chan tgbotapi.Update) {
	var wg sync.WaitGroup
	queues := make(map[int64]*chatQueue)
	defer func() {
		for _, q := range queues {
			close(q.updates)
		}
		wg.Wait()
	}()

	for {
		var (
			update tgbotapi.Update
			ok     bool
		)
		select {
		case <-ctx.Done():
			return
		case sig := <-d.idle:
			d.retire(queues, sig)
			continue
		case update, ok = <-updates:
			if !ok {
				return
			}
		}

		chat := update.FromChat()
		if chat == nil {
			continue
		}
		q, exists := queues[chat.ID]
		if !exists {
			q = &chatQueue{chatID: chat.ID, updates: make(chan tgbotapi.Update, chatQueueSize)}
			queues[chat.ID] = q
			wg.Add(1)
			d.workers.Add(1)
			go func(q *chatQueue) {
				defer wg.Done()
				defer d.workers.Add(-1)
				d.work(ctx, q, q.updates)
			}(q)
		}

		// a full queue must not block retiring other chats' workers
		for sent := false; !sent; {
			select {
			case q.updates <- update:
				q.sent++
				sent = true
			case sig := <-d.idle:
				if sig.queue != q {
					d.retire(queues, sig)
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

// retire closes a chat's queue when its worker has handled every update sent
// to it. A stale signal leaves the worker running.
func (d *dispatcher) retire(queues map[int64]*chatQueue, sig idleSignal) {
	q := sig.queue
	if queues[q.chatID] != q || q.sent != sig.processed {
		return
	}
	close(q.updates)
	delete(queues, q.chatID)
}

// work must not read q.sent; it only identifies the queue in idle signals.
func (d *dispatcher) work(ctx context.Context, q *chatQueue, in <-chan tgbotapi.Update) {
	timer := time.NewTimer(d.idleTimeout)
	defer timer.Stop()

	processed := 0
	for {
		select {
		case u, ok := <-in:
			if !ok {
				return
			}
			handleSafely(ctx, u, d.handle, d.logger)
			processed++
			timer.Reset(d.idleTimeout)
		case <-timer.C:
			select {
			case d.idle <- idleSignal{queue: q, processed: processed}:
			default:
				// the receive loop is busy; try again after another idle period
			}
			timer.Reset(d.idleTimeout)
		}
	}
}

// dispatch runs a dispatcher until updates is closed or ctx is done.
func dispatch(ctx context.Context, updates <-chan tgbotapi.Update, handle func(context.Context, tgbotapi.Update), log *logger.Logger) {
	newDispatcher(handle, 0, log).run(ctx, updates)
}

func handleSafely(ctx context.Context, u tgbotapi.Update, handle func(context.Context, tgbotapi.Update), log *logger.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("Recovered from panic while processing update", "update_id", u.UpdateID, "error", r)
		}
	}()
	handle(ctx, u)
}
