// Package pipeline implements the structured generation contract: phase
// computation, context assembly, prompt building, response validation and
// result classification around a single model invocation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vitafit/config"
	"vitafit/internal/llm"
	"vitafit/internal/models"
	"vitafit/pkg/logger"
)

// maxAttemptsCap bounds re-invocations against a paid endpoint regardless of configuration.
const maxAttemptsCap = 3

// ProfileSource supplies profile snapshots. A missing profile is reported
// with models.ErrNotFound.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
}

// MemorySource supplies remembered snippets, most recent first.
type MemorySource interface {
	RecentMemories(ctx context.Context, userID string, limit int) ([]models.Memory, error)
}

// ResultStore persists validated results.
type ResultStore interface {
	SaveResult(ctx context.Context, rec *models.GenerationRecord) error
}

// Recorder receives pipeline measurements.
type Recorder interface {
	ObserveUpstream(task string, d time.Duration, err error)
	ObserveTokens(task string, prompt, completion int)
	ObserveOutcome(task, state, decision string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveUpstream(string, time.Duration, error) {}
func (nopRecorder) ObserveTokens(string, int, int)               {}
func (nopRecorder) ObserveOutcome(string, string, string)        {}

// Request is one generation request.
type Request struct {
	// UserID is the authenticated user. Empty means anonymous: no profile,
	// no memories and nothing persisted.
	UserID  string
	Task    TaskKind
	Input   TaskInput
	History []llm.Turn
}

// Pipeline runs generation requests. It holds no per-request state and is
// safe for concurrent use.
type Pipeline struct {
	registry *Registry
	invoker  llm.Invoker
	profiles ProfileSource
	memories MemorySource
	results  ResultStore
	log      *logger.Logger
	recorder Recorder
	now      func() time.Time

	maxMemories      int
	memoryFetchLimit int
	maxAttempts      int
	timeout          time.Duration
	premium          map[TaskKind]bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRegistry replaces the built-in task registry.
func WithRegistry(r *Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithClock sets the time source used for phase computation.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithTimeout bounds each model invocation.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithConfig applies the pipeline section of the configuration.
func WithConfig(cfg config.PipelineConfig) Option {
	return func(p *Pipeline) {
		p.maxMemories = cfg.MaxMemories
		p.memoryFetchLimit = cfg.MemoryFetchLimit
		p.maxAttempts = cfg.MaxAttempts
		p.premium = make(map[TaskKind]bool, len(cfg.PremiumTasks))
		for _, t := range cfg.PremiumTasks {
			p.premium[TaskKind(t)] = true
		}
	}
}

// New creates a pipeline. profiles, memories and results may be nil, in
// which case every user is anonymous, no memories are used and nothing is persisted.
func New(invoker llm.Invoker, profiles ProfileSource, memories MemorySource, results ResultStore, log *logger.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	p := &Pipeline{
		registry:         DefaultRegistry(),
		invoker:          invoker,
		profiles:         profiles,
		memories:         memories,
		results:          results,
		log:              log.Named("pipeline"),
		recorder:         nopRecorder{},
		now:              time.Now,
		maxMemories:      5,
		memoryFetchLimit: 20,
		maxAttempts:      1,
		timeout:          60 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}
	if p.maxAttempts > maxAttemptsCap {
		p.maxAttempts = maxAttemptsCap
	}
	if p.memoryFetchLimit < p.maxMemories {
		p.memoryFetchLimit = p.maxMemories
	}
	return p
}

// Registry returns the task registry in use.
func (p *Pipeline) Registry() *Registry { return p.registry }

// Run executes one request end to end. The returned outcome is never nil.
// The error is nil exactly when the outcome is accepted or partial; only
// those outcomes are persisted.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Outcome, error) {
	requestID := uuid.NewString()
	log := p.log.With("request_id", requestID, "task", string(req.Task), "user_id", req.UserID)

	fail := func(err error) (*Outcome, error) {
		log.Warnw("generation rejected before invocation", "error", err)
		p.recorder.ObserveOutcome(string(req.Task), string(StateRejected), string(DecisionFail))
		return &Outcome{State: StateRejected, Decision: DecisionFail, Err: err, RequestID: requestID}, err
	}

	task, err := p.registry.Lookup(req.Task)
	if err != nil {
		return fail(err)
	}
	if err := checkHistory(task, req.History); err != nil {
		return fail(err)
	}

	profile, err := p.loadProfile(ctx, req.UserID)
	if err != nil {
		return fail(err)
	}
	if p.premium[task.Schema.Kind] && !profile.Premium {
		return fail(fmt.Errorf("%w: task %s", ErrPremiumRequired, task.Schema.Kind))
	}

	metrics := ComputePhase(*profile, p.now())
	gc, err := BuildContext(profile, metrics, p.loadMemories(ctx, log, req.UserID), p.maxMemories)
	if err != nil {
		return fail(err)
	}
	payload, err := BuildPrompt(gc, task, req.Input)
	if err != nil {
		return fail(err)
	}

	var (
		out Outcome
		raw *llm.RawResponse
	)
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		raw, err = p.invoke(ctx, task, payload, req.History)
		var res *StructuredResult
		if err == nil {
			res, err = ParseAndValidate(raw.Text, task.Schema)
		}
		out = Classify(res, err)
		out.Attempts = attempt
		if raw != nil {
			out.Model = raw.Model
			out.Latency = raw.Latency
		}

		var malformed *MalformedOutputError
		if errors.As(err, &malformed) {
			log.Debugw("malformed model output", "attempt", attempt, "raw", malformed.Raw)
		}
		if out.Decision != DecisionRetry || attempt == p.maxAttempts || ctx.Err() != nil {
			break
		}
		log.Infow("retrying generation", "attempt", attempt, "error", err)
	}
	out.RequestID = requestID

	if out.Decision == DecisionRetry {
		// attempts exhausted
		out.Decision = DecisionFail
	}
	if out.Decision == DecisionPersist {
		out.Saved = p.persist(ctx, log, req, task, raw, out.Result)
	}

	p.recorder.ObserveOutcome(string(req.Task), string(out.State), string(out.Decision))
	if out.Err != nil {
		log.Warnw("generation rejected", "attempts", out.Attempts, "error", out.Err)
		return &out, out.Err
	}
	log.Infow("generation completed",
		"state", out.State,
		"attempts", out.Attempts,
		"missing", out.Missing,
		"model", out.Model,
		"latency", out.Latency,
		"saved", out.Saved,
	)
	return &out, nil
}

func (p *Pipeline) invoke(ctx context.Context, task Task, payload llm.Payload, history []llm.Turn) (*llm.RawResponse, error) {
	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := p.invoker.Invoke(callCtx, payload, history)
	elapsed := time.Since(start)
	if err == nil && raw == nil {
		err = &MalformedOutputError{Err: errors.New("empty response")}
	}
	if err != nil && callCtx.Err() != nil && !llm.IsUnavailable(err) {
		err = &llm.UnavailableError{Err: fmt.Errorf("%w: %v", callCtx.Err(), err)}
	}
	p.recorder.ObserveUpstream(string(task.Schema.Kind), elapsed, err)
	if err != nil {
		return nil, err
	}
	if raw.Latency == 0 {
		raw.Latency = elapsed
	}
	p.recorder.ObserveTokens(string(task.Schema.Kind), raw.PromptTokens, raw.CompletionTokens)
	return raw, nil
}

func (p *Pipeline) loadProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	if userID == "" || p.profiles == nil {
		return models.AnonymousProfile(userID), nil
	}
	profile, err := p.profiles.GetProfile(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return models.AnonymousProfile(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		return nil, ErrInvalidProfile
	}
	return profile, nil
}

// loadMemories treats memories as optional context: a failed lookup is logged, not fatal.
func (p *Pipeline) loadMemories(ctx context.Context, log *logger.Logger, userID string) []models.Memory {
	if userID == "" || p.memories == nil || p.maxMemories <= 0 {
		return nil
	}
	mems, err := p.memories.RecentMemories(ctx, userID, p.memoryFetchLimit)
	if err != nil {
		log.Warnw("memories unavailable", "error", err)
		return nil
	}
	return mems
}

func (p *Pipeline) persist(ctx context.Context, log *logger.Logger, req Request, task Task, raw *llm.RawResponse, res *StructuredResult) bool {
	if req.UserID == "" || p.results == nil {
		return false
	}
	payload, err := res.JSON()
	if err != nil {
		log.Errorw("failed to encode result", "error", err)
		return false
	}
	rec := &models.GenerationRecord{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		Task:          string(task.Schema.Kind),
		SchemaVersion: task.Schema.Version,
		Payload:       payload,
		Missing:       res.Missing,
		CreatedAt:     p.now().UTC(),
	}
	if raw != nil {
		rec.Model = raw.Model
		rec.PromptTokens = raw.PromptTokens
		rec.CompletionTokens = raw.CompletionTokens
	}
	if err := p.results.SaveResult(ctx, rec); err != nil {
		log.Errorw("failed to save result", "error", err)
		return false
	}
	return true
}

func checkHistory(task Task, history []llm.Turn) error {
	if len(history) == 0 {
		return nil
	}
	if task.Schema.Kind != TaskChat {
		return invalidInput("task %s does not take conversation history", task.Schema.Kind)
	}
	for i, t := range history {
		if t.Role != llm.RoleUser && t.Role != llm.RoleAssistant {
			return invalidInput("history turn %d has unknown role %q", i, t.Role)
		}
	}
	return nil
}
