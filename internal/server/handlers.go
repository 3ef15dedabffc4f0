package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/cors"
	"github.com/stripe/stripe-go/v72"

	"vitafit/internal/auth"
	"vitafit/internal/db"
	"vitafit/internal/llm"
	"vitafit/internal/metrics"
	"vitafit/internal/models"
	"vitafit/internal/payment"
	"vitafit/internal/pipeline"
	"vitafit/pkg/logger"
)

const (
	maxRequestBytes = 12 << 20
	maxWebhookBytes = 64 << 10

	defaultResultsLimit = 20
	maxResultsLimit     = 100
	maxImportance       = 10
)

// Generator runs generation requests.
type Generator interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
	Registry() *pipeline.Registry
}

// Billing is the premium checkout provider.
type Billing interface {
	CheckoutEnabled() bool
	CreateCheckoutSession(userID string) (*payment.Checkout, error)
	VerifyWebhookSignature(payload []byte, sig string) (stripe.Event, error)
}

// Deps are the collaborators of the HTTP API. Billing and Metrics may be nil.
type Deps struct {
	Generator      Generator
	Store          db.Store
	Billing        Billing
	Auth           auth.Middleware
	Metrics        *metrics.Metrics
	Logger         *logger.Logger
	HistoryLimit   int
	AllowedOrigins []string
}

type api struct {
	generator    Generator
	store        db.Store
	billing      Billing
	auth         auth.Middleware
	metrics      *metrics.Metrics
	logger       *logger.Logger
	historyLimit int
}

// NewHandler builds the routed, CORS-enabled and instrumented API handler.
func NewHandler(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	a := &api{
		generator:    d.Generator,
		store:        d.Store,
		billing:      d.Billing,
		auth:         d.Auth,
		metrics:      d.Metrics,
		logger:       d.Logger.Named("api"),
		historyLimit: d.HistoryLimit,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", a.metrics.Handler())

	mux.HandleFunc("GET /api/tasks", a.handleTasks)
	mux.HandleFunc("POST /api/generate/{task}", a.auth.Wrap(a.handleGenerate))
	mux.HandleFunc("GET /api/profile", a.auth.Wrap(a.handleGetProfile))
	mux.HandleFunc("PUT /api/profile", a.auth.Wrap(a.handlePutProfile))
	mux.HandleFunc("POST /api/memories", a.auth.Wrap(a.handleAddMemory))
	mux.HandleFunc("GET /api/results", a.auth.Wrap(a.handleListResults))
	mux.HandleFunc("POST /api/billing/checkout", a.auth.Wrap(a.handleCheckout))
	mux.HandleFunc("POST /webhook/stripe", a.handleStripeWebhook)

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	return a.instrument(c.Handler(mux))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument counts requests by matched route pattern and status code.
func (a *api) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		a.metrics.ObserveRequest(route, strconv.Itoa(sw.status))
	})
}

type errorResponse struct {
	Error      string                     `json:"error"`
	RequestID  string                     `json:"request_id,omitempty"`
	Violations []pipeline.SchemaViolation `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

// ------------------------------------------------------------------
// Tasks: GET /api/tasks
// ------------------------------------------------------------------

type taskInfo struct {
	Kind       pipeline.TaskKind `json:"kind"`
	Version    int               `json:"version"`
	Required   []string          `json:"required"`
	Optional   []string          `json:"optional"`
	Attachment bool              `json:"attachment"`
}

func (a *api) handleTasks(w http.ResponseWriter, r *http.Request) {
	reg := a.generator.Registry()
	tasks := make([]taskInfo, 0, len(reg.Kinds()))
	for _, kind := range reg.Kinds() {
		task, err := reg.Lookup(kind)
		if err != nil {
			continue
		}
		required, optional := task.Schema.FieldNames()
		tasks = append(tasks, taskInfo{
			Kind:       kind,
			Version:    task.Schema.Version,
			Required:   required,
			Optional:   nonNil(optional),
			Attachment: task.Schema.ExpectsAttachment,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// ------------------------------------------------------------------
// Generation: POST /api/generate/{task}
// ------------------------------------------------------------------

type imageRequest struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateRequest struct {
	Message string         `json:"message"`
	Text    string         `json:"text"`
	History []llm.Turn     `json:"history"`
	Options map[string]any `json:"options"`
	Image   *imageRequest  `json:"image"`
}

type generateResponse struct {
	RequestID string            `json:"request_id"`
	Task      pipeline.TaskKind `json:"task"`
	Version   int               `json:"version"`
	Status    pipeline.State    `json:"status"`
	Result    map[string]any    `json:"result"`
	Missing   []string          `json:"missing"`
	Saved     bool              `json:"saved"`
	Model     string            `json:"model,omitempty"`
}

func (a *api) handleGenerate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var body generateRequest
	if err := decodeBody(w, r, maxRequestBytes, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	input, err := body.taskInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	history := body.History
	if a.historyLimit > 0 && len(history) > a.historyLimit {
		history = history[len(history)-a.historyLimit:]
	}

	out, err := a.generator.Run(r.Context(), pipeline.Request{
		UserID:  userID,
		Task:    pipeline.TaskKind(r.PathValue("task")),
		Input:   input,
		History: history,
	})
	if err != nil {
		a.writeGenerationError(w, out, err)
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{
		RequestID: out.RequestID,
		Task:      out.Result.Task,
		Version:   out.Result.Version,
		Status:    out.State,
		Result:    out.Result.Fields,
		Missing:   nonNil(out.Missing),
		Saved:     out.Saved,
		Model:     out.Model,
	})
}

func (b generateRequest) taskInput() (pipeline.TaskInput, error) {
	in := pipeline.TaskInput{Message: b.Message, Text: b.Text}

	if len(b.Options) > 0 {
		in.Options = make(map[string]string, len(b.Options))
		for k, v := range b.Options {
			switch val := v.(type) {
			case string:
				in.Options[k] = val
			case json.Number:
				in.Options[k] = val.String()
			case bool:
				in.Options[k] = strconv.FormatBool(val)
			default:
				return in, fmt.Errorf("option %q must be a string, number or boolean", k)
			}
		}
	}

	if b.Image != nil {
		data, err := base64.StdEncoding.DecodeString(b.Image.Data)
		if err != nil {
			return in, fmt.Errorf("image data is not valid base64: %w", err)
		}
		in.Attachment = &llm.Attachment{MediaType: b.Image.MimeType, Data: data}
	}
	return in, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUnknownTask):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrPremiumRequired):
		return http.StatusPaymentRequired
	case errors.Is(err, pipeline.ErrMalformedOutput),
		errors.Is(err, pipeline.ErrSchemaViolation),
		errors.Is(err, pipeline.ErrUnsupportedPhase),
		errors.Is(err, pipeline.ErrInvalidProfile):
		return http.StatusUnprocessableEntity
	case llm.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case llm.IsRejected(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) writeGenerationError(w http.ResponseWriter, out *pipeline.Outcome, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	if out != nil {
		resp.RequestID = out.RequestID
	}

	var violation *pipeline.SchemaViolationError
	var malformed *pipeline.MalformedOutputError
	switch {
	case errors.As(err, &violation):
		resp.Violations = violation.Violations
	case errors.As(err, &malformed):
		// the decoder message may quote model text
		resp.Error = pipeline.ErrMalformedOutput.Error()
	case status == http.StatusInternalServerError:
		a.logger.Errorw("generation failed", "request_id", resp.RequestID, "error", err)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

// ------------------------------------------------------------------
// Profile: GET/PUT /api/profile
// ------------------------------------------------------------------

type profileRequest struct {
	Name              string       `json:"name"`
	Phase             models.Phase `json:"phase"`
	LastMenstrualDate string       `json:"last_menstrual_date"`
	DueDate           string       `json:"due_date"`
	BabyBirthDate     string       `json:"baby_birth_date"`
	Goals             []string     `json:"goals"`
	Restrictions      []string     `json:"restrictions"`
	Breastfeeding     bool         `json:"is_breastfeeding"`
	ExerciseLevel     string       `json:"exercise_level"`
}

func parseDate(field, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, fmt.Errorf("%s must be YYYY-MM-DD", field)
	}
	return &t, nil
}

func (b profileRequest) profile(userID string) (*models.UserProfile, error) {
	if !b.Phase.Valid() {
		return nil, fmt.Errorf("unknown phase %q", b.Phase)
	}
	p := &models.UserProfile{
		UserID:        userID,
		Name:          strings.TrimSpace(b.Name),
		Phase:         b.Phase,
		Goals:         b.Goals,
		Restrictions:  b.Restrictions,
		Breastfeeding: b.Breastfeeding,
		ExerciseLevel: b.ExerciseLevel,
	}
	var err error
	if p.LastMenstrualDate, err = parseDate("last_menstrual_date", b.LastMenstrualDate); err != nil {
		return nil, err
	}
	if p.DueDate, err = parseDate("due_date", b.DueDate); err != nil {
		return nil, err
	}
	if p.BabyBirthDate, err = parseDate("baby_birth_date", b.BabyBirthDate); err != nil {
		return nil, err
	}
	return p, nil
}

func (a *api) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	p, err := a.store.GetProfile(r.Context(), userID)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		a.logger.Errorw("failed to load profile", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *api) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var body profileRequest
	if err := decodeBody(w, r, maxRequestBytes, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := body.profile(userID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// a linked Telegram account survives profile edits
	existing, err := a.store.GetProfile(r.Context(), userID)
	switch {
	case err == nil:
		p.TelegramID = existing.TelegramID
	case !errors.Is(err, models.ErrNotFound):
		a.logger.Errorw("failed to load profile", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := a.store.UpsertProfile(r.Context(), p); err != nil {
		a.logger.Errorw("failed to save profile", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ------------------------------------------------------------------
// Memories: POST /api/memories
// ------------------------------------------------------------------

type memoryRequest struct {
	Content    string `json:"content"`
	Importance int    `json:"importance"`
}

func (a *api) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var body memoryRequest
	if err := decodeBody(w, r, maxRequestBytes, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	content := strings.TrimSpace(body.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if body.Importance < 0 || body.Importance > maxImportance {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("importance must be between 0 and %d", maxImportance))
		return
	}

	if _, err := a.store.GetProfile(r.Context(), userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		a.logger.Errorw("failed to load profile", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	m := &models.Memory{UserID: userID, Content: content, Importance: body.Importance}
	if err := a.store.AddMemory(r.Context(), m); err != nil {
		a.logger.Errorw("failed to save memory", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ------------------------------------------------------------------
// Results: GET /api/results?task=&limit=
// ------------------------------------------------------------------

func (a *api) handleListResults(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	limit := defaultResultsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxResultsLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxResultsLimit))
			return
		}
		limit = n
	}

	results, err := a.store.ListResults(r.Context(), userID, r.URL.Query().Get("task"), limit)
	if err != nil {
		a.logger.Errorw("failed to list results", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if results == nil {
		results = []models.GenerationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
