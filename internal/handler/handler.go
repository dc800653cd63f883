package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kudos-api/internal/auth"
	"kudos-api/internal/features"
	"kudos-api/internal/middleware"
	"kudos-api/internal/models"
	"kudos-api/internal/scheduler"
	"kudos-api/internal/service"
	"kudos-api/internal/validation"
)

// Sweeper runs one recurring-bonus sweep on demand.
type Sweeper interface {
	RunOnce(ctx context.Context) (scheduler.SweepResult, error)
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	sweeper     Sweeper
	features    *features.Manager
	issuer      *auth.Issuer
	logger      *zap.Logger
	maxBodySize int64
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	// Sweeper backs POST /admin/sweep. Nil disables the endpoint.
	Sweeper  Sweeper
	Features *features.Manager
	// Issuer backs POST /admin/tokens. Nil disables the endpoint.
	Issuer *auth.Issuer
	Logger *zap.Logger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20,
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxBody := opts.MaxBodySize
	if maxBody <= 0 {
		maxBody = DefaultHandlerOptions().MaxBodySize
	}

	return &Handler{
		service:     svc,
		sweeper:     opts.Sweeper,
		features:    opts.Features,
		issuer:      opts.Issuer,
		logger:      logger,
		maxBodySize: maxBody,
	}
}

// Routes mounts every authenticated endpoint on r. The caller must already
// be resolved by middleware.Authenticated.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/me", h.GetMe)
	r.Get("/users/{account_id}", h.GetUser)
	r.Get("/users/by-username/{username}", h.FindUser)

	r.Post("/transfers", h.CreateTransfer)
	r.Get("/recognitions", h.ListRecognitions)
	r.Get("/recognitions/{id}", h.GetRecognition)
	r.Get("/recognitions/{id}/comments", h.ListComments)
	r.Post("/recognitions/{id}/comments", h.AddComment)

	r.Post("/recurring", h.ScheduleRecurring)
	r.Get("/recurring", h.ListRecurring)
	r.Delete("/recurring/{id}", h.CancelRecurring)

	r.Get("/rewards", h.ListRewards)
	r.Post("/rewards/{id}/redeem", h.Redeem)
	r.Get("/redemptions/{id}", h.GetRedemption)

	r.Get("/leaderboard", h.Leaderboard)

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireAdmin(h.service.Admins()))
		h.adminRoutes(r)
	})
}

// GetMe handles GET /me. The first call registers the caller.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, ok := h.ensureCaller(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, user)
}

// GetUser handles GET /users/{account_id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), validation.SanitizeString(chi.URLParam(r, "account_id")))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, user)
}

// FindUser handles GET /users/by-username/{username}
func (h *Handler) FindUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.FindUserByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, user)
}

type transferBody struct {
	ReceiverID       string          `json:"receiver_id"`
	ReceiverUsername string          `json:"receiver_username"`
	Amount           decimal.Decimal `json:"amount"`
	Message          string          `json:"message"`
	Tags             []string        `json:"tags"`
	Scope            string          `json:"scope"`
}

// CreateTransfer handles POST /transfers
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var body transferBody
	if !h.decodeJSON(w, r, &body) {
		return
	}

	giver, ok := h.ensureCaller(w, r)
	if !ok {
		return
	}

	receiverID, err := h.resolveAccount(r.Context(), body.ReceiverID, body.ReceiverUsername)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	rec, err := h.service.Transfer(r.Context(), models.TransferRequest{
		GiverID:    giver.AccountID,
		ReceiverID: receiverID,
		Amount:     body.Amount,
		Message:    body.Message,
		Tags:       body.Tags,
		Scope:      body.Scope,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, rec)
}

// ListRecognitions handles GET /recognitions?scope=&account_id=
func (h *Handler) ListRecognitions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recs, err := h.service.ListRecognitions(r.Context(),
		validation.SanitizeString(q.Get("scope")),
		validation.SanitizeString(q.Get("account_id")),
	)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, recs)
}

// GetRecognition handles GET /recognitions/{id}
func (h *Handler) GetRecognition(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.GetRecognition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, rec)
}

// ListComments handles GET /recognitions/{id}/comments
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.service.ListComments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, comments)
}

// AddComment handles POST /recognitions/{id}/comments
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !h.decodeJSON(w, r, &body) {
		return
	}

	user, ok := h.ensureCaller(w, r)
	if !ok {
		return
	}

	comment, err := h.service.AddComment(r.Context(), user.AccountID, chi.URLParam(r, "id"), body.Text)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, comment)
}

type recurringBody struct {
	ReceiverID       string          `json:"receiver_id"`
	ReceiverUsername string          `json:"receiver_username"`
	Amount           decimal.Decimal `json:"amount"`
	Interval         models.Interval `json:"interval"`
}

// ScheduleRecurring handles POST /recurring
func (h *Handler) ScheduleRecurring(w http.ResponseWriter, r *http.Request) {
	var body recurringBody
	if !h.decodeJSON(w, r, &body) {
		return
	}

	giver, ok := h.ensureCaller(w, r)
	if !ok {
		return
	}

	receiverID, err := h.resolveAccount(r.Context(), body.ReceiverID, body.ReceiverUsername)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	bonus, err := h.service.ScheduleRecurring(r.Context(), models.ScheduleRecurringRequest{
		GiverID:    giver.AccountID,
		ReceiverID: receiverID,
		Amount:     body.Amount,
		Interval:   models.Interval(validation.SanitizeString(string(body.Interval))),
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, bonus)
}

// ListRecurring handles GET /recurring and lists the caller's own bonuses.
func (h *Handler) ListRecurring(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.CallerFrom(r.Context())
	bonuses, err := h.service.ListRecurring(r.Context(), caller.AccountID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, bonuses)
}

// CancelRecurring handles DELETE /recurring/{id}
func (h *Handler) CancelRecurring(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.CallerFrom(r.Context())
	if err := h.service.CancelRecurring(r.Context(), caller.AccountID, chi.URLParam(r, "id")); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRewards handles GET /rewards
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.service.ListRewards(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, rewards)
}

// Redeem handles POST /rewards/{id}/redeem. Rewards that need approval come
// back 202 with a pending request; the rest are settled and return 201.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	user, ok := h.ensureCaller(w, r)
	if !ok {
		return
	}

	req, err := h.service.Redeem(r.Context(), user.AccountID, chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if req.Status == models.RedemptionPending {
		status = http.StatusAccepted
	}
	h.respondJSON(w, status, req)
}

// GetRedemption handles GET /redemptions/{id}. Users only see their own
// requests; admins see all of them.
func (h *Handler) GetRedemption(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.GetRedemption(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	caller, _ := middleware.CallerFrom(r.Context())
	if req.UserID != caller.AccountID && !h.service.Admins().IsAdmin(caller.AccountID) {
		h.respondError(w, http.StatusNotFound, models.ErrNotFound.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, req)
}

// Leaderboard handles GET /leaderboard?scope=&limit=. Without a scope it
// ranks by balance, with one by points received in that scope.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var (
		board []models.LeaderboardEntry
		err   error
	)
	if scope := validation.SanitizeString(q.Get("scope")); scope != "" {
		board, err = h.service.TopByScope(r.Context(), scope, limit)
	} else {
		board, err = h.service.TopByBalance(r.Context(), limit)
	}
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, board)
}

// ensureCaller registers the caller on first contact, refreshing the stored
// username from the token or header.
func (h *Handler) ensureCaller(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "unauthenticated")
		return models.User{}, false
	}

	user, err := h.service.GetOrCreateUser(r.Context(), caller.AccountID, caller.Username)
	if err != nil {
		h.respondServiceError(w, r, err)
		return models.User{}, false
	}
	return user, true
}

// resolveAccount accepts either an account id or a chat username.
func (h *Handler) resolveAccount(ctx context.Context, accountID, username string) (string, error) {
	accountID = validation.SanitizeString(accountID)
	if accountID != "" {
		return accountID, nil
	}
	if validation.SanitizeString(username) == "" {
		return "", &validation.ValidationError{Field: "receiver_id", Message: "is required"}
	}

	user, err := h.service.FindUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	return user.AccountID, nil
}

// decodeJSON reads a size-limited JSON body into dst, answering 400 itself
// when it cannot.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			h.respondError(w, http.StatusBadRequest, "request body is required")
		case errors.As(err, &tooLarge):
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		default:
			h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		}
		return false
	}
	return true
}

// statusFor maps ledger and workflow errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, scheduler.ErrSweepInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		h.respondError(w, status, "internal server error")
		return
	}
	h.respondError(w, status, err.Error())
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
