package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"kudos-api/internal/auth"
	"kudos-api/internal/database"
	"kudos-api/internal/features"
	"kudos-api/internal/middleware"
	"kudos-api/internal/models"
	"kudos-api/internal/scheduler"
	"kudos-api/internal/service"
	"kudos-api/internal/validation"
)

const testAdmin = "admin"

type testServer struct {
	router *chi.Mux
	svc    *service.Service
	flags  *features.Manager
	issuer *auth.Issuer
}

func setupTestHandler(t *testing.T) *testServer {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "handler.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	flags := features.NewManager(nil)
	svc := service.NewService(db,
		service.WithAdmins(auth.NewStaticAdmins(testAdmin)),
		service.WithFeatures(flags),
	)
	issuer := auth.NewIssuer("test-secret", time.Hour)

	h := NewHandlerWithOptions(svc, NewHandlerOptions{
		MaxBodySize: 4 << 10,
		Sweeper:     scheduler.New(svc, flags, nil),
		Features:    flags,
		Issuer:      issuer,
	})

	return &testServer{router: setupRouter(h, nil), svc: svc, flags: flags, issuer: issuer}
}

func setupRouter(h *Handler, issuer *auth.Issuer) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticated(issuer))
		h.Routes(r)
	})
	return r
}

// do sends a request as accountID (anonymous when empty) and returns the
// recorder. body may be a string of raw JSON or any value to encode.
func (s *testServer) do(t *testing.T, method, path, accountID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if accountID != "" {
		req.Header.Set(middleware.AccountHeader, accountID)
		req.Header.Set(middleware.UsernameHeader, accountID)
	}

	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

func TestHealthCheck(t *testing.T) {
	s := setupTestHandler(t)

	rr := s.do(t, "GET", "/health", "", nil)
	expectStatus(t, rr, http.StatusOK)

	if rr.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", rr.Body.String())
	}
}

func TestAuthenticationRequired(t *testing.T) {
	s := setupTestHandler(t)

	rr := s.do(t, "GET", "/me", "", nil)
	expectStatus(t, rr, http.StatusUnauthorized)
}

func TestGetMe_RegistersCaller(t *testing.T) {
	s := setupTestHandler(t)

	rr := s.do(t, "GET", "/me", "alice", nil)
	expectStatus(t, rr, http.StatusOK)

	user := decode[models.User](t, rr)
	if user.AccountID != "alice" || user.Username != "alice" {
		t.Errorf("Unexpected user: %+v", user)
	}
	if !user.Balance.Equal(service.DefaultStartingBalance) {
		t.Errorf("Expected starting balance %s, got %s", service.DefaultStartingBalance, user.Balance)
	}

	rr = s.do(t, "GET", "/users/by-username/@alice", "bob", nil)
	expectStatus(t, rr, http.StatusOK)

	rr = s.do(t, "GET", "/users/nobody", "bob", nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestCreateTransfer(t *testing.T) {
	s := setupTestHandler(t)
	s.do(t, "GET", "/me", "bob", nil)

	rr := s.do(t, "POST", "/transfers", "alice", map[string]any{
		"receiver_username": "bob",
		"amount":            "12.50",
		"message":           "great demo #teamwork",
		"scope":             "chat-1",
	})
	expectStatus(t, rr, http.StatusCreated)

	rec := decode[models.Recognition](t, rr)
	if rec.GiverID != "alice" || rec.ReceiverID != "bob" {
		t.Errorf("Unexpected parties: %+v", rec)
	}
	if len(rec.Tags) != 1 || rec.Tags[0] != "#teamwork" {
		t.Errorf("Expected tags taken from the message, got %v", rec.Tags)
	}

	me := decode[models.User](t, s.do(t, "GET", "/me", "alice", nil))
	if !me.Balance.Equal(decimal.RequireFromString("87.5")) {
		t.Errorf("Expected balance 87.5, got %s", me.Balance)
	}

	rr = s.do(t, "GET", "/recognitions/"+rec.ID, "bob", nil)
	expectStatus(t, rr, http.StatusOK)

	rr = s.do(t, "GET", "/recognitions?scope=chat-1", "bob", nil)
	expectStatus(t, rr, http.StatusOK)
	if recs := decode[[]models.Recognition](t, rr); len(recs) != 1 {
		t.Errorf("Expected 1 recognition in scope, got %d", len(recs))
	}
}

func TestCreateTransfer_Errors(t *testing.T) {
	s := setupTestHandler(t)
	s.do(t, "GET", "/me", "bob", nil)

	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{"empty body", "", http.StatusBadRequest},
		{"invalid json", "{", http.StatusBadRequest},
		{"no receiver", map[string]any{"amount": "1"}, http.StatusBadRequest},
		{"self transfer", map[string]any{"receiver_id": "alice", "amount": "1"}, http.StatusBadRequest},
		{"negative amount", map[string]any{"receiver_id": "bob", "amount": "-1"}, http.StatusBadRequest},
		{"overdraw", map[string]any{"receiver_id": "bob", "amount": "1000"}, http.StatusUnprocessableEntity},
		{"unknown username", map[string]any{"receiver_username": "ghost", "amount": "1"}, http.StatusNotFound},
		{"unknown account", map[string]any{"receiver_id": "ghost", "amount": "1"}, http.StatusNotFound},
		{"body too large", `{"message":"` + string(bytes.Repeat([]byte("x"), 8<<10)) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, "POST", "/transfers", "alice", tt.body)
			expectStatus(t, rr, tt.wantStatus)

			if resp := decode[models.ErrorResponse](t, rr); resp.Error == "" {
				t.Error("Expected an error message")
			}
		})
	}

	me := decode[models.User](t, s.do(t, "GET", "/me", "alice", nil))
	if !me.Balance.Equal(service.DefaultStartingBalance) {
		t.Errorf("Rejected transfers must not move points, got balance %s", me.Balance)
	}
}

func TestRecurringEndpoints(t *testing.T) {
	s := setupTestHandler(t)
	s.do(t, "GET", "/me", "bob", nil)

	rr := s.do(t, "POST", "/recurring", "alice", map[string]any{
		"receiver_id": "bob",
		"amount":      "5",
		"interval":    "weekly",
	})
	expectStatus(t, rr, http.StatusCreated)
	bonus := decode[models.RecurringBonus](t, rr)

	rr = s.do(t, "POST", "/recurring", "alice", map[string]any{"receiver_id": "bob", "amount": "5", "interval": "hourly"})
	expectStatus(t, rr, http.StatusBadRequest)

	list := decode[[]models.RecurringBonus](t, s.do(t, "GET", "/recurring", "alice", nil))
	if len(list) != 1 || list[0].ID != bonus.ID {
		t.Errorf("Unexpected bonuses: %+v", list)
	}

	expectStatus(t, s.do(t, "DELETE", "/recurring/"+bonus.ID, "bob", nil), http.StatusForbidden)
	expectStatus(t, s.do(t, "DELETE", "/recurring/"+bonus.ID, "alice", nil), http.StatusNoContent)
	expectStatus(t, s.do(t, "DELETE", "/recurring/"+bonus.ID, "alice", nil), http.StatusConflict)
}

func TestRedemptionEndpoints(t *testing.T) {
	s := setupTestHandler(t)

	rr := s.do(t, "POST", "/admin/rewards", "alice", map[string]any{"name": "Mug", "points_required": "10"})
	expectStatus(t, rr, http.StatusForbidden)

	rr = s.do(t, "POST", "/admin/rewards", testAdmin, map[string]any{
		"name":              "Day off",
		"points_required":   "60",
		"requires_approval": true,
	})
	expectStatus(t, rr, http.StatusCreated)
	dayOff := decode[models.Reward](t, rr)

	rr = s.do(t, "POST", "/admin/rewards", testAdmin, map[string]any{"name": "Sticker", "points_required": "1"})
	expectStatus(t, rr, http.StatusCreated)
	sticker := decode[models.Reward](t, rr)

	rewards := decode[[]models.Reward](t, s.do(t, "GET", "/rewards", "alice", nil))
	if len(rewards) != 2 {
		t.Errorf("Expected 2 rewards, got %d", len(rewards))
	}

	rr = s.do(t, "POST", "/rewards/"+sticker.ID+"/redeem", "alice", nil)
	expectStatus(t, rr, http.StatusCreated)
	if got := decode[models.RedemptionRequest](t, rr); got.Status != models.RedemptionApproved {
		t.Errorf("Expected immediate approval, got %s", got.Status)
	}

	rr = s.do(t, "POST", "/rewards/"+dayOff.ID+"/redeem", "alice", nil)
	expectStatus(t, rr, http.StatusAccepted)
	pending := decode[models.RedemptionRequest](t, rr)

	expectStatus(t, s.do(t, "GET", "/redemptions/"+pending.ID, "alice", nil), http.StatusOK)
	expectStatus(t, s.do(t, "GET", "/redemptions/"+pending.ID, "bob", nil), http.StatusNotFound)

	expectStatus(t, s.do(t, "GET", "/admin/redemptions/pending", "alice", nil), http.StatusForbidden)
	queue := decode[[]models.RedemptionRequest](t, s.do(t, "GET", "/admin/redemptions/pending", testAdmin, nil))
	if len(queue) != 1 || queue[0].ID != pending.ID {
		t.Fatalf("Unexpected pending queue: %+v", queue)
	}

	rr = s.do(t, "POST", "/admin/redemptions/"+pending.ID+"/approve", testAdmin, nil)
	expectStatus(t, rr, http.StatusOK)
	expectStatus(t, s.do(t, "POST", "/admin/redemptions/"+pending.ID+"/approve", testAdmin, nil), http.StatusConflict)

	me := decode[models.User](t, s.do(t, "GET", "/me", "alice", nil))
	if !me.Balance.Equal(decimal.NewFromInt(39)) {
		t.Errorf("Expected balance 39 after both redemptions, got %s", me.Balance)
	}

	// 39 left cannot cover another day off.
	expectStatus(t, s.do(t, "POST", "/rewards/"+dayOff.ID+"/redeem", "alice", nil), http.StatusUnprocessableEntity)
}

func TestLeaderboard(t *testing.T) {
	s := setupTestHandler(t)
	s.do(t, "GET", "/me", "alice", nil)
	s.do(t, "GET", "/me", "bob", nil)
	s.do(t, "GET", "/me", "carol", nil)

	expectStatus(t, s.do(t, "POST", "/transfers", "alice", map[string]any{"receiver_id": "bob", "amount": "30", "scope": "chat-1"}), http.StatusCreated)
	expectStatus(t, s.do(t, "POST", "/transfers", "carol", map[string]any{"receiver_id": "alice", "amount": "5", "scope": "chat-1"}), http.StatusCreated)

	board := decode[[]models.LeaderboardEntry](t, s.do(t, "GET", "/leaderboard?limit=2", "alice", nil))
	if len(board) != 2 || board[0].AccountID != "bob" || board[1].AccountID != "carol" {
		t.Errorf("Unexpected balance board: %+v", board)
	}

	scoped := decode[[]models.LeaderboardEntry](t, s.do(t, "GET", "/leaderboard?scope=chat-1", "alice", nil))
	if len(scoped) != 2 || scoped[0].AccountID != "bob" || scoped[1].AccountID != "alice" {
		t.Errorf("Unexpected scope board: %+v", scoped)
	}

	for _, q := range []string{"limit=0", "limit=abc"} {
		expectStatus(t, s.do(t, "GET", "/leaderboard?"+q, "alice", nil), http.StatusBadRequest)
	}
}

func TestCommentEndpoints(t *testing.T) {
	s := setupTestHandler(t)
	s.do(t, "GET", "/me", "bob", nil)

	rec := decode[models.Recognition](t, s.do(t, "POST", "/transfers", "alice", map[string]any{"receiver_id": "bob", "amount": "1"}))

	path := "/recognitions/" + rec.ID + "/comments"
	expectStatus(t, s.do(t, "POST", path, "bob", map[string]any{"text": "thank you!"}), http.StatusCreated)

	comments := decode[[]models.Comment](t, s.do(t, "GET", path, "alice", nil))
	if len(comments) != 1 || comments[0].Text != "thank you!" {
		t.Errorf("Unexpected comments: %+v", comments)
	}

	s.flags.Set(features.FeatureComments, false)
	expectStatus(t, s.do(t, "POST", path, "bob", map[string]any{"text": "again"}), http.StatusForbidden)
}

func TestAdminEndpoints(t *testing.T) {
	s := setupTestHandler(t)
	s.do(t, "GET", "/me", "alice", nil)
	s.do(t, "GET", "/me", testAdmin, nil)

	rr := s.do(t, "POST", "/admin/users/alice/points", testAdmin, map[string]any{"amount": "-40"})
	expectStatus(t, rr, http.StatusOK)
	if got := decode[balanceResponse](t, rr); !got.Balance.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Expected balance 60, got %s", got.Balance)
	}

	rr = s.do(t, "PUT", "/admin/users/alice/balance", testAdmin, map[string]any{"balance": "500"})
	expectStatus(t, rr, http.StatusOK)
	if got := decode[balanceResponse](t, rr); got.Previous == nil || !got.Previous.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Expected previous balance 60, got %+v", got.Previous)
	}
	expectStatus(t, s.do(t, "PUT", "/admin/users/alice/balance", testAdmin, map[string]any{"balance": "10.005"}), http.StatusBadRequest)

	info := decode[models.UserInfo](t, s.do(t, "GET", "/admin/users/alice", testAdmin, nil))
	if !info.User.Balance.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Expected balance 500, got %s", info.User.Balance)
	}

	rr = s.do(t, "GET", "/admin/export", testAdmin, nil)
	expectStatus(t, rr, http.StatusOK)
	if dump := decode[service.Export](t, rr); len(dump.Users) != 2 {
		t.Errorf("Expected alice and the admin in the export, got %d users", len(dump.Users))
	}

	rr = s.do(t, "GET", "/admin/export?format=xlsx", testAdmin, nil)
	expectStatus(t, rr, http.StatusOK)
	book, err := excelize.OpenReader(rr.Body)
	if err != nil {
		t.Fatalf("Failed to open exported workbook: %v", err)
	}
	rows, err := book.GetRows("users")
	if err != nil {
		t.Fatalf("Failed to read users sheet: %v", err)
	}
	if len(rows) != 3 || rows[0][0] != "account_id" {
		t.Errorf("Expected a header and 2 user rows, got %v", rows)
	}
	book.Close()

	expectStatus(t, s.do(t, "GET", "/admin/export?format=csv", testAdmin, nil), http.StatusBadRequest)

	rr = s.do(t, "POST", "/admin/announce", testAdmin, map[string]any{"message": "Friday awards"})
	expectStatus(t, rr, http.StatusAccepted)

	rr = s.do(t, "POST", "/admin/organizations", testAdmin, map[string]any{"name": "Acme"})
	expectStatus(t, rr, http.StatusCreated)
	org := decode[models.Organization](t, rr)

	rr = s.do(t, "POST", "/admin/organizations/"+org.ID+"/groups", testAdmin, map[string]any{"name": "Eng", "chat_id": "chat-9"})
	expectStatus(t, rr, http.StatusCreated)
	groups := decode[[]models.Group](t, s.do(t, "GET", "/admin/organizations/"+org.ID+"/groups", testAdmin, nil))
	if len(groups) != 1 || groups[0].ChatID != "chat-9" {
		t.Errorf("Unexpected groups: %+v", groups)
	}

	for _, path := range []string{"/admin/export", "/admin/features", "/admin/organizations"} {
		expectStatus(t, s.do(t, "GET", path, "alice", nil), http.StatusForbidden)
	}
}

func TestSweepEndpoint(t *testing.T) {
	s := setupTestHandler(t)

	rr := s.do(t, "POST", "/admin/sweep", testAdmin, nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decode[scheduler.SweepResult](t, rr); got != (scheduler.SweepResult{}) {
		t.Errorf("Expected an empty sweep, got %+v", got)
	}

	h := NewHandler(s.svc)
	router := setupRouter(h, nil)
	req := httptest.NewRequest("POST", "/admin/sweep", nil)
	req.Header.Set(middleware.AccountHeader, testAdmin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusNotImplemented)
}

func TestFeatureEndpoints(t *testing.T) {
	s := setupTestHandler(t)

	flags := decode[[]features.Flag](t, s.do(t, "GET", "/admin/features", testAdmin, nil))
	if len(flags) != len(s.flags.All()) {
		t.Errorf("Expected %d flags, got %d", len(s.flags.All()), len(flags))
	}

	expectStatus(t, s.do(t, "PUT", "/admin/features/nope", testAdmin, map[string]any{"enabled": true}), http.StatusNotFound)
	expectStatus(t, s.do(t, "PUT", "/admin/features/"+features.FeatureNotifications, testAdmin, map[string]any{"enabled": false}), http.StatusOK)

	if s.flags.IsEnabled(features.FeatureNotifications) {
		t.Error("Expected notifications to be disabled")
	}
}

func TestIssueToken(t *testing.T) {
	s := setupTestHandler(t)

	expectStatus(t, s.do(t, "POST", "/admin/tokens", testAdmin, map[string]any{"account_id": "not valid!"}), http.StatusBadRequest)

	rr := s.do(t, "POST", "/admin/tokens", testAdmin, map[string]any{"account_id": "alice", "username": "alice"})
	expectStatus(t, rr, http.StatusCreated)
	token := decode[map[string]string](t, rr)["token"]

	// The token authenticates against a router that only accepts bearer tokens.
	bearer := setupRouter(NewHandler(s.svc), s.issuer)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	bearer.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)
	if me := decode[models.User](t, rec); me.AccountID != "alice" {
		t.Errorf("Expected alice, got %+v", me)
	}

	req = httptest.NewRequest("GET", "/me", nil)
	req.Header.Set(middleware.AccountHeader, "alice")
	rec = httptest.NewRecorder()
	bearer.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&validation.ValidationError{Field: "amount", Message: "must be positive"}, http.StatusBadRequest},
		{fmt.Errorf("approve: %w", models.ErrForbidden), http.StatusForbidden},
		{models.ErrNotFound, http.StatusNotFound},
		{models.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{models.ErrInvalidState, http.StatusConflict},
		{scheduler.ErrSweepInProgress, http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
