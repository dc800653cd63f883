package handler

import (
	"bytes"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kudos-api/internal/features"
	"kudos-api/internal/middleware"
	"kudos-api/internal/models"
	"kudos-api/internal/validation"
)

func (h *Handler) adminRoutes(r chi.Router) {
	r.Post("/rewards", h.CreateReward)
	r.Get("/redemptions/pending", h.ListPendingRedemptions)
	r.Post("/redemptions/{id}/approve", h.ApproveRedemption)

	r.Get("/users/{account_id}", h.UserInfo)
	r.Post("/users/{account_id}/points", h.AdjustPoints)
	r.Put("/users/{account_id}/balance", h.ResetBalance)
	r.Get("/export", h.Export)
	r.Post("/announce", h.Announce)

	r.Post("/organizations", h.CreateOrganization)
	r.Get("/organizations", h.ListOrganizations)
	r.Post("/organizations/{id}/groups", h.CreateGroup)
	r.Get("/organizations/{id}/groups", h.ListGroups)

	r.Post("/sweep", h.Sweep)
	r.Get("/features", h.ListFeatures)
	r.Put("/features/{name}", h.SetFeature)
	r.Post("/tokens", h.IssueToken)
}

func adminID(r *http.Request) string {
	caller, _ := middleware.CallerFrom(r.Context())
	return caller.AccountID
}

// CreateReward handles POST /admin/rewards
func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	var reward models.Reward
	if !h.decodeJSON(w, r, &reward) {
		return
	}

	created, err := h.service.CreateReward(r.Context(), adminID(r), reward)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, created)
}

// ListPendingRedemptions handles GET /admin/redemptions/pending
func (h *Handler) ListPendingRedemptions(w http.ResponseWriter, r *http.Request) {
	pending, err := h.service.ListPendingRedemptions(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, pending)
}

// ApproveRedemption handles POST /admin/redemptions/{id}/approve
func (h *Handler) ApproveRedemption(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.Approve(r.Context(), adminID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, req)
}

// UserInfo handles GET /admin/users/{account_id}
func (h *Handler) UserInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.UserInfo(r.Context(), adminID(r), validation.SanitizeString(chi.URLParam(r, "account_id")))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, info)
}

type balanceResponse struct {
	AccountID string           `json:"account_id"`
	Balance   decimal.Decimal  `json:"balance"`
	Previous  *decimal.Decimal `json:"previous,omitempty"`
}

// AdjustPoints handles POST /admin/users/{account_id}/points. A negative
// amount debits.
func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if !h.decodeJSON(w, r, &body) {
		return
	}

	accountID := validation.SanitizeString(chi.URLParam(r, "account_id"))
	balance, err := h.service.AdjustPoints(r.Context(), adminID(r), accountID, body.Amount)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, balanceResponse{AccountID: accountID, Balance: balance})
}

// ResetBalance handles PUT /admin/users/{account_id}/balance
func (h *Handler) ResetBalance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if !h.decodeJSON(w, r, &body) {
		return
	}

	accountID := validation.SanitizeString(chi.URLParam(r, "account_id"))
	previous, err := h.service.ResetBalance(r.Context(), adminID(r), accountID, body.Balance)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, balanceResponse{AccountID: accountID, Balance: body.Balance, Previous: &previous})
}

// Export handles GET /admin/export?format=json|xlsx
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format != "" && format != "json" && format != "xlsx" {
		h.respondError(w, http.StatusBadRequest, "format must be json or xlsx")
		return
	}

	dump, err := h.service.Export(r.Context(), adminID(r))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	if format == "xlsx" {
		var buf bytes.Buffer
		if err := writeExportXLSX(&buf, dump); err != nil {
			h.respondServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="kudos-export.xlsx"`)
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="kudos-export.json"`)
	h.respondJSON(w, http.StatusOK, dump)
}

// Announce handles POST /admin/announce
func (h *Handler) Announce(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if !h.decodeJSON(w, r, &body) {
		return
	}

	n, err := h.service.Announce(r.Context(), adminID(r), body.Message)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]int{"recipients": n})
}

// CreateOrganization handles POST /admin/organizations
func (h *Handler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !h.decodeJSON(w, r, &body) {
		return
	}

	org, err := h.service.CreateOrganization(r.Context(), adminID(r), body.Name)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, org)
}

// ListOrganizations handles GET /admin/organizations
func (h *Handler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.service.ListOrganizations(r.Context(), adminID(r))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, orgs)
}

// CreateGroup handles POST /admin/organizations/{id}/groups
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var group models.Group
	if !h.decodeJSON(w, r, &group) {
		return
	}
	group.OrgID = chi.URLParam(r, "id")

	created, err := h.service.CreateGroup(r.Context(), adminID(r), group)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, created)
}

// ListGroups handles GET /admin/organizations/{id}/groups
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.ListGroups(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, groups)
}

// Sweep handles POST /admin/sweep and pays every due recurring bonus now.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		h.respondError(w, http.StatusNotImplemented, "recurring sweeps are not configured")
		return
	}

	result, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// ListFeatures handles GET /admin/features
func (h *Handler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	if h.features == nil {
		h.respondJSON(w, http.StatusOK, []features.Flag{})
		return
	}
	h.respondJSON(w, http.StatusOK, h.features.All())
}

// SetFeature handles PUT /admin/features/{name}
func (h *Handler) SetFeature(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if !h.decodeJSON(w, r, &body) {
		return
	}

	name := chi.URLParam(r, "name")
	if h.features == nil || !h.features.Set(name, body.Enabled) {
		h.respondError(w, http.StatusNotFound, "unknown feature: "+name)
		return
	}

	h.logger.Info("feature toggled",
		zap.String("feature", name),
		zap.Bool("enabled", body.Enabled),
		zap.String("admin_id", adminID(r)),
	)
	h.respondJSON(w, http.StatusOK, features.Flag{Name: name, Enabled: body.Enabled})
}

// IssueToken handles POST /admin/tokens. Chat bridges use it to mint
// bearer tokens for the accounts they relay for.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	if h.issuer == nil {
		h.respondError(w, http.StatusNotImplemented, "token issuing is not configured")
		return
	}

	var body struct {
		AccountID string `json:"account_id"`
		Username  string `json:"username"`
	}
	if !h.decodeJSON(w, r, &body) {
		return
	}

	body.AccountID = validation.SanitizeString(body.AccountID)
	if err := validation.ValidateAccountID(body.AccountID, "account_id"); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	token, err := h.issuer.Issue(body.AccountID, validation.SanitizeString(body.Username), h.service.Now())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"token": token})
}
