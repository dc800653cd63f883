package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a participant in the points economy.
type User struct {
	ID        int64           `json:"-"`          // insertion sequence, used for stable ordering
	AccountID string          `json:"account_id"` // stable external account id
	Username  string          `json:"username"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// RecognitionKind tells manual transfers apart from scheduler payouts.
type RecognitionKind string

const (
	RecognitionManual    RecognitionKind = "manual"
	RecognitionRecurring RecognitionKind = "recurring"
)

// Recognition is the immutable record of one completed transfer.
type Recognition struct {
	ID         string          `json:"id"` // uuid
	GiverID    string          `json:"giver_id"`
	ReceiverID string          `json:"receiver_id"`
	Amount     decimal.Decimal `json:"amount"`
	Message    string          `json:"message"`
	Tags       []string        `json:"tags"`
	Scope      string          `json:"scope,omitempty"` // group chat id, empty for direct/recurring
	Kind       RecognitionKind `json:"kind"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Interval is the cadence of a recurring bonus.
type Interval string

const (
	IntervalDaily   Interval = "daily"
	IntervalWeekly  Interval = "weekly"
	IntervalMonthly Interval = "monthly"
)

// Valid reports whether i is one of the supported intervals.
func (i Interval) Valid() bool {
	switch i {
	case IntervalDaily, IntervalWeekly, IntervalMonthly:
		return true
	}
	return false
}

// RecurringBonus is a standing instruction to repeat a transfer.
type RecurringBonus struct {
	ID         string          `json:"id"` // uuid
	GiverID    string          `json:"giver_id"`
	ReceiverID string          `json:"receiver_id"`
	Amount     decimal.Decimal `json:"amount"`
	Interval   Interval        `json:"interval"`
	NextRun    time.Time       `json:"next_run"`
	Active     bool            `json:"active"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Due reports whether the bonus should be paid at now.
func (b RecurringBonus) Due(now time.Time) bool {
	return b.Active && !b.NextRun.After(now)
}

// Reward is a catalog entry users can redeem points for.
type Reward struct {
	ID               string          `json:"id"` // uuid
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	PointsRequired   decimal.Decimal `json:"points_required"`
	RequiresApproval bool            `json:"requires_approval"`
}

// RedemptionStatus is the state of a redemption request.
type RedemptionStatus string

const (
	RedemptionPending  RedemptionStatus = "pending"
	RedemptionApproved RedemptionStatus = "approved"
)

// RedemptionRequest is a user's claim against the catalog.
type RedemptionRequest struct {
	ID             string           `json:"id"` // uuid
	UserID         string           `json:"user_id"`
	RewardID       string           `json:"reward_id"`
	Status         RedemptionStatus `json:"status"`
	PointsRequired decimal.Decimal  `json:"points_required"`
	CreatedAt      time.Time        `json:"created_at"`
	ApprovedAt     *time.Time       `json:"approved_at,omitempty"`
}

// Organization groups chat groups under one admin.
type Organization struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	AdminID string `json:"admin_id"`
}

// Group is a chat group recognitions can be posted to. ChatID is the
// scope value carried by recognitions posted there.
type Group struct {
	ID     string `json:"id"`
	OrgID  string `json:"org_id"`
	Name   string `json:"name"`
	ChatID string `json:"chat_id"`
	Public bool   `json:"public"`
}

// Comment is a reply attached to a recognition.
type Comment struct {
	ID            string    `json:"id"`
	RecognitionID string    `json:"recognition_id"`
	UserID        string    `json:"user_id"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
}

// LeaderboardEntry is one ranked row of a leaderboard. Never persisted.
type LeaderboardEntry struct {
	Rank      int             `json:"rank"`
	AccountID string          `json:"account_id"`
	Username  string          `json:"username,omitempty"`
	Points    decimal.Decimal `json:"points"`
}

// UserInfo is the admin view of a single account.
type UserInfo struct {
	User               User                `json:"user"`
	Given              decimal.Decimal     `json:"given"`
	Received           decimal.Decimal     `json:"received"`
	RecognitionCount   int                 `json:"recognition_count"`
	RecurringBonuses   []RecurringBonus    `json:"recurring_bonuses"`
	PendingRedemptions []RedemptionRequest `json:"pending_redemptions"`
}

// TransferRequest is the input to a point transfer.
type TransferRequest struct {
	GiverID    string          `json:"giver_id"`
	ReceiverID string          `json:"receiver_id"`
	Amount     decimal.Decimal `json:"amount"`
	Message    string          `json:"message"`
	Tags       []string        `json:"tags"`
	Scope      string          `json:"scope,omitempty"`
}

// ScheduleRecurringRequest is the input to scheduling a recurring bonus.
type ScheduleRecurringRequest struct {
	GiverID    string          `json:"giver_id"`
	ReceiverID string          `json:"receiver_id"`
	Amount     decimal.Decimal `json:"amount"`
	Interval   Interval        `json:"interval"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}
