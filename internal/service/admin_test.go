package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"kudos-api/internal/events"
	"kudos-api/internal/features"
	"kudos-api/internal/models"
)

func TestAdjustPoints(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	env.user(t, "u", "10")

	balance, err := env.svc.AdjustPoints(ctx, adminID, "u", amount("15.5"))
	if err != nil {
		t.Fatalf("AdjustPoints credit failed: %v", err)
	}
	if !balance.Equal(amount("25.5")) {
		t.Errorf("Expected 25.5, got %s", balance)
	}

	if _, err := env.svc.AdjustPoints(ctx, adminID, "u", amount("-25.5")); err != nil {
		t.Fatalf("AdjustPoints debit failed: %v", err)
	}
	env.assertBalance(t, "u", "0")

	tests := []struct {
		name    string
		caller  string
		account string
		delta   string
		wantErr error
	}{
		{"not admin", "u", "u", "5", models.ErrForbidden},
		{"overdraw", adminID, "u", "-0.01", models.ErrInsufficientFunds},
		{"zero", adminID, "u", "0", models.ErrValidation},
		{"unknown user", adminID, "ghost", "5", models.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.AdjustPoints(ctx, tt.caller, tt.account, amount(tt.delta)); !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
	env.assertBalance(t, "u", "0")
}

func TestResetBalance(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	env.user(t, "u", "10")

	if _, err := env.svc.ResetBalance(ctx, "u", "u", amount("1000")); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}
	if _, err := env.svc.ResetBalance(ctx, adminID, "u", amount("-1")); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}

	previous, err := env.svc.ResetBalance(ctx, adminID, "u", amount("100"))
	if err != nil {
		t.Fatalf("ResetBalance failed: %v", err)
	}
	if !previous.Equal(amount("10")) {
		t.Errorf("Expected previous balance 10, got %s", previous)
	}
	env.assertBalance(t, "u", "100")

	previous, err = env.svc.ResetBalance(ctx, adminID, "u", decimal.Zero)
	if err != nil {
		t.Fatalf("ResetBalance to zero failed: %v", err)
	}
	if !previous.Equal(amount("100")) {
		t.Errorf("Expected previous balance 100, got %s", previous)
	}
	env.assertBalance(t, "u", "0")
}

func TestResetBalance_RejectsOutOfRangeValues(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	env.user(t, "u", "10")

	for _, value := range []string{"10.005", "5000000000000000000", "1000000.01"} {
		t.Run(value, func(t *testing.T) {
			if _, err := env.svc.ResetBalance(ctx, adminID, "u", amount(value)); !errors.Is(err, models.ErrValidation) {
				t.Errorf("Expected ErrValidation for %s, got %v", value, err)
			}
		})
	}
	env.assertBalance(t, "u", "10")
}

func TestUserInfo(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	env.user(t, "a", "100")
	env.user(t, "b", "100")

	for _, tr := range []struct{ from, to, amount string }{
		{"a", "b", "10"},
		{"b", "a", "4"},
		{"a", "b", "1"},
	} {
		if _, err := env.svc.Transfer(ctx, models.TransferRequest{GiverID: tr.from, ReceiverID: tr.to, Amount: amount(tr.amount)}); err != nil {
			t.Fatalf("Transfer failed: %v", err)
		}
	}
	if _, err := env.svc.ScheduleRecurring(ctx, models.ScheduleRecurringRequest{
		GiverID: "a", ReceiverID: "b", Amount: amount("2"), Interval: models.IntervalDaily,
	}); err != nil {
		t.Fatalf("ScheduleRecurring failed: %v", err)
	}

	if _, err := env.svc.UserInfo(ctx, "a", "a"); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}

	info, err := env.svc.UserInfo(ctx, adminID, "a")
	if err != nil {
		t.Fatalf("UserInfo failed: %v", err)
	}
	if !info.Given.Equal(amount("11")) || !info.Received.Equal(amount("4")) {
		t.Errorf("Expected given 11 received 4, got %s / %s", info.Given, info.Received)
	}
	if info.RecognitionCount != 3 {
		t.Errorf("Expected 3 recognitions, got %d", info.RecognitionCount)
	}
	if len(info.RecurringBonuses) != 1 {
		t.Errorf("Expected 1 recurring bonus, got %d", len(info.RecurringBonuses))
	}
	if !info.User.Balance.Equal(amount("93")) {
		t.Errorf("Expected balance 93, got %s", info.User.Balance)
	}
}

func TestExport(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	env.user(t, "a", "100")
	env.user(t, "b", "100")

	if _, err := env.svc.Transfer(ctx, models.TransferRequest{GiverID: "a", ReceiverID: "b", Amount: amount("1")}); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	if _, err := env.svc.Export(ctx, "a"); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}

	dump, err := env.svc.Export(ctx, adminID)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(dump.Users) != 2 || len(dump.Recognitions) != 1 {
		t.Errorf("Unexpected export sizes: %d users, %d recognitions", len(dump.Users), len(dump.Recognitions))
	}
}

func TestAnnounce(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	env.user(t, "a", "")
	env.user(t, "b", "")

	if _, err := env.svc.Announce(ctx, "a", "hi"); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}
	if _, err := env.svc.Announce(ctx, adminID, "   "); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}

	n, err := env.svc.Announce(ctx, adminID, "Quarterly awards on Friday")
	if err != nil {
		t.Fatalf("Announce failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 recipients, got %d", n)
	}
	if got := env.sink.ofType(events.EventAnnouncement); len(got) != 2 || got[0].Message != "Quarterly awards on Friday" {
		t.Errorf("Unexpected announcements: %+v", got)
	}
}

func TestOrganizationsAndComments(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	env.user(t, "a", "100")
	env.user(t, "b", "0")

	if _, err := env.svc.CreateOrganization(ctx, "a", "Acme"); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}

	org, err := env.svc.CreateOrganization(ctx, adminID, "Acme")
	if err != nil {
		t.Fatalf("CreateOrganization failed: %v", err)
	}

	if _, err := env.svc.CreateGroup(ctx, adminID, models.Group{OrgID: "missing", Name: "x", ChatID: "c"}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown org, got %v", err)
	}
	if _, err := env.svc.CreateGroup(ctx, adminID, models.Group{OrgID: org.ID, Name: "x"}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation without chat id, got %v", err)
	}

	group, err := env.svc.CreateGroup(ctx, adminID, models.Group{OrgID: org.ID, Name: "Engineering", ChatID: "chat-7", Public: true})
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	resolved, err := env.svc.GroupForScope(ctx, "chat-7")
	if err != nil || resolved.ID != group.ID {
		t.Errorf("Expected to resolve group %s, got %+v (%v)", group.ID, resolved, err)
	}

	groups, err := env.svc.ListGroups(ctx, org.ID)
	if err != nil || len(groups) != 1 {
		t.Errorf("Expected 1 group, got %d (%v)", len(groups), err)
	}
	orgs, err := env.svc.ListOrganizations(ctx, adminID)
	if err != nil || len(orgs) != 1 {
		t.Errorf("Expected 1 organization, got %d (%v)", len(orgs), err)
	}

	rec, err := env.svc.Transfer(ctx, models.TransferRequest{GiverID: "a", ReceiverID: "b", Amount: amount("2"), Scope: "chat-7"})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	if _, err := env.svc.AddComment(ctx, "b", rec.ID, ""); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation for empty comment, got %v", err)
	}
	if _, err := env.svc.AddComment(ctx, "b", "missing", "hi"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown recognition, got %v", err)
	}

	if _, err := env.svc.AddComment(ctx, "b", rec.ID, "thanks a lot"); err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}
	comments, err := env.svc.ListComments(ctx, rec.ID)
	if err != nil {
		t.Fatalf("ListComments failed: %v", err)
	}
	if len(comments) != 1 || comments[0].UserID != "b" {
		t.Errorf("Unexpected comments: %+v", comments)
	}
}

func TestAddComment_Disabled(t *testing.T) {
	flags := features.NewManager(map[string]bool{features.FeatureComments: false})
	env := setupTestService(t, WithFeatures(flags))

	if _, err := env.svc.AddComment(context.Background(), "a", "any", "hello"); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("Expected ErrForbidden while comments are disabled, got %v", err)
	}
}
