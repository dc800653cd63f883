package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"kudos-api/internal/events"
	"kudos-api/internal/models"
)

func createReward(t *testing.T, env *testEnv, cost string, approval bool) models.Reward {
	t.Helper()

	reward, err := env.svc.CreateReward(context.Background(), adminID, models.Reward{
		Name:             "Team lunch",
		Description:      "Lunch on the company",
		PointsRequired:   amount(cost),
		RequiresApproval: approval,
	})
	if err != nil {
		t.Fatalf("CreateReward failed: %v", err)
	}
	return reward
}

func TestCreateReward(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	if _, err := env.svc.CreateReward(ctx, "not-admin", models.Reward{Name: "x", PointsRequired: amount("1")}); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}
	if _, err := env.svc.CreateReward(ctx, adminID, models.Reward{Name: "  ", PointsRequired: amount("1")}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation for blank name, got %v", err)
	}
	if _, err := env.svc.CreateReward(ctx, adminID, models.Reward{Name: "x", PointsRequired: amount("0")}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation for zero cost, got %v", err)
	}

	reward := createReward(t, env, "50", true)
	if reward.ID == "" {
		t.Error("Expected an id to be assigned")
	}

	rewards, err := env.svc.ListRewards(ctx)
	if err != nil {
		t.Fatalf("ListRewards failed: %v", err)
	}
	if len(rewards) != 1 || rewards[0].ID != reward.ID {
		t.Errorf("Unexpected catalog: %+v", rewards)
	}
}

func TestRedeem_WithoutApproval(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	env.user(t, "u", "100")
	reward := createReward(t, env, "50", false)

	req, err := env.svc.Redeem(ctx, "u", reward.ID)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}

	if req.Status != models.RedemptionApproved || req.ApprovedAt == nil {
		t.Errorf("Expected immediately approved request, got %+v", req)
	}
	env.assertBalance(t, "u", "50")

	if n := len(env.sink.ofType(events.EventRedemptionRequested)); n != 0 {
		t.Errorf("Expected no admin notification, got %d", n)
	}
	approved := env.sink.ofType(events.EventRedemptionApproved)
	if len(approved) != 1 || approved[0].RecipientID != "u" {
		t.Errorf("Expected one approval notification to u, got %+v", approved)
	}

	stored, err := env.svc.GetRedemption(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetRedemption failed: %v", err)
	}
	if stored.Status != models.RedemptionApproved {
		t.Errorf("Expected stored status approved, got %s", stored.Status)
	}
}

func TestRedeem_WithApproval(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	env.user(t, "u", "100")
	reward := createReward(t, env, "50", true)

	req, err := env.svc.Redeem(ctx, "u", reward.ID)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if req.Status != models.RedemptionPending {
		t.Errorf("Expected pending request, got %s", req.Status)
	}
	env.assertBalance(t, "u", "100")

	requested := env.sink.ofType(events.EventRedemptionRequested)
	if len(requested) != 1 || requested[0].RecipientID != adminID {
		t.Errorf("Expected one request notification to the admin, got %+v", requested)
	}

	pending, err := env.svc.ListPendingRedemptions(ctx)
	if err != nil {
		t.Fatalf("ListPendingRedemptions failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != req.ID {
		t.Errorf("Expected the request to be pending, got %+v", pending)
	}

	approved, err := env.svc.Approve(ctx, adminID, req.ID)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if approved.Status != models.RedemptionApproved {
		t.Errorf("Expected approved status, got %s", approved.Status)
	}
	env.assertBalance(t, "u", "50")

	notes := env.sink.ofType(events.EventRedemptionApproved)
	if len(notes) != 1 || notes[0].RecipientID != "u" {
		t.Errorf("Expected one approval notification to u, got %+v", notes)
	}

	if _, err := env.svc.Approve(ctx, adminID, req.ID); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState on second approval, got %v", err)
	}
	env.assertBalance(t, "u", "50")
}

func TestRedeem_Errors(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	env.user(t, "u", "10")
	cheap := createReward(t, env, "5", false)
	pricey := createReward(t, env, "50", true)
	instant := createReward(t, env, "50", false)

	if _, err := env.svc.Redeem(ctx, "u", "no-such-reward"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := env.svc.Redeem(ctx, "u", pricey.ID); !errors.Is(err, models.ErrInsufficientFunds) {
		t.Errorf("Expected ErrInsufficientFunds for approval reward, got %v", err)
	}
	if _, err := env.svc.Redeem(ctx, "u", instant.ID); !errors.Is(err, models.ErrInsufficientFunds) {
		t.Errorf("Expected ErrInsufficientFunds for instant reward, got %v", err)
	}
	if _, err := env.svc.Redeem(ctx, "ghost", cheap.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown user, got %v", err)
	}

	env.assertBalance(t, "u", "10")
}

func TestApprove_Errors(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	env.user(t, "u", "100")
	reward := createReward(t, env, "60", true)

	req, err := env.svc.Redeem(ctx, "u", reward.ID)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}

	if _, err := env.svc.Approve(ctx, "u", req.ID); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("Expected ErrForbidden for non-admin, got %v", err)
	}
	if _, err := env.svc.Approve(ctx, adminID, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	// Balance dropped below the cost after the request was made.
	if _, err := env.db.ResetBalance(ctx, "u", amount("59.99")); err != nil {
		t.Fatalf("ResetBalance failed: %v", err)
	}
	if _, err := env.svc.Approve(ctx, adminID, req.ID); !errors.Is(err, models.ErrInsufficientFunds) {
		t.Errorf("Expected ErrInsufficientFunds, got %v", err)
	}

	stored, err := env.svc.GetRedemption(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetRedemption failed: %v", err)
	}
	if stored.Status != models.RedemptionPending {
		t.Errorf("Failed approval must leave the request pending, got %s", stored.Status)
	}
	env.assertBalance(t, "u", "59.99")
}

func TestApprove_ConcurrentDoubleApprove(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	env.user(t, "u", "100")
	reward := createReward(t, env, "30", true)

	req, err := env.svc.Redeem(ctx, "u", reward.ID)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Approve(ctx, adminID, req.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, models.ErrInvalidState):
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if wins != 1 {
		t.Errorf("Expected exactly one approval to win, got %d", wins)
	}
	env.assertBalance(t, "u", "70")
}
