package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"kudos-api/internal/database"
	"kudos-api/internal/events"
	"kudos-api/internal/models"
	"kudos-api/internal/tracing"
	"kudos-api/internal/validation"
)

// ListRewards returns the reward catalog.
func (s *Service) ListRewards(ctx context.Context) ([]models.Reward, error) {
	return s.db.ListRewards(ctx)
}

// CreateReward adds a reward to the catalog. Admin only.
func (s *Service) CreateReward(ctx context.Context, adminID string, reward models.Reward) (models.Reward, error) {
	if !s.admins.IsAdmin(adminID) {
		return models.Reward{}, fmt.Errorf("create reward: %w", models.ErrForbidden)
	}
	return s.UpsertReward(ctx, reward)
}

// UpsertReward stores a reward without a capability check. Used to seed the
// catalog at startup.
func (s *Service) UpsertReward(ctx context.Context, reward models.Reward) (models.Reward, error) {
	reward.Name = validation.SanitizeString(reward.Name)
	reward.Description = validation.SanitizeString(reward.Description)
	if err := validation.ValidateReward(reward); err != nil {
		return models.Reward{}, err
	}
	if reward.ID == "" {
		reward.ID = uuid.New().String()
	}

	if err := s.db.UpsertReward(ctx, reward, s.clock.Now()); err != nil {
		return models.Reward{}, err
	}
	return reward, nil
}

// Redeem claims a reward. Rewards without approval are granted and paid for
// at once; the rest are recorded as pending after a balance check and every
// admin is asked to approve.
func (s *Service) Redeem(ctx context.Context, userID, rewardID string) (req models.RedemptionRequest, err error) {
	ctx, span := tracing.Start(ctx, "service.Redeem",
		attribute.String("user_id", userID),
		attribute.String("reward_id", rewardID),
	)
	defer func() { tracing.End(span, err) }()

	reward, err := s.db.GetReward(ctx, rewardID)
	if err != nil {
		return models.RedemptionRequest{}, err
	}

	now := s.clock.Now()
	req = models.RedemptionRequest{
		ID:             uuid.New().String(),
		UserID:         userID,
		RewardID:       reward.ID,
		PointsRequired: reward.PointsRequired,
		CreatedAt:      now,
	}

	if !reward.RequiresApproval {
		req.Status = models.RedemptionApproved
		req.ApprovedAt = &now

		_, err = s.db.ApplySingleDelta(ctx, userID, reward.PointsRequired.Neg(), func(tx *database.Tx) error {
			return tx.InsertRedemption(ctx, req)
		})
		if err != nil {
			return models.RedemptionRequest{}, fmt.Errorf("redeem %s: %w", reward.Name, err)
		}

		s.logBurn(userID, reward)
		s.ledgerChanged(ctx)
		s.emit(ctx, events.Event{
			Type:        events.EventRedemptionApproved,
			RecipientID: userID,
			Message:     fmt.Sprintf("You redeemed %s for %s", reward.Name, formatPoints(reward.PointsRequired)),
			Data:        req,
		})
		return req, nil
	}

	balance, err := s.db.GetBalance(ctx, userID)
	if err != nil {
		return models.RedemptionRequest{}, err
	}
	if balance.LessThan(reward.PointsRequired) {
		return models.RedemptionRequest{}, fmt.Errorf("redeem %s needs %s, have %s: %w",
			reward.Name, reward.PointsRequired.StringFixed(2), balance.StringFixed(2), models.ErrInsufficientFunds)
	}

	req.Status = models.RedemptionPending
	if err := s.db.InsertRedemption(ctx, req); err != nil {
		return models.RedemptionRequest{}, err
	}

	user := s.displayName(ctx, userID)
	admins := s.admins.Admins()
	notes := make([]events.Event, 0, len(admins))
	for _, admin := range admins {
		notes = append(notes, events.Event{
			Type:        events.EventRedemptionRequested,
			RecipientID: admin,
			Message:     fmt.Sprintf("%s wants to redeem %s (%s). Request %s", user, reward.Name, formatPoints(reward.PointsRequired), req.ID),
			Data:        req,
		})
	}
	s.emit(ctx, notes...)

	return req, nil
}

// Approve grants a pending redemption and debits the user, atomically. A
// request can be approved exactly once; later attempts fail with
// models.ErrInvalidState and debit nothing.
func (s *Service) Approve(ctx context.Context, adminID, requestID string) (req models.RedemptionRequest, err error) {
	ctx, span := tracing.Start(ctx, "service.Approve",
		attribute.String("admin_id", adminID),
		attribute.String("request_id", requestID),
	)
	defer func() { tracing.End(span, err) }()

	if !s.admins.IsAdmin(adminID) {
		return models.RedemptionRequest{}, fmt.Errorf("approve redemption: %w", models.ErrForbidden)
	}

	req, err = s.db.GetRedemption(ctx, requestID)
	if err != nil {
		return models.RedemptionRequest{}, err
	}
	if req.Status != models.RedemptionPending {
		return models.RedemptionRequest{}, fmt.Errorf("redemption %s is %s: %w", requestID, req.Status, models.ErrInvalidState)
	}

	reward, err := s.db.GetReward(ctx, req.RewardID)
	if err != nil {
		return models.RedemptionRequest{}, err
	}

	now := s.clock.Now()
	_, err = s.db.ApplySingleDelta(ctx, req.UserID, req.PointsRequired.Neg(), func(tx *database.Tx) error {
		return tx.ApproveRedemption(ctx, req.ID, now)
	})
	if err != nil {
		return models.RedemptionRequest{}, fmt.Errorf("approve redemption %s: %w", requestID, err)
	}

	req.Status = models.RedemptionApproved
	req.ApprovedAt = &now

	s.logBurn(req.UserID, reward)
	s.ledgerChanged(ctx)
	s.emit(ctx, events.Event{
		Type:        events.EventRedemptionApproved,
		RecipientID: req.UserID,
		Message:     fmt.Sprintf("Your redemption of %s was approved", reward.Name),
		Data:        req,
	})

	return req, nil
}

// ListPendingRedemptions returns the requests waiting for an admin.
func (s *Service) ListPendingRedemptions(ctx context.Context) ([]models.RedemptionRequest, error) {
	return s.db.ListRedemptionsByStatus(ctx, models.RedemptionPending)
}

// GetRedemption returns a redemption request by id.
func (s *Service) GetRedemption(ctx context.Context, id string) (models.RedemptionRequest, error) {
	return s.db.GetRedemption(ctx, id)
}

func (s *Service) logBurn(userID string, reward models.Reward) {
	s.logger.Info("ledger entry",
		zap.String("op", "burn"),
		zap.String("reason", "redemption"),
		zap.String("account_id", userID),
		zap.String("reward_id", reward.ID),
		zap.String("amount", reward.PointsRequired.StringFixed(2)),
	)
}
