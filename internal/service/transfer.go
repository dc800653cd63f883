package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"kudos-api/internal/database"
	"kudos-api/internal/events"
	"kudos-api/internal/models"
	"kudos-api/internal/tracing"
	"kudos-api/internal/validation"
)

// Transfer moves points from giver to receiver and records the recognition.
// Tags not given explicitly are taken from "#words" in the message. Both
// parties are notified after the transfer commits.
func (s *Service) Transfer(ctx context.Context, req models.TransferRequest) (rec models.Recognition, err error) {
	ctx, span := tracing.Start(ctx, "service.Transfer",
		attribute.String("giver_id", req.GiverID),
		attribute.String("receiver_id", req.ReceiverID),
	)
	defer func() { tracing.End(span, err) }()

	req.Message = validation.SanitizeString(req.Message)
	req.Scope = validation.SanitizeString(req.Scope)
	if len(req.Tags) == 0 {
		_, req.Tags = validation.SplitMessage(req.Message)
	} else {
		req.Tags = validation.NormalizeTags(req.Tags)
	}

	if err := validation.ValidateTransfer(req); err != nil {
		return models.Recognition{}, err
	}

	rec = models.Recognition{
		ID:         uuid.New().String(),
		GiverID:    req.GiverID,
		ReceiverID: req.ReceiverID,
		Amount:     req.Amount,
		Message:    req.Message,
		Tags:       req.Tags,
		Scope:      req.Scope,
		Kind:       models.RecognitionManual,
		CreatedAt:  s.clock.Now(),
	}

	err = s.db.ApplyPairedDelta(ctx, rec.GiverID, rec.ReceiverID, rec.Amount, func(tx *database.Tx) error {
		return tx.InsertRecognition(ctx, rec)
	})
	if err != nil {
		return models.Recognition{}, fmt.Errorf("transfer failed: %w", err)
	}

	s.ledgerChanged(ctx)
	s.notifyTransfer(ctx, rec)

	return rec, nil
}

func (s *Service) notifyTransfer(ctx context.Context, rec models.Recognition) {
	giver := s.displayName(ctx, rec.GiverID)
	receiver := s.displayName(ctx, rec.ReceiverID)

	suffix := ""
	if rec.Message != "" {
		suffix = ": " + rec.Message
	}

	s.emit(ctx,
		events.Event{
			Type:        events.EventTransferSent,
			RecipientID: rec.GiverID,
			Message:     fmt.Sprintf("You sent %s to %s%s", formatPoints(rec.Amount), receiver, suffix),
			Data:        rec,
		},
		events.Event{
			Type:        events.EventTransferReceived,
			RecipientID: rec.ReceiverID,
			Message:     fmt.Sprintf("%s sent you %s%s", giver, formatPoints(rec.Amount), suffix),
			Data:        rec,
		},
	)
}

// GetRecognition returns a recognition by id.
func (s *Service) GetRecognition(ctx context.Context, id string) (models.Recognition, error) {
	return s.db.GetRecognition(ctx, id)
}

// ListRecognitions returns recognitions posted to scope, or involving
// accountID, or all of them when both are empty.
func (s *Service) ListRecognitions(ctx context.Context, scope, accountID string) ([]models.Recognition, error) {
	switch {
	case scope != "":
		return s.db.ListRecognitionsByScope(ctx, scope)
	case accountID != "":
		return s.db.ListRecognitionsForUser(ctx, accountID)
	default:
		return s.db.ListRecognitions(ctx)
	}
}
