package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"kudos-api/internal/features"
	"kudos-api/internal/models"
	"kudos-api/internal/validation"
)

const maxCommentLength = 500

// CreateOrganization registers an organization administered by adminID.
func (s *Service) CreateOrganization(ctx context.Context, adminID, name string) (models.Organization, error) {
	if err := s.requireAdmin(adminID, "create organization"); err != nil {
		return models.Organization{}, err
	}
	name = validation.SanitizeString(name)
	if err := validation.ValidateRequired(name, "name"); err != nil {
		return models.Organization{}, err
	}

	org := models.Organization{
		ID:      uuid.New().String(),
		Name:    name,
		AdminID: adminID,
	}
	if err := s.db.InsertOrganization(ctx, org, s.clock.Now()); err != nil {
		return models.Organization{}, err
	}
	return org, nil
}

// ListOrganizations returns the organizations of adminID, or all when empty.
func (s *Service) ListOrganizations(ctx context.Context, adminID string) ([]models.Organization, error) {
	return s.db.ListOrganizations(ctx, adminID)
}

// CreateGroup registers a chat group under an organization. The group's
// chat id becomes a valid recognition scope.
func (s *Service) CreateGroup(ctx context.Context, adminID string, g models.Group) (models.Group, error) {
	if err := s.requireAdmin(adminID, "create group"); err != nil {
		return models.Group{}, err
	}

	g.Name = validation.SanitizeString(g.Name)
	g.ChatID = validation.SanitizeString(g.ChatID)
	if err := validation.ValidateRequired(g.Name, "name"); err != nil {
		return models.Group{}, err
	}
	if err := validation.ValidateRequired(g.ChatID, "chat_id"); err != nil {
		return models.Group{}, err
	}

	if _, err := s.db.GetOrganization(ctx, g.OrgID); err != nil {
		return models.Group{}, err
	}

	g.ID = uuid.New().String()
	if err := s.db.InsertGroup(ctx, g, s.clock.Now()); err != nil {
		return models.Group{}, err
	}
	return g, nil
}

// ListGroups returns the groups of an organization.
func (s *Service) ListGroups(ctx context.Context, orgID string) ([]models.Group, error) {
	return s.db.ListGroups(ctx, orgID)
}

// GroupForScope resolves the registered group behind a recognition scope.
func (s *Service) GroupForScope(ctx context.Context, scope string) (models.Group, error) {
	return s.db.GetGroupByChatID(ctx, scope)
}

// AddComment attaches a comment to a recognition.
func (s *Service) AddComment(ctx context.Context, userID, recognitionID, text string) (models.Comment, error) {
	if !s.features.IsEnabled(features.FeatureComments) {
		return models.Comment{}, fmt.Errorf("comments are disabled: %w", models.ErrForbidden)
	}

	text = validation.SanitizeString(text)
	if err := validation.ValidateRequired(text, "text"); err != nil {
		return models.Comment{}, err
	}
	if len(text) > maxCommentLength {
		return models.Comment{}, &validation.ValidationError{
			Field:   "text",
			Message: fmt.Sprintf("cannot exceed %d characters", maxCommentLength),
		}
	}

	if _, err := s.db.GetRecognition(ctx, recognitionID); err != nil {
		return models.Comment{}, err
	}

	c := models.Comment{
		ID:            uuid.New().String(),
		RecognitionID: recognitionID,
		UserID:        userID,
		Text:          text,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.db.InsertComment(ctx, c); err != nil {
		return models.Comment{}, err
	}
	return c, nil
}

// ListComments returns the comments on a recognition.
func (s *Service) ListComments(ctx context.Context, recognitionID string) ([]models.Comment, error) {
	return s.db.ListComments(ctx, recognitionID)
}
