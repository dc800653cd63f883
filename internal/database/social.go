package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kudos-api/internal/models"
)

// InsertOrganization stores a new organization.
func (db *DB) InsertOrganization(ctx context.Context, org models.Organization, now time.Time) error {
	_, err := db.exec(ctx, "INSERT INTO organizations (id, name, admin_id, created_at) VALUES (?, ?, ?, ?)",
		org.ID, org.Name, org.AdminID, formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to insert organization: %w", err)
	}
	return nil
}

// ListOrganizations returns the organizations administered by adminID, or
// all of them when adminID is empty.
func (db *DB) ListOrganizations(ctx context.Context, adminID string) ([]models.Organization, error) {
	query := "SELECT id, name, admin_id FROM organizations"
	var args []any
	if adminID != "" {
		query += " WHERE admin_id = ?"
		args = append(args, adminID)
	}
	query += " ORDER BY created_at, id"

	rows, err := db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query organizations: %w", err)
	}
	defer rows.Close()

	var orgs []models.Organization
	for rows.Next() {
		var org models.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.AdminID); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating organizations: %w", err)
	}

	return orgs, nil
}

// GetOrganization returns an organization by id.
func (db *DB) GetOrganization(ctx context.Context, id string) (models.Organization, error) {
	var org models.Organization
	err := db.queryRow(ctx, "SELECT id, name, admin_id FROM organizations WHERE id = ?", id).
		Scan(&org.ID, &org.Name, &org.AdminID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Organization{}, fmt.Errorf("organization %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Organization{}, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// InsertGroup stores a chat group under an organization.
func (db *DB) InsertGroup(ctx context.Context, g models.Group, now time.Time) error {
	_, err := db.exec(ctx, "INSERT INTO chat_groups (id, org_id, name, chat_id, public, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		g.ID, g.OrgID, g.Name, g.ChatID, g.Public, formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}
	return nil
}

// ListGroups returns the groups of an organization.
func (db *DB) ListGroups(ctx context.Context, orgID string) ([]models.Group, error) {
	rows, err := db.query(ctx, "SELECT id, org_id, name, chat_id, public FROM chat_groups WHERE org_id = ? ORDER BY created_at, id", orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.OrgID, &g.Name, &g.ChatID, &g.Public); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating groups: %w", err)
	}

	return groups, nil
}

// GetGroupByChatID resolves the group a scope id belongs to.
func (db *DB) GetGroupByChatID(ctx context.Context, chatID string) (models.Group, error) {
	var g models.Group
	err := db.queryRow(ctx, "SELECT id, org_id, name, chat_id, public FROM chat_groups WHERE chat_id = ?", chatID).
		Scan(&g.ID, &g.OrgID, &g.Name, &g.ChatID, &g.Public)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, fmt.Errorf("group %s: %w", chatID, models.ErrNotFound)
	}
	if err != nil {
		return models.Group{}, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

// InsertComment attaches a comment to a recognition.
func (db *DB) InsertComment(ctx context.Context, c models.Comment) error {
	_, err := db.exec(ctx, "INSERT INTO comments (id, recognition_id, user_id, body, created_at) VALUES (?, ?, ?, ?, ?)",
		c.ID, c.RecognitionID, c.UserID, c.Text, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return nil
}

// ListComments returns the comments on a recognition, oldest first.
func (db *DB) ListComments(ctx context.Context, recognitionID string) ([]models.Comment, error) {
	rows, err := db.query(ctx, "SELECT id, recognition_id, user_id, body, created_at FROM comments WHERE recognition_id = ? ORDER BY created_at, id", recognitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	var comments []models.Comment
	for rows.Next() {
		var c models.Comment
		var createdAt string
		if err := rows.Scan(&c.ID, &c.RecognitionID, &c.UserID, &c.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		comments = append(comments, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comments: %w", err)
	}

	return comments, nil
}
