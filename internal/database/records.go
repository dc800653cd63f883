package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kudos-api/internal/models"
)

// InsertRecognition records a completed transfer.
func (tx *Tx) InsertRecognition(ctx context.Context, rec models.Recognition) error {
	_, err := tx.exec(ctx, `INSERT INTO recognitions (
		id, giver_id, receiver_id, amount, message, tags, scope, kind, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.GiverID,
		rec.ReceiverID,
		rec.Amount.StringFixed(2),
		rec.Message,
		serializeTags(rec.Tags),
		rec.Scope,
		string(rec.Kind),
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert recognition: %w", err)
	}
	return nil
}

// AdvanceBonus moves an active bonus from its current next_run to next. It
// fails with models.ErrInvalidState if the bonus was deactivated or already
// advanced by someone else.
func (tx *Tx) AdvanceBonus(ctx context.Context, id string, from, next time.Time) error {
	res, err := tx.exec(ctx, `UPDATE recurring_bonuses SET next_run = ?
		WHERE id = ? AND active = ? AND next_run = ?`,
		formatTime(next), id, true, formatTime(from))
	if err != nil {
		return fmt.Errorf("failed to advance bonus %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return fmt.Errorf("bonus %s is no longer due: %w", id, models.ErrInvalidState)
	}
	return nil
}

// InsertRedemption records a new redemption request.
func (tx *Tx) InsertRedemption(ctx context.Context, req models.RedemptionRequest) error {
	var approvedAt any
	if req.ApprovedAt != nil {
		approvedAt = formatTime(*req.ApprovedAt)
	}

	_, err := tx.exec(ctx, `INSERT INTO redemption_requests (
		id, user_id, reward_id, status, points_required, created_at, approved_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.ID,
		req.UserID,
		req.RewardID,
		string(req.Status),
		req.PointsRequired.StringFixed(2),
		formatTime(req.CreatedAt),
		approvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert redemption: %w", err)
	}
	return nil
}

// InsertRedemption records a redemption request that moves no points.
func (db *DB) InsertRedemption(ctx context.Context, req models.RedemptionRequest) error {
	return db.withTx(ctx, func(tx *Tx) error {
		return tx.InsertRedemption(ctx, req)
	})
}

// ApproveRedemption flips a pending request to approved. Only one caller can
// ever win; every other gets models.ErrInvalidState.
func (tx *Tx) ApproveRedemption(ctx context.Context, id string, at time.Time) error {
	res, err := tx.exec(ctx, `UPDATE redemption_requests SET status = ?, approved_at = ?
		WHERE id = ? AND status = ?`,
		string(models.RedemptionApproved), formatTime(at), id, string(models.RedemptionPending))
	if err != nil {
		return fmt.Errorf("failed to approve redemption %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return fmt.Errorf("redemption %s is not pending: %w", id, models.ErrInvalidState)
	}
	return nil
}

const recognitionColumns = "id, giver_id, receiver_id, amount, message, tags, scope, kind, created_at"

// GetRecognition returns a recognition by id.
func (db *DB) GetRecognition(ctx context.Context, id string) (models.Recognition, error) {
	row := db.queryRow(ctx, "SELECT "+recognitionColumns+" FROM recognitions WHERE id = ?", id)
	rec, err := scanRecognition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Recognition{}, fmt.Errorf("recognition %s: %w", id, models.ErrNotFound)
	}
	return rec, err
}

// ListRecognitions returns every recognition in insertion order.
func (db *DB) ListRecognitions(ctx context.Context) ([]models.Recognition, error) {
	return db.queryRecognitions(ctx, "SELECT "+recognitionColumns+" FROM recognitions ORDER BY seq")
}

// ListRecognitionsByScope returns the recognitions posted to scope.
func (db *DB) ListRecognitionsByScope(ctx context.Context, scope string) ([]models.Recognition, error) {
	return db.queryRecognitions(ctx, "SELECT "+recognitionColumns+" FROM recognitions WHERE scope = ? ORDER BY seq", scope)
}

// ListRecognitionsForUser returns recognitions given or received by accountID.
func (db *DB) ListRecognitionsForUser(ctx context.Context, accountID string) ([]models.Recognition, error) {
	return db.queryRecognitions(ctx, "SELECT "+recognitionColumns+
		" FROM recognitions WHERE giver_id = ? OR receiver_id = ? ORDER BY seq", accountID, accountID)
}

// Snapshot returns every user and every recognition as of one committed
// point in time.
func (db *DB) Snapshot(ctx context.Context) ([]models.User, []models.Recognition, error) {
	var users []models.User
	var recs []models.Recognition
	err := db.readSnapshot(ctx, func(q querier) error {
		var err error
		if users, err = db.listUsers(ctx, q); err != nil {
			return err
		}
		recs, err = db.queryRecognitionsOn(ctx, q, "SELECT "+recognitionColumns+" FROM recognitions ORDER BY seq")
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return users, recs, nil
}

func (db *DB) queryRecognitions(ctx context.Context, query string, args ...any) ([]models.Recognition, error) {
	return db.queryRecognitionsOn(ctx, db.conn, query, args...)
}

func (db *DB) queryRecognitionsOn(ctx context.Context, q querier, query string, args ...any) ([]models.Recognition, error) {
	rows, err := db.queryOn(ctx, q, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recognitions: %w", err)
	}
	defer rows.Close()

	var recs []models.Recognition
	for rows.Next() {
		rec, err := scanRecognition(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recognitions: %w", err)
	}

	return recs, nil
}

func scanRecognition(row scanner) (models.Recognition, error) {
	var rec models.Recognition
	var tags, kind, createdAt string

	err := row.Scan(
		&rec.ID,
		&rec.GiverID,
		&rec.ReceiverID,
		&rec.Amount,
		&rec.Message,
		&tags,
		&rec.Scope,
		&kind,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Recognition{}, err
		}
		return models.Recognition{}, fmt.Errorf("failed to scan recognition: %w", err)
	}

	rec.Tags = deserializeTags(tags)
	rec.Kind = models.RecognitionKind(kind)
	rec.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return models.Recognition{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return rec, nil
}

// InsertRecurringBonus stores a new recurring bonus.
func (db *DB) InsertRecurringBonus(ctx context.Context, b models.RecurringBonus) error {
	_, err := db.exec(ctx, `INSERT INTO recurring_bonuses (
		id, giver_id, receiver_id, amount, cadence, next_run, active, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID,
		b.GiverID,
		b.ReceiverID,
		b.Amount.StringFixed(2),
		string(b.Interval),
		formatTime(b.NextRun),
		b.Active,
		formatTime(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert recurring bonus: %w", err)
	}
	return nil
}

const bonusColumns = "id, giver_id, receiver_id, amount, cadence, next_run, active, created_at"

// GetRecurringBonus returns a bonus by id.
func (db *DB) GetRecurringBonus(ctx context.Context, id string) (models.RecurringBonus, error) {
	row := db.queryRow(ctx, "SELECT "+bonusColumns+" FROM recurring_bonuses WHERE id = ?", id)
	b, err := scanBonus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RecurringBonus{}, fmt.Errorf("recurring bonus %s: %w", id, models.ErrNotFound)
	}
	return b, err
}

// DueRecurringBonuses returns active bonuses whose next_run is at or before now.
func (db *DB) DueRecurringBonuses(ctx context.Context, now time.Time) ([]models.RecurringBonus, error) {
	return db.queryBonuses(ctx, "SELECT "+bonusColumns+
		" FROM recurring_bonuses WHERE active = ? AND next_run <= ? ORDER BY next_run, id", true, formatTime(now))
}

// ListRecurringBonusesByGiver returns all bonuses, active or not, set up by giverID.
func (db *DB) ListRecurringBonusesByGiver(ctx context.Context, giverID string) ([]models.RecurringBonus, error) {
	return db.queryBonuses(ctx, "SELECT "+bonusColumns+
		" FROM recurring_bonuses WHERE giver_id = ? ORDER BY created_at, id", giverID)
}

// DeactivateRecurringBonus stops a bonus from ever being due again.
func (db *DB) DeactivateRecurringBonus(ctx context.Context, id string) error {
	res, err := db.exec(ctx, "UPDATE recurring_bonuses SET active = ? WHERE id = ?", false, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate bonus %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return fmt.Errorf("recurring bonus %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (db *DB) queryBonuses(ctx context.Context, query string, args ...any) ([]models.RecurringBonus, error) {
	rows, err := db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recurring bonuses: %w", err)
	}
	defer rows.Close()

	var bonuses []models.RecurringBonus
	for rows.Next() {
		b, err := scanBonus(rows)
		if err != nil {
			return nil, err
		}
		bonuses = append(bonuses, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recurring bonuses: %w", err)
	}

	return bonuses, nil
}

func scanBonus(row scanner) (models.RecurringBonus, error) {
	var b models.RecurringBonus
	var interval, nextRun, createdAt string

	err := row.Scan(&b.ID, &b.GiverID, &b.ReceiverID, &b.Amount, &interval, &nextRun, &b.Active, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RecurringBonus{}, err
		}
		return models.RecurringBonus{}, fmt.Errorf("failed to scan recurring bonus: %w", err)
	}

	b.Interval = models.Interval(interval)

	b.NextRun, err = parseTime(nextRun)
	if err != nil {
		return models.RecurringBonus{}, fmt.Errorf("failed to parse next_run: %w", err)
	}

	b.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return models.RecurringBonus{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return b, nil
}

// UpsertReward creates or updates a catalog reward.
func (db *DB) UpsertReward(ctx context.Context, reward models.Reward, now time.Time) error {
	_, err := db.exec(ctx, `INSERT INTO rewards (
		id, name, description, points_required, requires_approval, created_at
	) VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		name = excluded.name,
		description = excluded.description,
		points_required = excluded.points_required,
		requires_approval = excluded.requires_approval`,
		reward.ID,
		reward.Name,
		reward.Description,
		reward.PointsRequired.StringFixed(2),
		reward.RequiresApproval,
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert reward: %w", err)
	}
	return nil
}

const rewardColumns = "id, name, description, points_required, requires_approval"

// GetReward returns a reward by id.
func (db *DB) GetReward(ctx context.Context, id string) (models.Reward, error) {
	var r models.Reward
	err := db.queryRow(ctx, "SELECT "+rewardColumns+" FROM rewards WHERE id = ?", id).
		Scan(&r.ID, &r.Name, &r.Description, &r.PointsRequired, &r.RequiresApproval)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reward{}, fmt.Errorf("reward %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Reward{}, fmt.Errorf("failed to get reward: %w", err)
	}
	return r, nil
}

// ListRewards returns the catalog in creation order.
func (db *DB) ListRewards(ctx context.Context) ([]models.Reward, error) {
	rows, err := db.query(ctx, "SELECT "+rewardColumns+" FROM rewards ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query rewards: %w", err)
	}
	defer rows.Close()

	var rewards []models.Reward
	for rows.Next() {
		var r models.Reward
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.PointsRequired, &r.RequiresApproval); err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}
		rewards = append(rewards, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rewards: %w", err)
	}

	return rewards, nil
}

const redemptionColumns = "id, user_id, reward_id, status, points_required, created_at, approved_at"

// GetRedemption returns a redemption request by id.
func (db *DB) GetRedemption(ctx context.Context, id string) (models.RedemptionRequest, error) {
	row := db.queryRow(ctx, "SELECT "+redemptionColumns+" FROM redemption_requests WHERE id = ?", id)
	req, err := scanRedemption(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RedemptionRequest{}, fmt.Errorf("redemption %s: %w", id, models.ErrNotFound)
	}
	return req, err
}

// ListRedemptionsByStatus returns requests in the given status, oldest first.
func (db *DB) ListRedemptionsByStatus(ctx context.Context, status models.RedemptionStatus) ([]models.RedemptionRequest, error) {
	return db.queryRedemptions(ctx, "SELECT "+redemptionColumns+
		" FROM redemption_requests WHERE status = ? ORDER BY created_at, id", string(status))
}

// ListRedemptionsByUser returns a user's requests, oldest first.
func (db *DB) ListRedemptionsByUser(ctx context.Context, userID string) ([]models.RedemptionRequest, error) {
	return db.queryRedemptions(ctx, "SELECT "+redemptionColumns+
		" FROM redemption_requests WHERE user_id = ? ORDER BY created_at, id", userID)
}

func (db *DB) queryRedemptions(ctx context.Context, query string, args ...any) ([]models.RedemptionRequest, error) {
	rows, err := db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query redemptions: %w", err)
	}
	defer rows.Close()

	var reqs []models.RedemptionRequest
	for rows.Next() {
		req, err := scanRedemption(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating redemptions: %w", err)
	}

	return reqs, nil
}

func scanRedemption(row scanner) (models.RedemptionRequest, error) {
	var req models.RedemptionRequest
	var status, createdAt string
	var approvedAt sql.NullString

	err := row.Scan(&req.ID, &req.UserID, &req.RewardID, &status, &req.PointsRequired, &createdAt, &approvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RedemptionRequest{}, err
		}
		return models.RedemptionRequest{}, fmt.Errorf("failed to scan redemption: %w", err)
	}

	req.Status = models.RedemptionStatus(status)
	req.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return models.RedemptionRequest{}, fmt.Errorf("failed to parse created_at: %w", err)
	}

	if approvedAt.Valid {
		t, err := parseTime(approvedAt.String)
		if err != nil {
			return models.RedemptionRequest{}, fmt.Errorf("failed to parse approved_at: %w", err)
		}
		req.ApprovedAt = &t
	}
	return req, nil
}
