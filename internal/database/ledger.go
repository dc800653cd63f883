package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"kudos-api/internal/models"
)

// Tx is a ledger transaction handed to the callbacks of ApplyPairedDelta and
// ApplySingleDelta. Everything done through it commits or rolls back together
// with the balance change.
type Tx struct {
	tx      *sql.Tx
	dialect dialect
}

func (tx *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.tx.ExecContext(ctx, tx.dialect.rebind(query), args...)
}

// lockBalance reads a user's balance for update.
func (tx *Tx) lockBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	query := "SELECT balance FROM users WHERE account_id = ?" + tx.dialect.lockSuffix

	var balance decimal.Decimal
	err := tx.tx.QueryRowContext(ctx, tx.dialect.rebind(query), accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("user %s: %w", accountID, models.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read balance for %s: %w", accountID, err)
	}
	return balance, nil
}

func (tx *Tx) setBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("user %s: %w", accountID, models.ErrInsufficientFunds)
	}
	_, err := tx.exec(ctx, "UPDATE users SET balance = ? WHERE account_id = ?", balance.StringFixed(2), accountID)
	if err != nil {
		return fmt.Errorf("failed to write balance for %s: %w", accountID, err)
	}
	return nil
}

// ApplyPairedDelta atomically moves amount from fromID to toID and then runs
// fn in the same transaction. Both rows are locked in ascending account id
// order. It fails with models.ErrInsufficientFunds when the sender's balance
// is below amount; on any error nothing is written.
func (db *DB) ApplyPairedDelta(ctx context.Context, fromID, toID string, amount decimal.Decimal, fn func(*Tx) error) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	if fromID == toID {
		return fmt.Errorf("%w: sender and receiver must differ", models.ErrValidation)
	}

	return db.withTx(ctx, func(tx *Tx) error {
		ids := []string{fromID, toID}
		sort.Strings(ids)

		balances := make(map[string]decimal.Decimal, 2)
		for _, id := range ids {
			balance, err := tx.lockBalance(ctx, id)
			if err != nil {
				return err
			}
			balances[id] = balance
		}

		if balances[fromID].LessThan(amount) {
			return fmt.Errorf("user %s has %s, needs %s: %w",
				fromID, balances[fromID].StringFixed(2), amount.StringFixed(2), models.ErrInsufficientFunds)
		}

		if err := tx.setBalance(ctx, fromID, balances[fromID].Sub(amount)); err != nil {
			return err
		}
		if err := tx.setBalance(ctx, toID, balances[toID].Add(amount)); err != nil {
			return err
		}

		if fn != nil {
			return fn(tx)
		}
		return nil
	})
}

// ApplySingleDelta atomically adds delta (which may be negative) to one
// balance and then runs fn in the same transaction. It returns the new
// balance. A delta that would leave the balance negative fails with
// models.ErrInsufficientFunds.
func (db *DB) ApplySingleDelta(ctx context.Context, accountID string, delta decimal.Decimal, fn func(*Tx) error) (decimal.Decimal, error) {
	if delta.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: delta must not be zero", models.ErrValidation)
	}

	var updated decimal.Decimal
	err := db.withTx(ctx, func(tx *Tx) error {
		balance, err := tx.lockBalance(ctx, accountID)
		if err != nil {
			return err
		}

		updated = balance.Add(delta)
		if updated.IsNegative() {
			return fmt.Errorf("user %s has %s, needs %s: %w",
				accountID, balance.StringFixed(2), delta.Neg().StringFixed(2), models.ErrInsufficientFunds)
		}

		if err := tx.setBalance(ctx, accountID, updated); err != nil {
			return err
		}

		if fn != nil {
			return fn(tx)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return updated, nil
}

// ResetBalance sets a balance to value and returns the previous balance.
func (db *DB) ResetBalance(ctx context.Context, accountID string, value decimal.Decimal) (decimal.Decimal, error) {
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: balance cannot be negative", models.ErrValidation)
	}

	var previous decimal.Decimal
	err := db.withTx(ctx, func(tx *Tx) error {
		balance, err := tx.lockBalance(ctx, accountID)
		if err != nil {
			return err
		}
		previous = balance
		return tx.setBalance(ctx, accountID, value)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return previous, nil
}

// GetBalance returns a user's current balance.
func (db *DB) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := db.queryRow(ctx, "SELECT balance FROM users WHERE account_id = ?", accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("user %s: %w", accountID, models.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// GetOrCreateUser returns the user for accountID, creating it with
// startingBalance on first sight. A non-empty username replaces the stored
// one. The boolean reports whether the user was created by this call.
func (db *DB) GetOrCreateUser(ctx context.Context, accountID, username string, startingBalance decimal.Decimal, now time.Time) (models.User, bool, error) {
	res, err := db.exec(ctx, `INSERT INTO users (account_id, username, balance, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id) DO NOTHING`,
		accountID, username, startingBalance.StringFixed(2), formatTime(now))
	if err != nil {
		return models.User{}, false, fmt.Errorf("failed to create user: %w", err)
	}

	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		created = true
	}

	if !created && username != "" {
		if _, err := db.exec(ctx, "UPDATE users SET username = ? WHERE account_id = ? AND username <> ?",
			username, accountID, username); err != nil {
			return models.User{}, false, fmt.Errorf("failed to update username: %w", err)
		}
	}

	user, err := db.GetUser(ctx, accountID)
	if err != nil {
		return models.User{}, false, err
	}
	return user, created, nil
}

const userColumns = "id, account_id, username, balance, created_at"

// GetUser returns a user by account id.
func (db *DB) GetUser(ctx context.Context, accountID string) (models.User, error) {
	row := db.queryRow(ctx, "SELECT "+userColumns+" FROM users WHERE account_id = ?", accountID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %s: %w", accountID, models.ErrNotFound)
	}
	return user, err
}

// FindUserByUsername resolves a display handle, case-insensitively.
func (db *DB) FindUserByUsername(ctx context.Context, username string) (models.User, error) {
	row := db.queryRow(ctx, "SELECT "+userColumns+" FROM users WHERE LOWER(username) = LOWER(?) ORDER BY id LIMIT 1", username)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("user @%s: %w", username, models.ErrNotFound)
	}
	return user, err
}

// ListUsers returns all users in creation order.
func (db *DB) ListUsers(ctx context.Context) ([]models.User, error) {
	return db.listUsers(ctx, db.conn)
}

func (db *DB) listUsers(ctx context.Context, q querier) ([]models.User, error) {
	rows, err := db.queryOn(ctx, q, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (models.User, error) {
	var user models.User
	var createdAt string
	if err := row.Scan(&user.ID, &user.AccountID, &user.Username, &user.Balance, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, err
		}
		return models.User{}, fmt.Errorf("failed to scan user: %w", err)
	}

	var err error
	user.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return user, nil
}
