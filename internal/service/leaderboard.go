package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"kudos-api/internal/cache"
	"kudos-api/internal/features"
	"kudos-api/internal/models"
	"kudos-api/internal/validation"
)

const (
	generationKey   = "leaderboard:generation"
	maxBoardEntries = 100
)

// TopByBalance ranks users by current balance, highest first. Ties keep
// user creation order.
func (s *Service) TopByBalance(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	limit = clampLimit(limit)

	return s.cachedBoard(ctx, fmt.Sprintf("balance:%d", limit), func() ([]models.LeaderboardEntry, error) {
		users, err := s.db.ListUsers(ctx)
		if err != nil {
			return nil, err
		}

		rows := make([]ranked, 0, len(users))
		for _, u := range users {
			rows = append(rows, rankedFrom(u, u.Balance))
		}
		return rank(rows, limit), nil
	})
}

// TopByScope ranks users by the points they received in scope, highest
// first. Users who received nothing there are left out.
func (s *Service) TopByScope(ctx context.Context, scope string, limit int) ([]models.LeaderboardEntry, error) {
	if err := validation.ValidateRequired(scope, "scope"); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	return s.cachedBoard(ctx, fmt.Sprintf("scope:%s:%d", scope, limit), func() ([]models.LeaderboardEntry, error) {
		recs, err := s.db.ListRecognitionsByScope(ctx, scope)
		if err != nil {
			return nil, err
		}

		received := make(map[string]decimal.Decimal)
		for _, rec := range recs {
			received[rec.ReceiverID] = received[rec.ReceiverID].Add(rec.Amount)
		}
		if len(received) == 0 {
			return []models.LeaderboardEntry{}, nil
		}

		users, err := s.db.ListUsers(ctx)
		if err != nil {
			return nil, err
		}

		rows := make([]ranked, 0, len(received))
		for _, u := range users {
			if points, ok := received[u.AccountID]; ok {
				rows = append(rows, rankedFrom(u, points))
			}
		}
		return rank(rows, limit), nil
	})
}

type ranked struct {
	seq   int64
	entry models.LeaderboardEntry
}

func rankedFrom(u models.User, points decimal.Decimal) ranked {
	return ranked{
		seq: u.ID,
		entry: models.LeaderboardEntry{
			AccountID: u.AccountID,
			Username:  u.Username,
			Points:    points,
		},
	}
}

func rank(rows []ranked, limit int) []models.LeaderboardEntry {
	sort.SliceStable(rows, func(i, j int) bool {
		if c := rows[i].entry.Points.Cmp(rows[j].entry.Points); c != 0 {
			return c > 0
		}
		return rows[i].seq < rows[j].seq
	})

	if len(rows) > limit {
		rows = rows[:limit]
	}

	board := make([]models.LeaderboardEntry, len(rows))
	for i, r := range rows {
		r.entry.Rank = i + 1
		board[i] = r.entry
	}
	return board
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	if limit > maxBoardEntries {
		return maxBoardEntries
	}
	return limit
}

// cachedBoard serves a board from the cache when one was built since the
// last ledger mutation, and builds and stores it otherwise. Cache failures
// fall back to building the board directly.
func (s *Service) cachedBoard(ctx context.Context, name string, build func() ([]models.LeaderboardEntry, error)) ([]models.LeaderboardEntry, error) {
	if !s.features.IsEnabled(features.FeatureLeaderboardCache) {
		return build()
	}

	gen, err := s.generation(ctx)
	if err != nil {
		s.logger.Warn("leaderboard cache unavailable", zap.Error(err))
		return build()
	}
	key := fmt.Sprintf("leaderboard:%s:%s", gen, name)

	var board []models.LeaderboardEntry
	if err := cache.GetJSON(ctx, s.cache, key, &board); err == nil {
		return board, nil
	} else if !errors.Is(err, cache.ErrNotFound) {
		s.logger.Warn("leaderboard cache read failed", zap.String("key", key), zap.Error(err))
	}

	board, err = build()
	if err != nil {
		return nil, err
	}

	if err := cache.SetJSON(ctx, s.cache, key, board, s.cacheTTL); err != nil {
		s.logger.Warn("leaderboard cache write failed", zap.String("key", key), zap.Error(err))
		return board, nil
	}
	s.boardsMu.Lock()
	s.boardKeys[key] = gen
	s.boardsMu.Unlock()
	return board, nil
}

func (s *Service) generation(ctx context.Context) (string, error) {
	data, err := s.cache.Get(ctx, generationKey)
	if errors.Is(err, cache.ErrNotFound) {
		return "0", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ledgerChanged retires every cached board. Called after each committed
// balance mutation. Boards this process wrote under older generations are
// deleted, since nothing will read them again.
func (s *Service) ledgerChanged(ctx context.Context) {
	n, err := s.cache.Incr(ctx, generationKey)
	if err != nil {
		s.logger.Warn("failed to invalidate leaderboards", zap.Error(err))
		return
	}
	current := strconv.FormatInt(n, 10)

	s.boardsMu.Lock()
	var stale []string
	for key, gen := range s.boardKeys {
		if gen != current {
			stale = append(stale, key)
			delete(s.boardKeys, key)
		}
	}
	s.boardsMu.Unlock()

	for _, key := range stale {
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to drop stale leaderboard", zap.String("key", key), zap.Error(err))
		}
	}
}
