// Package catalog loads the reward catalog from a YAML file.
package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"kudos-api/internal/models"
)

// Entry is one reward as written in the catalog file.
type Entry struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	Description      string `yaml:"description"`
	PointsRequired   string `yaml:"points_required"`
	RequiresApproval bool   `yaml:"requires_approval"`
}

// File is a parsed catalog file.
type File struct {
	Rewards []Entry `yaml:"rewards"`
}

// Store is where seeded rewards go.
type Store interface {
	UpsertReward(ctx context.Context, reward models.Reward) (models.Reward, error)
}

// Load reads and parses a catalog file. Entry ids are required so that
// seeding the same file twice updates rewards instead of duplicating them.
func Load(path string) ([]models.Reward, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes catalog YAML.
func Parse(data []byte) ([]models.Reward, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	seen := make(map[string]bool, len(f.Rewards))
	rewards := make([]models.Reward, 0, len(f.Rewards))
	for i, e := range f.Rewards {
		if e.ID == "" {
			return nil, fmt.Errorf("reward %d: id is required", i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("reward %q: duplicate id", e.ID)
		}
		seen[e.ID] = true

		points, err := decimal.NewFromString(e.PointsRequired)
		if err != nil {
			return nil, fmt.Errorf("reward %q: invalid points_required %q: %w", e.ID, e.PointsRequired, err)
		}

		rewards = append(rewards, models.Reward{
			ID:               e.ID,
			Name:             e.Name,
			Description:      e.Description,
			PointsRequired:   points,
			RequiresApproval: e.RequiresApproval,
		})
	}
	return rewards, nil
}

// Seed upserts every reward into store and returns how many were written.
// It stops at the first invalid reward.
func Seed(ctx context.Context, store Store, rewards []models.Reward) (int, error) {
	for i, r := range rewards {
		if _, err := store.UpsertReward(ctx, r); err != nil {
			return i, fmt.Errorf("seeding reward %q: %w", r.ID, err)
		}
	}
	return len(rewards), nil
}
