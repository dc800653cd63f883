package features

import (
	"sort"
	"sync"
)

// Predefined feature flag names
const (
	// FeatureLeaderboardCache serves leaderboards through the cache layer
	FeatureLeaderboardCache = "leaderboard_cache"
	// FeatureNotifications delivers notifications to the event sink
	FeatureNotifications = "notifications"
	// FeatureRecurringSweep lets the background ticker pay recurring bonuses
	FeatureRecurringSweep = "recurring_sweep"
	// FeatureComments allows comments on recognitions
	FeatureComments = "comments"
)

// Flag represents a feature flag.
type Flag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// Manager manages feature flags.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]*Flag
}

// NewManager creates a manager with the predefined flags registered. Flags
// missing from states default to enabled.
func NewManager(states map[string]bool) *Manager {
	m := &Manager{flags: make(map[string]*Flag)}

	defs := []Flag{
		{Name: FeatureLeaderboardCache, Description: "Cache leaderboards until the next ledger mutation"},
		{Name: FeatureNotifications, Description: "Emit transfer, redemption and recurring notifications"},
		{Name: FeatureRecurringSweep, Description: "Pay due recurring bonuses on the scheduler tick"},
		{Name: FeatureComments, Description: "Allow comments on recognitions"},
	}
	for _, d := range defs {
		enabled, ok := states[d.Name]
		if !ok {
			enabled = true
		}
		m.Register(d.Name, enabled, d.Description)
	}
	return m
}

// Register registers a feature flag, replacing any flag with the same name.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = &Flag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

// IsEnabled reports whether a flag is enabled. Unknown flags are disabled.
// A nil Manager has every flag enabled.
func (m *Manager) IsEnabled(name string) bool {
	if m == nil {
		return true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, ok := m.flags[name]
	if !ok {
		return false
	}
	return flag.Enabled
}

// Set turns a registered flag on or off. It reports whether the flag exists.
func (m *Manager) Set(name string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	flag, ok := m.flags[name]
	if !ok {
		return false
	}
	flag.Enabled = enabled
	return true
}

// All returns a copy of every flag, sorted by name.
func (m *Manager) All() []Flag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Flag, 0, len(m.flags))
	for _, f := range m.flags {
		result = append(result, *f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
