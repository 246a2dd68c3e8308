package kv

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
)

// KeySchemaVersion holds the version of the persisted document layout.
const KeySchemaVersion = "schemaVersion"

// ErrSchemaTooNew is returned when the stored documents were written by a
// newer layout than any known migration.
var ErrSchemaTooNew = errors.New("stored schema is newer than supported")

// Migration upgrades the persisted documents to Version.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, s *Store) error
}

// Migrate runs every migration newer than the stored schema version in
// ascending order, recording the version after each one. It reports whether
// any migration ran. A store without a version is at version 0.
func (s *Store) Migrate(ctx context.Context, migrations []Migration) (bool, error) {
	var current int
	if _, err := s.Get(ctx, KeySchemaVersion, &current); err != nil {
		return false, fmt.Errorf("reading schema version: %w", err)
	}

	sorted := slices.SortedFunc(slices.Values(migrations), func(a, b Migration) int {
		return cmp.Compare(a.Version, b.Version)
	})
	if len(sorted) > 0 && current > sorted[len(sorted)-1].Version {
		return false, fmt.Errorf("%w: version %d", ErrSchemaTooNew, current)
	}

	ran := false
	for _, m := range sorted {
		if m.Version <= current {
			continue
		}
		s.logger.Info("running migration", "version", m.Version, "description", m.Description)
		if m.Up != nil {
			if err := m.Up(ctx, s); err != nil {
				return ran, fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
		}
		if err := s.SetNow(ctx, KeySchemaVersion, m.Version); err != nil {
			return ran, fmt.Errorf("recording migration %d: %w", m.Version, err)
		}
		current = m.Version
		ran = true
	}
	return ran, nil
}
