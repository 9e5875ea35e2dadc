package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"casegrid/pkg/domain"
)

// SnapshotVersion is the current persisted snapshot schema version.
const SnapshotVersion = 1

// ErrSnapshotVersion is returned when a stored snapshot has a newer schema.
var ErrSnapshotVersion = errors.New("snapshot: unsupported version")

// PersistedSnapshot is the record written to the storage port after each commit.
type PersistedSnapshot struct {
	Version         int                 `json:"version"`
	Timestamp       time.Time           `json:"timestamp"`
	Headers         []domain.GridHeader `json:"headers"`
	Rows            []domain.GridRow    `json:"rows"`
	Settings        SnapshotSettings    `json:"settings"`
	ValidationState ValidationState     `json:"validationState"`
}

// SnapshotSettings carries view state that survives a reload.
type SnapshotSettings struct {
	Filter map[string][]string `json:"filter,omitempty"`
	Extra  map[string]string   `json:"extra,omitempty"`
}

// ValidationState serialises the error map as a plain object.
type ValidationState struct {
	Errors  map[string]domain.ValidationError `json:"errors"`
	Version int64                             `json:"version"`
}

// SnapshotKey returns the storage key for an owner's snapshot.
func SnapshotKey(owner string) string {
	if owner == "" {
		owner = "default"
	}
	return "casegrid:" + owner + ":snapshot"
}

// EncodeSnapshot marshals s, stamping the current schema version.
func EncodeSnapshot(s PersistedSnapshot) ([]byte, error) {
	s.Version = SnapshotVersion
	if s.ValidationState.Errors == nil {
		s.ValidationState.Errors = map[string]domain.ValidationError{}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return raw, nil
}

// DecodeSnapshot unmarshals a stored snapshot, rejecting newer schemas.
func DecodeSnapshot(raw []byte) (PersistedSnapshot, error) {
	var s PersistedSnapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return PersistedSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version > SnapshotVersion {
		return PersistedSnapshot{}, fmt.Errorf("%w: %d", ErrSnapshotVersion, s.Version)
	}
	return s, nil
}

func filterToSettings(cfg domain.FilterConfig) map[string][]string {
	if !cfg.Active() {
		return nil
	}
	out := make(map[string][]string, len(cfg))
	for key, allowed := range cfg {
		if len(allowed) == 0 {
			continue
		}
		values := make([]string, 0, len(allowed))
		for v := range allowed {
			values = append(values, v)
		}
		sort.Strings(values)
		out[key] = values
	}
	return out
}

func settingsToFilter(in map[string][]string) domain.FilterConfig {
	cfg := domain.NewFilterConfig()
	for key, values := range in {
		cfg.Allow(key, values...)
	}
	return cfg
}
