package core

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"casegrid/pkg/domain"
)

func TestEncodeSnapshotOmitsTransientIndexes(t *testing.T) {
	rows := sampleRows(2)
	rows[1].OriginalIndex = domain.IntPtr(1)
	rows[1].FilteredOriginalIndex = domain.IntPtr(1)
	raw, err := EncodeSnapshot(PersistedSnapshot{
		Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Headers:   domain.BuildGridHeaders(sampleHeaders()),
		Rows:      rows,
	})
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	text := string(raw)
	if strings.Contains(text, "OriginalIndex") || strings.Contains(text, "originalIndex") {
		t.Fatalf("transient indexes leaked into snapshot: %s", text)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	state, ok := generic["validationState"].(map[string]any)
	if !ok {
		t.Fatalf("validationState missing: %s", text)
	}
	if _, ok := state["errors"].(map[string]any); !ok {
		t.Fatalf("errors must serialise as an object: %s", text)
	}
	if generic["version"].(float64) != SnapshotVersion {
		t.Fatalf("version not stamped")
	}
}

func TestDecodeSnapshotRejectsNewerVersion(t *testing.T) {
	_, err := DecodeSnapshot([]byte(`{"version": 99}`))
	if !errors.Is(err, ErrSnapshotVersion) {
		t.Fatalf("expected ErrSnapshotVersion, got %v", err)
	}
	if _, err := DecodeSnapshot([]byte(`{`)); err == nil {
		t.Fatalf("malformed snapshot should fail")
	}
}

func TestFilterSettingsRoundTrip(t *testing.T) {
	cfg := domain.NewFilterConfig().Allow("isPatient_isPatient", "1", "0").Allow("empty")
	settings := filterToSettings(cfg)
	if len(settings) != 1 {
		t.Fatalf("empty allow-sets should be dropped: %v", settings)
	}
	if got := settings["isPatient_isPatient"]; len(got) != 2 || got[0] != "0" {
		t.Fatalf("values should be sorted: %v", got)
	}
	back := settingsToFilter(settings)
	if _, ok := back["isPatient_isPatient"]["1"]; !ok {
		t.Fatalf("round trip lost a value")
	}
	if filterToSettings(domain.NewFilterConfig()) != nil {
		t.Fatalf("inactive filter should serialise as nothing")
	}
}

func TestSnapshotKey(t *testing.T) {
	if SnapshotKey("") != "casegrid:default:snapshot" {
		t.Fatalf("unexpected default key %s", SnapshotKey(""))
	}
	if SnapshotKey("kim") != "casegrid:kim:snapshot" {
		t.Fatalf("unexpected key %s", SnapshotKey("kim"))
	}
}
