package store

import (
	"encoding/json"
	"testing"
)

func TestTargetEntry_UnmarshalJSON_BareString(t *testing.T) {
	var e TargetEntry
	if err := json.Unmarshal([]byte(`"https://t.me/example"`), &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.URL != "https://t.me/example" || !e.Active {
		t.Fatalf("got %+v", e)
	}
}

func TestTargetEntry_UnmarshalJSON_AddedAt(t *testing.T) {
	var e TargetEntry
	if err := json.Unmarshal([]byte(`{"url":"https://t.me/a","active":false,"added_at":"2026-01-01T00:00:00Z"}`), &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.URL != "https://t.me/a" || e.Active || e.AddedAt != "2026-01-01T00:00:00Z" {
		t.Fatalf("got %+v", e)
	}
}

func TestTargetEntry_UnmarshalJSON_AddedDateFallback(t *testing.T) {
	var e TargetEntry
	if err := json.Unmarshal([]byte(`{"url":"https://t.me/b","active":true,"added_date":"2026-02-02T00:00:00Z"}`), &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.AddedAt != "2026-02-02T00:00:00Z" {
		t.Fatalf("expected added_date to populate AddedAt, got %+v", e)
	}
}

func TestTargetEntry_UnmarshalJSON_AddedAtWinsOverAddedDate(t *testing.T) {
	var e TargetEntry
	if err := json.Unmarshal([]byte(`{"url":"https://t.me/c","active":true,"added_at":"at","added_date":"date"}`), &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.AddedAt != "at" {
		t.Fatalf("expected added_at to win, got %+v", e)
	}
}
