package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestNew はNew関数でイベントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("IDと作成日時が採番されること", func(t *testing.T) {
		t.Parallel()

		before := time.Now().UTC()
		ev, err := New(TypeForwardFailed, "req-1", "orders")
		after := time.Now().UTC()
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}

		if _, err := uuid.Parse(ev.ID); err != nil {
			t.Errorf("IDがUUIDではない: %q", ev.ID)
		}
		if ev.RequestID != "req-1" {
			t.Errorf("RequestID = %q, want %q", ev.RequestID, "req-1")
		}
		if ev.Route != "orders" {
			t.Errorf("Route = %q, want %q", ev.Route, "orders")
		}
		if ev.EventType != TypeForwardFailed {
			t.Errorf("EventType = %q, want %q", ev.EventType, TypeForwardFailed)
		}
		if ev.CreatedAt.Before(before) || ev.CreatedAt.After(after) {
			t.Errorf("CreatedAt = %v, 期待する範囲: [%v, %v]", ev.CreatedAt, before, after)
		}
	})

	t.Run("呼び出しごとに異なるIDが採番されること", func(t *testing.T) {
		t.Parallel()

		a, _ := New(TypeForwardSucceeded, "", "menu")
		b, _ := New(TypeForwardSucceeded, "", "menu")
		if a.ID == b.ID {
			t.Errorf("IDが重複している: %q", a.ID)
		}
	})

	t.Run("未知の種別はエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := New(Type("MediaUploaded"), "req-1", "orders"); err == nil {
			t.Error("エラーが返されなかった")
		}
	})
}

// TestEventJSON はイベントのJSONフィールド名を検証する。
func TestEventJSON(t *testing.T) {
	t.Parallel()

	ev, err := New(TypeCascadeExhausted, "req-9", "orders")
	if err != nil {
		t.Fatalf("New()でエラーが発生: %v", err)
	}
	ev.Status = 502

	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("シリアライズに失敗: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("JSONのパースに失敗: %v", err)
	}
	if m["event_type"] != "CascadeExhausted" {
		t.Errorf("event_type = %v, want %q", m["event_type"], "CascadeExhausted")
	}
	if m["status"] != float64(502) {
		t.Errorf("status = %v, want 502", m["status"])
	}
	if _, ok := m["backend"]; ok {
		t.Error("空のbackendが出力されている")
	}
}
