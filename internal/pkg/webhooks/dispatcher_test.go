package webhooks

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/MartinGrube/SoloStore/app/models"
)

func TestMatchesEventType(t *testing.T) {
	tests := []struct {
		name      string
		filter    string
		eventType string
		want      bool
	}{
		{"empty filter matches all", "", "order.paid", true},
		{"blank filter matches all", "   ", "order.refunded", true},
		{"single match", "order.paid", "order.paid", true},
		{"single mismatch", "order.paid", "order.refunded", false},
		{"list match", "order.paid,order.refunded", "order.refunded", true},
		{"list with spaces", "order.paid, order.refunded , order.disputed", "order.disputed", true},
		{"list mismatch", "order.paid,order.refunded", "license.revoked", false},
		{"no partial match", "order.paid", "order.pai", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesEventType(tt.filter, tt.eventType); got != tt.want {
				t.Fatalf("matchesEventType(%q, %q) = %v, want %v", tt.filter, tt.eventType, got, tt.want)
			}
		})
	}
}

func TestAttemptScheduleGrows(t *testing.T) {
	var prev time.Duration
	for i, d := range attemptSchedule {
		if d <= prev {
			t.Fatalf("schedule slot %d (%v) does not grow past %v", i, d, prev)
		}
		prev = d
	}
}

func TestPayloadShape(t *testing.T) {
	body, err := json.Marshal(Payload{
		EventID:   "evt_123",
		EventType: "order.paid",
		Data:      json.RawMessage(`{"order_id":7}`),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"eventId", "eventType", "data"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("payload missing %q: %s", key, body)
		}
	}
	if string(decoded["data"]) != `{"order_id":7}` {
		t.Fatalf("data not embedded raw: %s", decoded["data"])
	}
}

// The due-scan picks up pending deliveries that are due and delivering rows
// whose worker died mid-attempt, but never a delivery another worker is still
// actively attempting.
func TestDueDeliveriesReclaimsStranded(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "webhooks.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.WebhookSubscription{}, &models.WebhookDelivery{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	now := time.Now()
	seed := func(eventID, status string, nextAttempt, updated time.Time) {
		t.Helper()
		delivery := &models.WebhookDelivery{
			SubscriptionID: 1,
			EventID:        eventID,
			EventType:      "order.paid",
			PayloadJSON:    "{}",
			Status:         status,
			NextAttemptAt:  nextAttempt,
		}
		if err := db.Create(delivery).Error; err != nil {
			t.Fatalf("seed %s: %v", eventID, err)
		}
		if err := db.Model(&models.WebhookDelivery{}).Where("id = ?", delivery.ID).
			UpdateColumn("updated_at", updated).Error; err != nil {
			t.Fatalf("stamp %s: %v", eventID, err)
		}
	}

	seed("evt_due", models.DeliveryStatusPending, now.Add(-time.Minute), now)
	seed("evt_future", models.DeliveryStatusPending, now.Add(time.Hour), now)
	seed("evt_in_flight", models.DeliveryStatusDelivering, now.Add(-time.Minute), now.Add(-time.Minute))
	seed("evt_stranded", models.DeliveryStatusDelivering, now.Add(-time.Hour), now.Add(-strandedAfter-time.Minute))
	seed("evt_done", models.DeliveryStatusSucceeded, now.Add(-time.Hour), now.Add(-time.Hour))

	var due []models.WebhookDelivery
	if err := dueDeliveries(db, now).Order("event_id ASC").Find(&due).Error; err != nil {
		t.Fatalf("scan: %v", err)
	}
	got := make([]string, 0, len(due))
	for _, d := range due {
		got = append(got, d.EventID)
	}
	want := []string{"evt_due", "evt_stranded"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("due deliveries = %v, want %v", got, want)
	}
}
