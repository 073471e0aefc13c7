package feed

import (
	"testing"

	"github.com/bloomline/backoffice/internal/db"
)

func TestParseNotification_InsertPayload(t *testing.T) {
	raw := `{"op":"INSERT","record":{"id":"o1","order_number":"BL-1001","customer_name":"Rosa Vane","total_amount":42.50,"status":"pending","created_at":"2026-08-30T09:15:00Z"}}`

	evt, err := parseNotification(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Kind != KindInsert {
		t.Errorf("expected insert event, got %v", evt.Kind)
	}
	if evt.Order.ID != "o1" || evt.Order.CustomerName != "Rosa Vane" {
		t.Errorf("order not decoded: %+v", evt.Order)
	}
	if evt.Order.CreatedAt.IsZero() {
		t.Error("created_at should be populated")
	}
}

func TestParseNotification_UpdateCarriesOldStatus(t *testing.T) {
	raw := `{"op":"UPDATE","old_status":"payment_pending","record":{"id":"o2","status":"paid","created_at":"2026-08-30T09:16:00Z"}}`

	evt, err := parseNotification(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Kind != KindUpdate || evt.OldStatus != db.OrderStatusPaymentPending {
		t.Errorf("update not decoded: %+v", evt)
	}
	if evt.Order.Status != db.OrderStatusPaid {
		t.Errorf("expected paid status, got %q", evt.Order.Status)
	}
}

// Oversized rows arrive as a slim record with only the keyed fields. The
// event must still be usable for alerting and watermark advancement.
func TestParseNotification_SlimRecord(t *testing.T) {
	raw := `{"op":"INSERT","record":{"id":"o3","order_number":"BL-1003","status":"pending","total_amount":18,"created_at":"2026-08-30T09:17:00Z"}}`

	evt, err := parseNotification(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Order.ID != "o3" || evt.Order.OrderNumber != "BL-1003" {
		t.Errorf("slim record not decoded: %+v", evt.Order)
	}
	if evt.Order.CustomerName != "" {
		t.Errorf("absent fields should stay zero, got %q", evt.Order.CustomerName)
	}
	if evt.Order.CreatedAt.IsZero() {
		t.Error("slim record must keep created_at for the watermark")
	}
}

func TestParseNotification_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"op":"INSERT","record":`},
		{"unknown op", `{"op":"TRUNCATE","record":{"id":"o4"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseNotification(tt.raw); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}
