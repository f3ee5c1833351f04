package webhooks

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func decodeJSON(t *testing.T, raw string) interface{} {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		t.Fatalf("Failed to decode test payload: %v", err)
	}
	return v
}

func TestNormalizePipedrive(t *testing.T) {
	n := NewNormalizer(zerolog.Nop())

	payload := decodeJSON(t, `{
		"meta": {
			"action": "updated",
			"object": "deal",
			"id": 42,
			"user_id": 7,
			"timestamp": 1735689600,
			"timestamp_micro": "1735689600123456"
		},
		"current": {"id": 42, "status": "won", "value": 500},
		"previous": {"id": 42, "status": "open", "value": 500}
	}`)

	events, err := n.Normalize("pipedrive", payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}

	ev := events[0]
	if ev.Provider != "pipedrive" || ev.ObjectType != "deal" || ev.Action != ActionUpdated {
		t.Errorf("Unexpected identity: %s/%s/%s", ev.Provider, ev.ObjectType, ev.Action)
	}
	if ev.ObjectID != "42" {
		t.Errorf("Expected object id 42, got %s", ev.ObjectID)
	}
	if ev.ActorID != "7" {
		t.Errorf("Expected actor id 7, got %s", ev.ActorID)
	}
	if ev.RawTimestamp != "1735689600123456" {
		t.Errorf("Expected micro timestamp in raw form, got %s", ev.RawTimestamp)
	}
	if ev.Timestamp.UnixMicro() != 1735689600123456 {
		t.Errorf("Unexpected timestamp: %v", ev.Timestamp)
	}
	if ev.Current["status"] != "won" {
		t.Errorf("Current snapshot not carried: %v", ev.Current)
	}
	if ev.Previous["status"] != "open" {
		t.Errorf("Previous snapshot not carried: %v", ev.Previous)
	}
	if ev.TriggerName() != "pipedrive.deal.updated" {
		t.Errorf("Unexpected trigger name %s", ev.TriggerName())
	}
}

func TestNormalizePipedriveUnknownActionPassesThrough(t *testing.T) {
	n := NewNormalizer(zerolog.Nop())

	payload := decodeJSON(t, `{
		"meta": {"action": "archived", "object": "deal", "id": 1, "timestamp": 1735689600}
	}`)

	events, err := n.Normalize("pipedrive", payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if events[0].Action != "archived" {
		t.Errorf("Unknown action should pass through, got %s", events[0].Action)
	}
}

func TestNormalizePipedriveMissingTimestamp(t *testing.T) {
	n := NewNormalizer(zerolog.Nop())

	payload := decodeJSON(t, `{
		"meta": {"action": "added", "object": "person", "id": 9}
	}`)

	before := time.Now().Add(-time.Second)
	events, err := n.Normalize("pipedrive", payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	ev := events[0]
	if ev.Timestamp.Before(before) {
		t.Errorf("Expected current time substituted, got %v", ev.Timestamp)
	}
	if ev.RawTimestamp == "" {
		t.Error("RawTimestamp must still be populated for the dedup key")
	}
}

func TestNormalizeEmailSES(t *testing.T) {
	n := NewNormalizer(zerolog.Nop())

	payload := decodeJSON(t, `{
		"notificationType": "Bounce",
		"mail": {"messageId": "msg-123"},
		"bounce": {
			"bounceType": "Permanent",
			"bouncedRecipients": [{"emailAddress": "jane@example.com", "diagnosticCode": "550 5.1.1 user unknown"}],
			"timestamp": "2025-01-01T00:00:00Z"
		}
	}`)

	events, err := n.Normalize("email", payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	ev := events[0]
	if ev.Action != ActionBounce {
		t.Errorf("Expected bounce, got %s", ev.Action)
	}
	if ev.Recipient != "jane@example.com" {
		t.Errorf("Expected recipient, got %s", ev.Recipient)
	}
	if ev.MessageID != "msg-123" || ev.ObjectID != "msg-123" {
		t.Errorf("Message id not carried: %s / %s", ev.MessageID, ev.ObjectID)
	}
	if ev.Description != "550 5.1.1 user unknown" {
		t.Errorf("Diagnostic not carried: %s", ev.Description)
	}
	if ev.Timestamp.Unix() != 1735689600 {
		t.Errorf("Unexpected timestamp %v", ev.Timestamp)
	}
	if ev.TriggerName() != "email.bounce" {
		t.Errorf("Unexpected trigger name %s", ev.TriggerName())
	}
}

func TestNormalizeEmailSendGridBatch(t *testing.T) {
	n := NewNormalizer(zerolog.Nop())

	payload := decodeJSON(t, `[
		{"event": "delivered", "email": "a@example.com", "sg_message_id": "sg-1", "timestamp": 1735689600},
		{"event": "open", "email": "b@example.com", "sg_message_id": "sg-2", "timestamp": 1735689601},
		{"event": "group_unsubscribe", "email": "c@example.com", "sg_message_id": "sg-3", "timestamp": 1735689602}
	]`)

	events, err := n.Normalize("email", payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events from batch, got %d", len(events))
	}

	if events[0].Action != ActionDelivery || events[1].Action != ActionOpen {
		t.Errorf("Unexpected actions %s, %s", events[0].Action, events[1].Action)
	}
	// unknown SendGrid event passes through raw
	if events[2].Action != "group_unsubscribe" {
		t.Errorf("Expected passthrough action, got %s", events[2].Action)
	}
	if events[0].Recipient != "a@example.com" || events[0].ObjectID != "sg-1" {
		t.Errorf("Recipient/object id wrong: %s / %s", events[0].Recipient, events[0].ObjectID)
	}
}

func TestNormalizeEmailMailgun(t *testing.T) {
	n := NewNormalizer(zerolog.Nop())

	payload := decodeJSON(t, `{
		"signature": {"token": "t"},
		"event-data": {
			"event": "failed",
			"recipient": "bob@example.com",
			"timestamp": 1735689600.5,
			"message": {"headers": {"message-id": "mg-1"}},
			"delivery-status": {"description": "mailbox full"}
		}
	}`)

	events, err := n.Normalize("email", payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	ev := events[0]
	if ev.Action != ActionBounce {
		t.Errorf("Mailgun failed should map to bounce, got %s", ev.Action)
	}
	if ev.Recipient != "bob@example.com" || ev.MessageID != "mg-1" {
		t.Errorf("Identity not carried: %s / %s", ev.Recipient, ev.MessageID)
	}
	if ev.Description != "mailbox full" {
		t.Errorf("Description not carried: %s", ev.Description)
	}
}

func TestNormalizeEmailUnrecognizedShape(t *testing.T) {
	n := NewNormalizer(zerolog.Nop())

	if _, err := n.Normalize("email", decodeJSON(t, `{"hello": "world"}`)); err == nil {
		t.Error("Expected error for unrecognized email payload shape")
	}
}

func TestNormalizeUnknownProvider(t *testing.T) {
	n := NewNormalizer(zerolog.Nop())

	if _, err := n.Normalize("salesforce", map[string]interface{}{}); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestDedupKeyComposition(t *testing.T) {
	ev := &Normalized{
		ObjectType:   "deal",
		ObjectID:     "42",
		RawTimestamp: "1735689600123456",
	}

	key := ev.DedupKey("ws_1")
	if key != "ws_1:deal:42:1735689600123456" {
		t.Errorf("Unexpected dedup key %s", key)
	}
	if key == ev.DedupKey("ws_2") {
		t.Error("Dedup keys must differ across workspaces")
	}
}
