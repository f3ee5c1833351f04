package webhooks

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Normalizer maps provider-native payload shapes onto Normalized events. The
// provider family is fixed by the receiving endpoint; only the email family
// sniffs the payload shape to tell its dialects apart.
type Normalizer struct {
	log zerolog.Logger
}

func NewNormalizer(log zerolog.Logger) *Normalizer {
	return &Normalizer{log: log}
}

func (n *Normalizer) Normalize(provider string, payload interface{}) ([]*Normalized, error) {
	switch provider {
	case "pipedrive":
		ev, err := n.normalizePipedrive(payload)
		if err != nil {
			return nil, err
		}
		return []*Normalized{ev}, nil
	case "email":
		return n.normalizeEmail(payload)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

var pipedriveActions = map[string]string{
	"added":   ActionAdded,
	"updated": ActionUpdated,
	"deleted": ActionDeleted,
	"merged":  ActionMerged,
}

func (n *Normalizer) normalizePipedrive(payload interface{}) (*Normalized, error) {
	root, ok := payload.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("pipedrive payload is not an object")
	}
	meta, ok := root["meta"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("pipedrive payload missing meta")
	}

	action := asString(meta["action"])
	canonical, known := pipedriveActions[action]
	if !known {
		// Unknown actions pass through unmodified so new provider event
		// types are stored rather than dropped.
		canonical = action
		n.log.Warn().Str("provider", "pipedrive").Str("action", action).Msg("unknown webhook action, passing through")
	}

	ev := &Normalized{
		Provider:   "pipedrive",
		ObjectType: asString(meta["object"]),
		ObjectID:   asString(meta["id"]),
		Action:     canonical,
		ActorID:    asString(meta["user_id"]),
		Current:    asObject(root["current"]),
		Previous:   asObject(root["previous"]),
	}

	if micro := asString(meta["timestamp_micro"]); micro != "" {
		ev.RawTimestamp = micro
		if us, err := strconv.ParseInt(micro, 10, 64); err == nil {
			ev.Timestamp = time.UnixMicro(us)
		}
	} else if secs, ok := asInt64(meta["timestamp"]); ok {
		ev.RawTimestamp = strconv.FormatInt(secs, 10)
		ev.Timestamp = time.Unix(secs, 0)
	}
	if ev.Timestamp.IsZero() {
		now := time.Now()
		ev.Timestamp = now
		ev.RawTimestamp = strconv.FormatInt(now.UnixMicro(), 10)
	}

	return ev, nil
}

func (n *Normalizer) normalizeEmail(payload interface{}) ([]*Normalized, error) {
	switch body := payload.(type) {
	case []interface{}:
		// SendGrid posts a batch of events
		var events []*Normalized
		for _, item := range body {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("email event batch contains a non-object entry")
			}
			events = append(events, n.normalizeSendGrid(obj))
		}
		return events, nil
	case map[string]interface{}:
		if _, ok := body["notificationType"]; ok {
			return []*Normalized{n.normalizeSES(body)}, nil
		}
		if _, ok := body["event-data"]; ok {
			return []*Normalized{n.normalizeMailgun(body)}, nil
		}
		return nil, fmt.Errorf("unrecognized email webhook shape")
	default:
		return nil, fmt.Errorf("email payload is neither object nor array")
	}
}

var sesActions = map[string]string{
	"Bounce":    ActionBounce,
	"Complaint": ActionComplaint,
	"Delivery":  ActionDelivery,
}

func (n *Normalizer) normalizeSES(body map[string]interface{}) *Normalized {
	notType := asString(body["notificationType"])
	canonical := n.canonicalOrPassthrough("ses", notType, sesActions[notType])

	ev := &Normalized{
		Provider:   "email",
		ObjectType: "message",
		Action:     canonical,
		Current:    body,
	}

	if mail := asObject(body["mail"]); mail != nil {
		ev.MessageID = asString(mail["messageId"])
	}

	var detail map[string]interface{}
	switch canonical {
	case ActionBounce:
		detail = asObject(body["bounce"])
	case ActionComplaint:
		detail = asObject(body["complaint"])
	case ActionDelivery:
		detail = asObject(body["delivery"])
	}
	if detail != nil {
		if recipients, ok := detail["bouncedRecipients"].([]interface{}); ok && len(recipients) > 0 {
			if first := asObject(recipients[0]); first != nil {
				ev.Recipient = asString(first["emailAddress"])
				ev.Description = asString(first["diagnosticCode"])
			}
		}
		if complained, ok := detail["complainedRecipients"].([]interface{}); ok && len(complained) > 0 {
			if first := asObject(complained[0]); first != nil {
				ev.Recipient = asString(first["emailAddress"])
			}
		}
		if recipients, ok := detail["recipients"].([]interface{}); ok && len(recipients) > 0 {
			ev.Recipient = asString(recipients[0])
		}
		if ts, err := time.Parse(time.RFC3339, asString(detail["timestamp"])); err == nil {
			ev.Timestamp = ts
		}
	}

	n.finishEmailEvent(ev)
	return ev
}

var sendGridActions = map[string]string{
	"bounce":     ActionBounce,
	"spamreport": ActionComplaint,
	"delivered":  ActionDelivery,
	"open":       ActionOpen,
	"click":      ActionClick,
}

func (n *Normalizer) normalizeSendGrid(body map[string]interface{}) *Normalized {
	event := asString(body["event"])
	ev := &Normalized{
		Provider:    "email",
		ObjectType:  "message",
		Action:      n.canonicalOrPassthrough("sendgrid", event, sendGridActions[event]),
		MessageID:   asString(body["sg_message_id"]),
		Recipient:   asString(body["email"]),
		Description: asString(body["reason"]),
		Current:     body,
	}
	if secs, ok := asInt64(body["timestamp"]); ok {
		ev.Timestamp = time.Unix(secs, 0)
	}
	n.finishEmailEvent(ev)
	return ev
}

var mailgunActions = map[string]string{
	"failed":     ActionBounce,
	"complained": ActionComplaint,
	"delivered":  ActionDelivery,
	"opened":     ActionOpen,
	"clicked":    ActionClick,
}

func (n *Normalizer) normalizeMailgun(body map[string]interface{}) *Normalized {
	data := asObject(body["event-data"])
	if data == nil {
		data = map[string]interface{}{}
	}
	event := asString(data["event"])

	ev := &Normalized{
		Provider:   "email",
		ObjectType: "message",
		Action:     n.canonicalOrPassthrough("mailgun", event, mailgunActions[event]),
		Recipient:  asString(data["recipient"]),
		Current:    body,
	}
	if msg := asObject(data["message"]); msg != nil {
		if headers := asObject(msg["headers"]); headers != nil {
			ev.MessageID = asString(headers["message-id"])
		}
	}
	if status := asObject(data["delivery-status"]); status != nil {
		ev.Description = asString(status["description"])
		if ev.Description == "" {
			ev.Description = asString(status["message"])
		}
	}
	if secs, ok := asInt64(data["timestamp"]); ok {
		ev.Timestamp = time.Unix(secs, 0)
	}
	n.finishEmailEvent(ev)
	return ev
}

func (n *Normalizer) canonicalOrPassthrough(dialect, raw, canonical string) string {
	if canonical != "" {
		return canonical
	}
	n.log.Warn().Str("provider", "email").Str("dialect", dialect).Str("event", raw).Msg("unknown webhook event type, passing through")
	return raw
}

func (n *Normalizer) finishEmailEvent(ev *Normalized) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.RawTimestamp = strconv.FormatInt(ev.Timestamp.UnixMicro(), 10)
	if ev.MessageID != "" {
		ev.ObjectID = ev.MessageID
	} else {
		ev.ObjectID = ev.Recipient
	}
}

func asString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

func asInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
		if f, err := val.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(val), true
	case int64:
		return val, true
	case string:
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

func asObject(v interface{}) map[string]interface{} {
	obj, _ := v.(map[string]interface{})
	return obj
}
