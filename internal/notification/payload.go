package notification

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"gorm.io/datatypes"

	"maintenance-push-backend/internal/model"
)

const (
	maxTitleRunes = 100
	maxBodyRunes  = 200
	maxDataBytes  = 1000
	maxIconBytes  = 512
)

var truncatedData = json.RawMessage(`{"truncated":true}`)

// Action is a button shown by the service worker next to the notification.
type Action struct {
	Action string `json:"action" validate:"required,max=64"`
	Title  string `json:"title" validate:"required,max=64"`
	Icon   string `json:"icon,omitempty" validate:"max=512"`
}

// Payload is the JSON document delivered to the service worker.
type Payload struct {
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	Icon    string          `json:"icon,omitempty"`
	Badge   string          `json:"badge,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Actions []Action        `json:"actions,omitempty" validate:"max=4,dive"`
}

// Defaults fill in missing payload fields.
type Defaults struct {
	Title string
	Body  string
	Icon  string
}

// Sanitize returns a copy of p that fits what browsers accept: bounded title
// and body, icon paths that resolve, and a small data blob.
func Sanitize(p Payload, d Defaults) Payload {
	if strings.TrimSpace(p.Title) == "" {
		p.Title = d.Title
	}
	p.Title = truncate(p.Title, maxTitleRunes)

	if strings.TrimSpace(p.Body) == "" {
		p.Body = d.Body
	}
	p.Body = truncate(p.Body, maxBodyRunes)

	p.Icon = sanitizeIcon(p.Icon, d.Icon)
	p.Badge = sanitizeIcon(p.Badge, d.Icon)

	if len(p.Data) > 0 {
		p.Data = compactData(p.Data)
	}
	return p
}

// compactData measures the data blob as it goes over the wire.
func compactData(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil || buf.Len() > maxDataBytes {
		return truncatedData
	}
	return json.RawMessage(buf.Bytes())
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}

func sanitizeIcon(icon, fallback string) string {
	if len(icon) > maxIconBytes {
		return fallback
	}
	if icon == "" || strings.HasPrefix(icon, "/") || strings.HasPrefix(icon, "http") {
		return icon
	}
	return fallback
}

// toPending converts a sanitized payload into a queue row.
func toPending(userID int64, p Payload, contextRef string) *model.PendingNotification {
	n := &model.PendingNotification{
		UserID:     userID,
		Title:      p.Title,
		Body:       p.Body,
		Icon:       p.Icon,
		Badge:      p.Badge,
		ContextRef: contextRef,
	}
	if len(p.Data) > 0 {
		n.Data = datatypes.JSON(p.Data)
	}
	if len(p.Actions) > 0 {
		if raw, err := json.Marshal(p.Actions); err == nil {
			n.Actions = datatypes.JSON(raw)
		}
	}
	return n
}

// fromPending rebuilds the payload stored with a queued notification.
func fromPending(n model.PendingNotification) Payload {
	p := Payload{
		Title: n.Title,
		Body:  n.Body,
		Icon:  n.Icon,
		Badge: n.Badge,
	}
	if len(n.Data) > 0 {
		p.Data = json.RawMessage(n.Data)
	}
	if len(n.Actions) > 0 {
		var actions []Action
		if err := json.Unmarshal(n.Actions, &actions); err == nil {
			p.Actions = actions
		}
	}
	return p
}
