package ui

import (
	"fmt"
	"html"
	"time"
)

// Severity 控制通知的样式。
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification 是一条可手动关闭、到期自动移除的提示。
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	timer stopper
}

type stopper interface {
	Stop() bool
}

func (n *Notification) markup() string {
	id := html.EscapeString(n.ID)
	return fmt.Sprintf(
		`<div class="notification notification-%s" data-notification-id="%s">`+
			`<div class="notification-content"><span>%s</span>`+
			`<button class="notification-close" data-dismiss="%s">×</button></div></div>`,
		html.EscapeString(string(n.Severity)), id, html.EscapeString(n.Message), id,
	)
}
