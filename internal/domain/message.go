package domain

import "time"

// InboundMessage is one unit of external input, already past the
// channel's allow-list check. Synthetic messages (subagent reports,
// heartbeat, scheduler) are addressed to a real channel/chat and carry
// the SenderID of their producer.
type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Media     []string          // file paths or URIs, in attachment order
	Metadata  map[string]string // adapter- or supervisor-supplied tags
	Timestamp time.Time
}

// SessionKey identifies the conversation this message belongs to.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage is one unit of output awaiting delivery. The channel
// manager resolves Channel to a live adapter or drops the message.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	Media    []string
	Metadata map[string]string
}
