// Package transport declares the chat-platform boundary: inbound command
// updates and outbound message delivery. The engine consumes these interfaces
// only; the Telegram implementation lives in transport/telegram.
package transport

import "context"

// Role is the sender's standing in the chat the message came from.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleMember  Role = "member"
	RoleUnknown Role = "unknown"
)

// Privileged reports whether the role alone grants operator commands.
func (r Role) Privileged() bool { return r == RoleOwner || r == RoleAdmin }

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	FromRole     Role
	Text         string
	IsGroup      bool
}

// Update is one inbound transport event. Only plain messages are consumed;
// the wrapper exists so additional kinds can be added without changing the
// dispatch channel type.
type Update struct {
	Message *Message
}

type ChatTarget struct {
	ChatID int64
}

type SendOptions struct {
	DisablePreview bool
}

// Adapter is the minimal platform surface the engine needs: a long-running
// inbound update feed plus point-to-point text delivery.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}
