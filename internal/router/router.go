// Package router dispatches inbound chat messages to follow-list and channel
// mutations. It is deliberately thin: parsing happens in commands.go, state
// lives in the store, and the poll lifecycle belongs to the tracker.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"genwatch/internal/eventbus"
	"genwatch/internal/generals"
	"genwatch/internal/state"
	"genwatch/internal/storage"
	"genwatch/internal/transport"
	"genwatch/pkg/logx"
)

// EventCommand is published on the bus for every handled command, carrying a
// storage.AuditEntry as Data.
const EventCommand = "router.command"

const replyTimeout = 10 * time.Second

// Tasks is the poll-lifecycle surface the router drives. *tracker.Tracker
// satisfies it.
type Tasks interface {
	StartPlayer(name string) bool
	StopPlayer(name string)
}

// Validator checks a follow target against the upstream service.
// *generals.Client satisfies it.
type Validator interface {
	ValidateUsername(ctx context.Context, username string) (bool, error)
	LatestReplays(ctx context.Context, username string, count int) ([]generals.Replay, error)
}

// Replier sends user-facing responses back to the originating chat.
type Replier interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error
}

type Router struct {
	st        *state.Store
	tasks     Tasks
	validator Validator
	reply     Replier
	bus       eventbus.Bus
	log       logx.Logger
}

func New(st *state.Store, tasks Tasks, validator Validator, reply Replier, bus eventbus.Bus, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{st: st, tasks: tasks, validator: validator, reply: reply, bus: bus, log: log}
}

// Run consumes the transport update feed until ctx is cancelled or the
// channel closes. A panicking handler is logged and never kills the loop.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Message == nil {
				continue
			}
			r.dispatch(ctx, u.Message)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, msg *transport.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("command handler panicked",
				logx.Int64("chat", msg.ChatID),
				logx.Any("panic", rec))
		}
	}()

	cmd, ok := ParseCommand(msg.Text)
	if !ok {
		return
	}

	// A chat that has not opted in only gets the bootstrap path.
	if !r.st.ChannelEnabled(msg.ChatID) {
		if _, isEnable := cmd.(EnableCmd); !isEnable {
			return
		}
	}

	var err error
	target := ""
	switch c := cmd.(type) {
	case FollowCmd:
		target = c.Target
		err = r.handleFollow(ctx, msg, c.Target)
	case UnfollowCmd:
		target = c.Target
		err = r.handleUnfollow(ctx, msg, c.Target)
	case ListCmd:
		err = r.handleList(ctx, msg)
	case EnableCmd:
		err = r.handleToggle(ctx, msg, cmd, true)
	case DisableCmd:
		err = r.handleToggle(ctx, msg, cmd, false)
	case HelpCmd:
		r.send(ctx, msg.ChatID, helpText)
	}

	if err != nil {
		r.log.Warn("command failed",
			logx.String("cmd", cmd.name()),
			logx.Int64("chat", msg.ChatID),
			logx.Err(err))
	}
	r.audit(msg, cmd.name(), target, err)
}

func (r *Router) handleFollow(ctx context.Context, msg *transport.Message, name string) error {
	if name == "" {
		r.send(ctx, msg.ChatID, "Usage: follow <username>")
		return nil
	}

	// A known record, enabled or not, skips upstream validation: it
	// already passed the check when first followed.
	if _, known := r.st.Player(name); !known {
		exists, err := r.validator.ValidateUsername(ctx, name)
		if err != nil {
			r.send(ctx, msg.ChatID, "Could not reach the game service, try again later.")
			return fmt.Errorf("validate %q: %w", name, err)
		}
		if !exists {
			r.send(ctx, msg.ChatID, fmt.Sprintf("Player %q not found.", name))
			return nil
		}
		replays, err := r.validator.LatestReplays(ctx, name, 1)
		if err != nil {
			r.send(ctx, msg.ChatID, "Could not reach the game service, try again later.")
			return fmt.Errorf("latest replays %q: %w", name, err)
		}
		if len(replays) == 0 {
			r.send(ctx, msg.ChatID, fmt.Sprintf("Player %q has no finished matches yet.", name))
			return nil
		}
	}

	created := r.st.Follow(name)
	r.tasks.StartPlayer(name)
	if created {
		r.send(ctx, msg.ChatID, fmt.Sprintf("Now following %s.", name))
	} else {
		r.send(ctx, msg.ChatID, fmt.Sprintf("Already following %s.", name))
	}
	return nil
}

func (r *Router) handleUnfollow(ctx context.Context, msg *transport.Message, name string) error {
	if name == "" {
		r.send(ctx, msg.ChatID, "Usage: unfollow <username>")
		return nil
	}
	if !r.st.Unfollow(name) {
		r.send(ctx, msg.ChatID, fmt.Sprintf("Not following %s.", name))
		return nil
	}
	r.tasks.StopPlayer(name)
	r.send(ctx, msg.ChatID, fmt.Sprintf("Stopped following %s.", name))
	return nil
}

func (r *Router) handleList(ctx context.Context, msg *transport.Message) error {
	players := r.st.EnabledPlayers()
	if len(players) == 0 {
		r.send(ctx, msg.ChatID, "Not following anyone.")
		return nil
	}
	names := make([]string, 0, len(players))
	for _, p := range players {
		names = append(names, p.Name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "Following %d player(s):\n", len(names))
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte('\n')
	}
	r.send(ctx, msg.ChatID, strings.TrimRight(b.String(), "\n"))
	return nil
}

// handleToggle flips the invoking chat's enabled flag. Unauthorized senders
// are ignored without a reply so the operator check stays unobservable.
func (r *Router) handleToggle(ctx context.Context, msg *transport.Message, cmd Command, enabled bool) error {
	if !r.authorized(msg) {
		r.log.Debug("unauthorized toggle ignored",
			logx.String("cmd", cmd.name()),
			logx.Int64("chat", msg.ChatID),
			logx.Int64("from", msg.FromID))
		return nil
	}
	r.st.SetChannelEnabled(msg.ChatID, enabled)
	if enabled {
		r.send(ctx, msg.ChatID, "Notifications enabled for this chat.")
	} else {
		r.send(ctx, msg.ChatID, "Notifications disabled for this chat.")
	}
	return nil
}

func (r *Router) authorized(msg *transport.Message) bool {
	return msg.FromRole.Privileged() || r.st.IsOperator(msg.FromID)
}

func (r *Router) send(ctx context.Context, chatID int64, text string) {
	sctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	if err := r.reply.SendText(sctx, transport.ChatTarget{ChatID: chatID}, text, nil); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func (r *Router) audit(msg *transport.Message, cmd, target string, err error) {
	if r.bus == nil {
		return
	}
	e := storage.AuditEntry{
		At:            time.Now(),
		ActorID:       msg.FromID,
		ActorUsername: msg.FromUsername,
		ChatID:        msg.ChatID,
		Command:       cmd,
		Target:        target,
		OK:            err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	r.bus.Publish(eventbus.Event{Type: EventCommand, Data: e})
}
