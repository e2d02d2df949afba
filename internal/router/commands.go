package router

import "strings"

// Command is a parsed inbound instruction. The set is closed; dispatch is by
// type switch rather than a string-keyed table so each variant carries its
// own argument contract.
type Command interface {
	name() string
}

type FollowCmd struct{ Target string }
type UnfollowCmd struct{ Target string }
type ListCmd struct{}
type EnableCmd struct{}
type DisableCmd struct{}
type HelpCmd struct{}

func (FollowCmd) name() string   { return "follow" }
func (UnfollowCmd) name() string { return "unfollow" }
func (ListCmd) name() string     { return "list" }
func (EnableCmd) name() string   { return "enable" }
func (DisableCmd) name() string  { return "disable" }
func (HelpCmd) name() string     { return "help" }

// ParseCommand turns raw message text into a Command. A leading slash and a
// "@botname" suffix on the keyword are tolerated so the same text works in
// groups and direct chats. Unknown keywords and plain chatter return false.
func ParseCommand(text string) (Command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, false
	}

	keyword := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(keyword, '@'); i >= 0 {
		keyword = keyword[:i]
	}
	keyword = strings.ToLower(keyword)

	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch keyword {
	case "follow":
		return FollowCmd{Target: arg}, true
	case "unfollow":
		return UnfollowCmd{Target: arg}, true
	case "list":
		return ListCmd{}, true
	case "enable":
		return EnableCmd{}, true
	case "disable":
		return DisableCmd{}, true
	case "help", "start":
		return HelpCmd{}, true
	default:
		return nil, false
	}
}

const helpText = `Commands:
  follow <username>    start watching a player's matches
  unfollow <username>  stop watching a player
  list                 show watched players
  enable               receive notifications in this chat (admins)
  disable              stop notifications in this chat (admins)
  help                 this message`
