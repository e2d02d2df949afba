package generals

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Mode is a game mode label used throughout the bot. Custom games carry no
// rating, so they have no rank key.
type Mode string

const (
	ModeFFA    Mode = "FFA"
	Mode2v2    Mode = "2v2"
	Mode1v1    Mode = "1v1"
	ModeCustom Mode = "custom"
)

// RankedModes lists the modes with rating tracking, in display order.
var RankedModes = []Mode{ModeFFA, Mode2v2, Mode1v1}

// ModeFromReplayType maps the replay "type" field to a mode. Unknown types
// are treated as custom (no rating tracking).
func ModeFromReplayType(t string) Mode {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "classic":
		return ModeFFA
	case "2v2":
		return Mode2v2
	case "1v1":
		return Mode1v1
	default:
		return ModeCustom
	}
}

// RankKey returns the starsAndRanks API key for a mode, or "" for modes
// without rating tracking.
func (m Mode) RankKey() string {
	switch m {
	case ModeFFA:
		return "ffa"
	case Mode2v2:
		return "2v2"
	case Mode1v1:
		return "duel"
	default:
		return ""
	}
}

// Ranked reports whether the mode carries rating and rank.
func (m Mode) Ranked() bool { return m.RankKey() != "" }

// FlexFloat decodes JSON numbers, numeric strings, and null.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
		if err != nil {
			return err
		}
		*f = FlexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}

// FlexInt decodes JSON numbers, numeric strings, and null.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	var ff FlexFloat
	if err := ff.UnmarshalJSON(b); err != nil {
		return err
	}
	*f = FlexInt(ff)
	return nil
}
