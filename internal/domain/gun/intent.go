package gun

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"nerfbot-server-go/internal/platform/errors"
)

// State is a step of the fire intent lifecycle.
type State string

const (
	StateReceived      State = "received"
	StateBoundsChecked State = "bounds_checked"
	StateAuthorized    State = "authorized"
	StateDispatched    State = "dispatched"
	StateSettled       State = "settled"
	StateRejected      State = "rejected"
	StateFaulted       State = "faulted"
)

// Terminal reports whether s ends the lifecycle.
func (s State) Terminal() bool {
	return s == StateSettled || s == StateRejected || s == StateFaulted
}

// FireIntent is one parsed fire request delivered by the chat layer.
type FireIntent struct {
	ID          string `json:"id"`
	IdentityID  string `json:"identity_id"`
	DisplayName string `json:"display_name"`
	Tier        int    `json:"tier"`
	IsOwner     bool   `json:"is_owner"`
	IsFollower  bool   `json:"is_follower"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	Shots       int    `json:"shots"`
}

// Name is the identity shown in chat replies.
func (i FireIntent) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.IdentityID
}

func (i FireIntent) withID() FireIntent {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return i
}

// Remaining is the post-settlement balance, or unlimited for owners.
type Remaining struct {
	Unlimited bool
	Credits   int64
}

func Unlimited() Remaining { return Remaining{Unlimited: true} }

func Credits(n int64) Remaining { return Remaining{Credits: n} }

func (r Remaining) String() string {
	if r.Unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(r.Credits, 10)
}

// MarshalJSON encodes owners as "unlimited" and everyone else as a number.
func (r Remaining) MarshalJSON() ([]byte, error) {
	if r.Unlimited {
		return []byte(`"unlimited"`), nil
	}
	return []byte(strconv.FormatInt(r.Credits, 10)), nil
}

// FireResult is the outcome returned to the chat layer.
type FireResult struct {
	IntentID  string    `json:"intent_id"`
	Status    State     `json:"status"`
	Fired     int       `json:"fired"`
	Remaining Remaining `json:"remaining"`
	// Message is the chat reply for the channel.
	Message string `json:"message"`
	// Whisper is the private reply for the requester, if any.
	Whisper string `json:"whisper,omitempty"`
	Err     error  `json:"-"`
}

const fireUsage = "Invalid fire command. Usage: !fire x y z"

// ParseFireCommand parses the chat form "!fire x y z".
func ParseFireCommand(text string) (x, y, shots int, err error) {
	fields := strings.Fields(text)
	if len(fields) != 4 || !strings.EqualFold(fields[0], "!fire") {
		return 0, 0, 0, errors.New(errors.KindValidation, "gun.parse", fireUsage)
	}
	values := make([]int, 3)
	for i, raw := range fields[1:] {
		v, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return 0, 0, 0, errors.Wrap(errors.KindValidation, "gun.parse", fireUsage, convErr)
		}
		values[i] = v
	}
	if values[2] < 0 {
		return 0, 0, 0, errors.New(errors.KindValidation, "gun.parse", fireUsage)
	}
	return values[0], values[1], values[2], nil
}
