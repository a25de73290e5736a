package eventbus

import "time"

// 事件类型定义
const (
	// 开火意图终态
	EventGunSettled  = "gun:settled"
	EventGunRejected = "gun:rejected"
	EventGunFaulted  = "gun:faulted"

	// 看门狗
	EventWatchdogRecenter = "watchdog:recenter"
)

// Topics lists every topic persisted by the audit handler.
var Topics = []string{EventGunSettled, EventGunRejected, EventGunFaulted, EventWatchdogRecenter}

// FireEventData describes a fire intent that reached a terminal state.
type FireEventData struct {
	IntentID    string    `json:"intent_id"`
	IdentityID  string    `json:"identity_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Status      string    `json:"status"`
	X           int       `json:"x"`
	Y           int       `json:"y"`
	Requested   int       `json:"requested"`
	Fired       int       `json:"fired"`
	Cost        int64     `json:"cost"`
	Remaining   string    `json:"remaining,omitempty"`
	Message     string    `json:"message,omitempty"`
	Error       string    `json:"error,omitempty"`
	Phase       string    `json:"phase,omitempty"`
	At          time.Time `json:"at"`
}

// RecenterEventData describes one watchdog recenter attempt.
type RecenterEventData struct {
	X     int       `json:"x"`
	Y     int       `json:"y"`
	OK    bool      `json:"ok"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}
