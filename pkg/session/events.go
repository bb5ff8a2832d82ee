package session

// EventKind is the kind of an event pushed to the host UI of a session.
type EventKind string

const (
	// EventKindNotification is a transient user-visible notification.
	EventKindNotification EventKind = "notification"
	// EventKindRefreshSlots asks an open slot picker to reload.
	EventKindRefreshSlots EventKind = "refresh_slots"
	// EventKindGameClosed reports that the active game was closed.
	EventKindGameClosed EventKind = "game_closed"
)

type NotificationLevel string

const (
	NotificationSuccess NotificationLevel = "success"
	NotificationError   NotificationLevel = "error"
)

// Event is delivered to every subscriber of a session.
type Event struct {
	Kind    EventKind         `json:"kind"`
	Level   NotificationLevel `json:"level,omitempty"`
	Message string            `json:"message,omitempty"`
}

// EventBufferSize is the default buffer of a subscriber channel.
// Events for a subscriber whose buffer is full are dropped.
const EventBufferSize = 32
