// Package events defines the lobby event types and the bus that carries them.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// EventAny subscribes to every event type.
	EventAny EventType = "*"

	// Connection events
	EventClientConnected    EventType = "client_connected"
	EventClientDisconnected EventType = "client_disconnected"
	EventBanEnforced        EventType = "ban_enforced"

	// Session events
	EventUserLoggedIn     EventType = "user_logged_in"
	EventLoginFailed      EventType = "login_failed"
	EventChannelJoined    EventType = "channel_joined"
	EventChannelLeft      EventType = "channel_left"
	EventChatMessage      EventType = "chat_message"
	EventUserJoinedServer EventType = "user_joined_server"
	EventCharacterCreated EventType = "character_created"

	// Game server directory events
	EventServerListed   EventType = "server_listed"
	EventServerUpdated  EventType = "server_updated"
	EventServerUnlisted EventType = "server_unlisted"

	// System events
	EventHeartbeat     EventType = "heartbeat"
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

// ClientPayload describes a connection or session.
type ClientPayload struct {
	ID     uint32 `json:"id"`
	Role   string `json:"role"`
	Name   string `json:"name,omitempty"`
	Remote string `json:"remote,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ServerPayload describes a listed game server.
type ServerPayload struct {
	ID             uint32 `json:"id"`
	Name           string `json:"name"`
	Address        string `json:"address"`
	CurrentPlayers uint16 `json:"current_players"`
	MaxPlayers     uint16 `json:"max_players"`
}

// ChatPayload describes a relayed chat line.
type ChatPayload struct {
	FromID  uint32 `json:"from_id"`
	From    string `json:"from"`
	ToID    uint32 `json:"to_id,omitempty"`
	To      string `json:"to,omitempty"`
	Channel int32  `json:"channel"`
	Text    string `json:"text"`
}

// JoinPayload describes a user entering a game server.
type JoinPayload struct {
	UserID     uint32 `json:"user_id"`
	User       string `json:"user"`
	ServerID   uint32 `json:"server_id"`
	ServerName string `json:"server_name"`
}

// BanPayload describes a refused connection or login.
type BanPayload struct {
	IP   string `json:"ip"`
	Kind string `json:"kind"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string      `json:"section"`
	Key     string      `json:"key"`
	Value   interface{} `json:"value"`
}
