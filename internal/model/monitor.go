package model

// HubStats is the monitor API response: a point-in-time snapshot of the
// process-local realtime state.
type HubStats struct {
	Status      string          `json:"status"`
	Connections ConnectionStats `json:"connections"`
	Rooms       []RoomInfo      `json:"rooms"`
	Typing      map[string]int  `json:"typing"` // conversationId -> typing identities
}

// ConnectionStats holds connection-related counters.
type ConnectionStats struct {
	TotalConnected int            `json:"totalConnected"`
	OnlineUsers    int            `json:"onlineUsers"`
	StatusCount    map[string]int `json:"statusCount"`
}

// RoomInfo describes one conversation room and its joined connections.
type RoomInfo struct {
	ConversationID string   `json:"conversationId"`
	TotalMembers   int      `json:"totalMembers"`
	MemberIDs      []string `json:"memberIds"`
}
