package hub

import (
	"github.com/derek-dv/errand-backend/internal/model"
)

// MonitorService snapshots hub state for the monitoring API.
type MonitorService struct {
	hub *Hub
}

func NewMonitorService(hub *Hub) *MonitorService {
	return &MonitorService{hub: hub}
}

// Stats collects a point-in-time view of connections, rooms and typing
// state. Counts are taken per shard without a global lock, so the snapshot
// is approximate under churn.
func (m *MonitorService) Stats() model.HubStats {
	stats := model.HubStats{
		Status: "healthy",
		Connections: model.ConnectionStats{
			TotalConnected: m.hub.ClientCount(),
			OnlineUsers:    m.hub.presence.OnlineCount(),
			StatusCount:    m.hub.presence.StatusCounts(),
		},
		Typing: m.hub.typing.Snapshot(),
	}

	for _, shard := range m.hub.shards {
		shard.RLock()
		for chatID, room := range shard.rooms {
			info := model.RoomInfo{
				ConversationID: chatID,
				TotalMembers:   len(room),
			}
			for _, c := range room {
				if id := c.UserID(); id != "" {
					info.MemberIDs = append(info.MemberIDs, id)
				}
			}
			stats.Rooms = append(stats.Rooms, info)
		}
		shard.RUnlock()
	}

	return stats
}
