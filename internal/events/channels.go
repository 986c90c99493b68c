package events

import "fmt"

// Real-time channel names (Redis pub/sub and hub channels).
const (
	BroadcastChannel = "channel:broadcast"
	UserChannelGlob  = "channel:user:*:notifications"
)

func UserChannel(userID int64) string {
	return fmt.Sprintf("channel:user:%d:notifications", userID)
}

// ChannelsFor returns the channels a user's real-time connection listens on.
func ChannelsFor(userID int64) []string {
	return []string{UserChannel(userID), BroadcastChannel}
}
