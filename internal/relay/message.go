package relay

// DefaultChannel is the broker channel every instance publishes to and
// subscribes on.
const DefaultChannel = "chat"

// SendMessageRoute is the application route clients use to post a message.
const SendMessageRoute = "chat.sendMessage"

// PublicDestination is the destination every relayed message is delivered on.
const PublicDestination = "/topic/public"

// ChatMessage is a chat line in transit. It is never persisted.
type ChatMessage struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Frame is the outbound envelope written to connected clients.
type Frame struct {
	Destination string      `json:"destination"`
	Payload     ChatMessage `json:"payload"`
}
