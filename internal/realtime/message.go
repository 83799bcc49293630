package realtime

type SSEEvent string

const (
	SSEEventJobCreated    SSEEvent = "JobCreated"
	SSEEventJobProgress   SSEEvent = "JobProgress"
	SSEEventJobDone       SSEEvent = "JobDone"
	SSEEventJobFailed     SSEEvent = "JobFailed"
	SSEEventWalletUpdated SSEEvent = "WalletUpdated"
)

// SSEMessage is addressed to a channel, conventionally the owning user's id,
// so every connected client of that user receives it.
type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	Data    any      `json:"data,omitempty"`
}
