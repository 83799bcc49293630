package realtime

import (
	"testing"

	"github.com/google/uuid"

	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

func testHub(t *testing.T) *SSEHub {
	t.Helper()
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return NewSSEHub(log)
}

func TestBroadcastReachesSubscribedClient(t *testing.T) {
	hub := testHub(t)
	userID := uuid.New()
	client := hub.NewSSEClient(userID)
	hub.AddChannel(client, userID.String())

	hub.Broadcast(SSEMessage{Channel: userID.String(), Event: SSEEventJobCreated, Data: "hello"})

	select {
	case msg := <-client.Outbound:
		if msg.Event != SSEEventJobCreated {
			t.Fatalf("unexpected event: %s", msg.Event)
		}
	default:
		t.Fatal("expected a buffered message")
	}
}

func TestBroadcastSkipsOtherChannels(t *testing.T) {
	hub := testHub(t)
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, "channel-a")

	hub.Broadcast(SSEMessage{Channel: "channel-b", Event: SSEEventJobDone})

	select {
	case msg := <-client.Outbound:
		t.Fatalf("unexpected delivery: %+v", msg)
	default:
	}
}

func TestBroadcastFanOut(t *testing.T) {
	hub := testHub(t)
	userID := uuid.New()
	a := hub.NewSSEClient(userID)
	b := hub.NewSSEClient(userID)
	hub.AddChannel(a, userID.String())
	hub.AddChannel(b, userID.String())

	hub.Broadcast(SSEMessage{Channel: userID.String(), Event: SSEEventWalletUpdated})

	for _, c := range []*SSEClient{a, b} {
		select {
		case <-c.Outbound:
		default:
			t.Fatalf("client %s did not receive the broadcast", c.ID)
		}
	}
}

func TestRemoveClientStopsDelivery(t *testing.T) {
	hub := testHub(t)
	userID := uuid.New()
	client := hub.NewSSEClient(userID)
	hub.AddChannel(client, userID.String())
	hub.RemoveClient(client)

	hub.Broadcast(SSEMessage{Channel: userID.String(), Event: SSEEventJobProgress})

	select {
	case msg := <-client.Outbound:
		t.Fatalf("unexpected delivery after removal: %+v", msg)
	default:
	}
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	hub := testHub(t)
	userID := uuid.New()
	client := hub.NewSSEClient(userID)
	hub.AddChannel(client, userID.String())

	// Fill the outbound buffer and then one more; Broadcast must not block.
	for i := 0; i < cap(client.Outbound)+1; i++ {
		hub.Broadcast(SSEMessage{Channel: userID.String(), Event: SSEEventJobProgress})
	}

	if got := len(client.Outbound); got != cap(client.Outbound) {
		t.Fatalf("buffered %d messages, want %d", got, cap(client.Outbound))
	}
}

func TestBroadcastEmptyChannelIsNoop(t *testing.T) {
	hub := testHub(t)
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, "")

	hub.Broadcast(SSEMessage{Channel: "", Event: SSEEventJobDone})

	select {
	case msg := <-client.Outbound:
		t.Fatalf("unexpected delivery: %+v", msg)
	default:
	}
}
