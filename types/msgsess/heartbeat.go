package msgsess

import "fmt"

// Heartbeat keeps NAT bindings and the receiver's liveness tracking fresh.
type Heartbeat struct {
	From string
}

func (h *Heartbeat) Type() MessageType { return HeartbeatMessage }

func (h *Heartbeat) Sender() string { return h.From }

func (h *Heartbeat) appendPayload(b []byte) ([]byte, error) { return b, nil }

func (h *Heartbeat) Debug() string {
	return fmt.Sprintf("heartbeat from=%s", h.From)
}
