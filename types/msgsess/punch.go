package msgsess

import "fmt"

// Punch opens the sender's NAT binding towards the receiver.
type Punch struct {
	From string
}

func (p *Punch) Type() MessageType { return PunchMessage }

func (p *Punch) Sender() string { return p.From }

func (p *Punch) appendPayload(b []byte) ([]byte, error) { return b, nil }

func (p *Punch) Debug() string {
	return fmt.Sprintf("punch from=%s", p.From)
}

// PunchAck is the immediate reply to a Punch.
type PunchAck struct {
	From string
}

func (p *PunchAck) Type() MessageType { return PunchAckMessage }

func (p *PunchAck) Sender() string { return p.From }

func (p *PunchAck) appendPayload(b []byte) ([]byte, error) { return b, nil }

func (p *PunchAck) Debug() string {
	return fmt.Sprintf("punchack from=%s", p.From)
}
