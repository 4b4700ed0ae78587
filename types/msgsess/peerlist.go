package msgsess

import "fmt"

// PeerList is the rendezvous server's snapshot of the other members of the joined group.
type PeerList struct {
	From  string
	Peers []Member
}

func (p *PeerList) Type() MessageType { return PeerListMessage }

func (p *PeerList) Sender() string { return p.From }

func (p *PeerList) appendPayload(b []byte) ([]byte, error) {
	return appendMembers(b, p.Peers)
}

func (p *PeerList) Debug() string {
	return fmt.Sprintf("peerlist from=%s peers=%v", p.From, p.Peers)
}
