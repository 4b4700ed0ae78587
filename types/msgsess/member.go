package msgsess

import "fmt"

// MemberRequest asks a peer for the peers it knows about.
type MemberRequest struct {
	From string
}

func (m *MemberRequest) Type() MessageType { return MemberRequestMessage }

func (m *MemberRequest) Sender() string { return m.From }

func (m *MemberRequest) appendPayload(b []byte) ([]byte, error) { return b, nil }

func (m *MemberRequest) Debug() string {
	return fmt.Sprintf("memberrequest from=%s", m.From)
}

// MemberResponse answers a MemberRequest with the peers the sender knows about.
type MemberResponse struct {
	From    string
	Members []Member
}

func (m *MemberResponse) Type() MessageType { return MemberResponseMessage }

func (m *MemberResponse) Sender() string { return m.From }

func (m *MemberResponse) appendPayload(b []byte) ([]byte, error) {
	return appendMembers(b, m.Members)
}

func (m *MemberResponse) Debug() string {
	return fmt.Sprintf("memberresponse from=%s members=%v", m.From, m.Members)
}
