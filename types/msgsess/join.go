package msgsess

import "fmt"

// Join registers the sender in a group at the rendezvous server, which answers with a PeerList.
type Join struct {
	From  string
	Group string
}

func (j *Join) Type() MessageType { return JoinMessage }

func (j *Join) Sender() string { return j.From }

func (j *Join) appendPayload(b []byte) ([]byte, error) {
	if err := CheckID("group", j.Group); err != nil {
		return nil, err
	}
	return appendString8(b, j.Group), nil
}

func (j *Join) Debug() string {
	return fmt.Sprintf("join from=%s group=%s", j.From, j.Group)
}
