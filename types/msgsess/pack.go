package msgsess

import "github.com/edup2p/punchline/types/bin"

// PackMembers splits members into chunks that each encode within MaxDatagramSize
// when sent in a PeerList or MemberResponse from sender.
//
// An empty list yields a single empty chunk, so that the receiver still gets an answer.
func PackMembers(sender string, members []Member) [][]Member {
	if len(members) == 0 {
		return [][]Member{members}
	}

	// header + sender + member count
	overhead := headerLen + 1 + len(sender) + 1

	var chunks [][]Member
	start, size := 0, overhead

	for i, m := range members {
		mSize := 1 + len(m.ID) + bin.AddrPortLen

		if i > start && (size+mSize > MaxDatagramSize || i-start == MaxMembers) {
			chunks = append(chunks, members[start:i])
			start, size = i, overhead
		}

		size += mSize
	}

	return append(chunks, members[start:])
}
