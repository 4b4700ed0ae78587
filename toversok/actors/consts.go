package actors

import "time"

const (
	SockRecvReadTimeout = 5 * time.Second

	// Inbox
	PeerManInboxChLen = 16

	// Frame
	SockRecvFrameChanBuffer = 256
	PeerManFrameChLen       = 4 * 16

	DirectManWriteChLen = 4 * 16

	// Streams towards the UI
	ChatChLen   = 64
	NoticeChLen = 64

	// Misc

	// PManTickerInterval must stay well below DefaultPunchInterval, it is the resolution of all peer timers.
	PManTickerInterval = time.Millisecond * 100

	StunRetryInterval = time.Second * 2
	StunMaxAttempts   = 5

	// RejoinInterval must stay below the rendezvous entry timeout, a Join re-registers us after a server restart.
	RejoinInterval        = time.Second * 15
	// RendezvousLostTimeout is how long we go without a PeerList before falling back to join retries.
	RendezvousLostTimeout = RejoinInterval * 3
)

const (
	DefaultPunchInterval     = time.Millisecond * 400
	DefaultMaxPunchAttempts  = 10
	DefaultHeartbeatInterval = time.Second * 5
	DefaultStaleTimeout      = time.Second * 30
	DefaultJoinRetryInterval = time.Second * 2
)
