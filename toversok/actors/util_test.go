package actors

import (
	"net/netip"
	"time"
)

// Test constants
const assertEventuallyTick time.Duration = 1 * time.Millisecond
const assertEventuallyTimeout time.Duration = 1000 * assertEventuallyTick

// Test variables
var dummyAddr netip.Addr = netip.AddrFrom4([4]byte{192, 0, 2, 1})
var dummyAddrPort netip.AddrPort = netip.AddrPortFrom(dummyAddr, 4242)

var (
	aliceAP = netip.MustParseAddrPort("1.2.3.4:5000")
	bobAP   = netip.MustParseAddrPort("5.6.7.8:6000")
	carolAP = netip.MustParseAddrPort("9.9.9.9:7000")
	rvAP    = netip.MustParseAddrPort("203.0.113.1:9000")
	stunAP  = netip.MustParseAddrPort("203.0.113.2:3478")
)
