package msgsess

import (
	"errors"
	"math/rand"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	aliceAP = netip.MustParseAddrPort("1.2.3.4:5000")
	bobAP   = netip.MustParseAddrPort("5.6.7.8:6000")
	carolAP = netip.MustParseAddrPort("[2001:db8::1]:7000")
)

func testMessages() []Message {
	return []Message{
		&Join{From: "alice", Group: "g"},
		&PeerList{From: "rendezvous", Peers: []Member{{ID: "bob", Endpoint: bobAP}, {ID: "carol", Endpoint: carolAP}}},
		&PeerList{From: "rendezvous", Peers: []Member{}},
		&MemberRequest{From: "alice"},
		&MemberResponse{From: "bob", Members: []Member{{ID: "carol", Endpoint: carolAP}}},
		&MemberResponse{From: "bob", Members: []Member{}},
		&Punch{From: "alice"},
		&PunchAck{From: "bob"},
		&Heartbeat{From: "carol"},
		&Chat{From: "alice", Text: "hello, bob"},
		&Chat{From: "alice", Text: ""},
		&Chat{From: "ällîce", Text: "🪄🧦"},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, m := range testMessages() {
		t.Run(m.Debug(), func(t *testing.T) {
			b, err := Encode(m)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(b), MaxDatagramSize)

			got, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, m, got)
		})
	}
}

func TestEncodeHeader(t *testing.T) {
	b, err := Encode(&Punch{From: "ab"})
	require.NoError(t, err)

	assert.Equal(t, []byte{Magic, 0x15, 0x00, 0x03, 0x02, 'a', 'b'}, b)
}

func TestDecodeTruncated(t *testing.T) {
	for _, m := range testMessages() {
		b, err := Encode(m)
		require.NoError(t, err)

		for i := 0; i < len(b); i++ {
			_, err := Decode(b[:i])

			var pErr *ProtocolError
			if assert.ErrorAs(t, err, &pErr, "prefix %d of %s", i, m.Debug()) {
				assert.Equal(t, Malformed, pErr.Kind)
			}
		}
	}
}

func TestDecodeTrailingBytes(t *testing.T) {
	b, err := Encode(&Heartbeat{From: "alice"})
	require.NoError(t, err)

	// fix up the length field, so only the trailing byte is wrong
	b = append(b, 0x00)
	b[3]++

	_, err = Decode(b)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeUnknownType(t *testing.T) {
	b, err := Encode(&Heartbeat{From: "alice"})
	require.NoError(t, err)

	b[1] = byte(v1)<<4 | 0x0E

	_, err = Decode(b)
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.NotErrorIs(t, err, ErrMalformed)
}

func TestDecodeBadHeader(t *testing.T) {
	good, err := Encode(&Punch{From: "alice"})
	require.NoError(t, err)

	badMagic := append([]byte(nil), good...)
	badMagic[0] = 0x00

	badVersion := append([]byte(nil), good...)
	badVersion[1] = 0x25

	badLength := append([]byte(nil), good...)
	badLength[3] = 0xFF

	emptySender := []byte{Magic, 0x15, 0x00, 0x01, 0x00}

	badUTF8 := []byte{Magic, 0x15, 0x00, 0x02, 0x01, 0xFF}

	for name, b := range map[string][]byte{
		"magic":        badMagic,
		"version":      badVersion,
		"length":       badLength,
		"empty sender": emptySender,
		"utf8":         badUTF8,
	} {
		_, err := Decode(b)
		assert.ErrorIs(t, err, ErrMalformed, name)
	}
}

func TestDecodeRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for range 10000 {
		b := make([]byte, rng.Intn(64))
		rng.Read(b)

		// make a fair amount of them look like the real thing
		if len(b) > headerLen && rng.Intn(2) == 0 {
			b[0] = Magic
			b[1] = byte(v1)<<4 | byte(rng.Intn(9))
			b[2], b[3] = 0, byte(len(b)-headerLen)
		}

		m, err := Decode(b)
		if err != nil {
			var pErr *ProtocolError
			assert.ErrorAs(t, err, &pErr)
			assert.Nil(t, m)
		}
	}
}

func FuzzDecode(f *testing.F) {
	for _, m := range testMessages() {
		b, err := Encode(m)
		if err != nil {
			f.Fatal(err)
		}
		f.Add(b)
	}
	f.Add([]byte{})
	f.Add([]byte{Magic})

	f.Fuzz(func(t *testing.T, b []byte) {
		m, err := Decode(b)
		if err != nil {
			var pErr *ProtocolError
			if !errors.As(err, &pErr) {
				t.Fatalf("decode returned a non-protocol error: %v", err)
			}
			return
		}

		// whatever decodes must encode to the exact same bytes
		again, err := Encode(m)
		if err != nil {
			t.Fatalf("decoded %s does not encode: %v", m.Debug(), err)
		}
		assert.Equal(t, b, again)
	})
}

func TestEncodeTooLarge(t *testing.T) {
	_, err := Encode(&Chat{From: "alice", Text: strings.Repeat("a", MaxDatagramSize)})
	assert.ErrorIs(t, err, ErrTooLarge)

	// the largest text that fits
	fits := MaxDatagramSize - headerLen - 1 - len("alice") - 2
	_, err = Encode(&Chat{From: "alice", Text: strings.Repeat("a", fits)})
	assert.NoError(t, err)

	_, err = Encode(&Chat{From: "alice", Text: strings.Repeat("a", fits+1)})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestEncodeInvalidFields(t *testing.T) {
	for _, m := range []Message{
		&Punch{From: ""},
		&Punch{From: strings.Repeat("x", MaxIDLen+1)},
		&Join{From: "alice", Group: ""},
		&Chat{From: "alice", Text: "\xff"},
		&PeerList{From: "rendezvous", Peers: []Member{{ID: "bob"}}},
		&PeerList{From: "rendezvous", Peers: []Member{{ID: "bob", Endpoint: netip.MustParseAddrPort("[::ffff:1.2.3.4]:1")}}},
		&MemberResponse{From: "bob", Members: []Member{{ID: "", Endpoint: aliceAP}}},
	} {
		_, err := Encode(m)
		assert.ErrorIs(t, err, ErrInvalidField, m.Debug())
	}
}

func TestPackMembers(t *testing.T) {
	var members []Member
	for i := range 300 {
		members = append(members, Member{
			ID:       strings.Repeat("p", 40) + string(rune('a'+i%26)),
			Endpoint: netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, byte(i >> 8), byte(i)}), 4000),
		})
	}

	chunks := PackMembers("rendezvous", members)
	require.Greater(t, len(chunks), 1)

	var total int
	for _, c := range chunks {
		b, err := Encode(&PeerList{From: "rendezvous", Peers: c})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(b), MaxDatagramSize)
		total += len(c)
	}
	assert.Equal(t, len(members), total)

	empty := PackMembers("rendezvous", nil)
	assert.Len(t, empty, 1)
	assert.Empty(t, empty[0])
}
