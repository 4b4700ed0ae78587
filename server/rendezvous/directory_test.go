package rendezvous

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/edup2p/punchline/types/msgsess"
)

var (
	aliceAP = netip.MustParseAddrPort("1.2.3.4:5000")
	bobAP   = netip.MustParseAddrPort("5.6.7.8:6000")
	carolAP = netip.MustParseAddrPort("9.9.9.9:7000")
	t0      = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func TestDirectoryJoinSnapshot(t *testing.T) {
	d := NewDirectory()

	res := d.Join("g", "alice", aliceAP, t0)
	assert.Empty(t, res.Others)
	assert.True(t, res.Changed)
	assert.False(t, res.Replaced.Valid)

	res = d.Join("g", "bob", bobAP, t0)
	assert.Equal(t, []msgsess.Member{{ID: "alice", Endpoint: aliceAP}}, res.Others)

	res = d.Join("g", "alice", aliceAP, t0.Add(time.Second))
	assert.Equal(t, []msgsess.Member{{ID: "bob", Endpoint: bobAP}}, res.Others)
	assert.False(t, res.Changed, "rejoining from the same endpoint changes nothing")

	// groups partition the directory
	res = d.Join("h", "carol", carolAP, t0)
	assert.Empty(t, res.Others)

	assert.Equal(t, 3, d.Len())
	assert.Equal(t, 2, d.Groups())
}

func TestDirectoryDuplicateOverwrites(t *testing.T) {
	d := NewDirectory()

	d.Join("g", "alice", aliceAP, t0)
	d.Join("g", "bob", bobAP, t0)

	res := d.Join("g", "alice", carolAP, t0.Add(time.Second))
	if assert.True(t, res.Replaced.Valid) {
		assert.Equal(t, aliceAP, res.Replaced.Val)
	}
	assert.True(t, res.Changed)

	res = d.Join("g", "bob", bobAP, t0.Add(time.Second))
	assert.Equal(t, []msgsess.Member{{ID: "alice", Endpoint: carolAP}}, res.Others)
	assert.Equal(t, 2, d.Len())
}

func TestDirectoryRefreshAndSweep(t *testing.T) {
	d := NewDirectory()

	d.Join("g", "alice", aliceAP, t0)
	d.Join("g", "bob", bobAP, t0)
	d.Join("h", "carol", carolAP, t0)

	assert.Equal(t, 1, d.Refresh("alice", aliceAP, t0.Add(20*time.Second)))
	assert.Zero(t, d.Refresh("alice", bobAP, t0.Add(20*time.Second)), "a heartbeat from another endpoint refreshes nothing")

	expired := d.Sweep(t0.Add(31*time.Second), 30*time.Second)

	if assert.Len(t, expired, 2) {
		assert.Equal(t, "bob", expired[0].ID)
		assert.Equal(t, "carol", expired[1].ID)
	}

	assert.Equal(t, 1, d.Len())
	assert.Equal(t, 1, d.Groups(), "empty groups are removed")

	assert.Empty(t, d.Sweep(t0.Add(31*time.Second), 30*time.Second))
}

func TestDirectoryMembers(t *testing.T) {
	d := NewDirectory()

	d.Join("g", "alice", aliceAP, t0)
	d.Join("g", "bob", bobAP, t0)
	d.Join("g", "carol", carolAP, t0)

	assert.Equal(t, []msgsess.Member{
		{ID: "bob", Endpoint: bobAP},
		{ID: "carol", Endpoint: carolAP},
	}, d.Members("alice", aliceAP))

	assert.Empty(t, d.Members("alice", carolAP), "only the registered endpoint may ask")
}
