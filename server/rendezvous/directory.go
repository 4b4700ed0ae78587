package rendezvous

import (
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"golang.org/x/exp/maps"

	"github.com/edup2p/punchline/types/msgsess"
)

// Entry is a registrant of a group, as observed by the server.
type Entry struct {
	Group    string
	ID       string
	Endpoint netip.AddrPort
	LastSeen time.Time
}

type JoinResult struct {
	// Others is a snapshot of every other member of the group, sorted by id.
	Others []msgsess.Member

	// Replaced holds the previous endpoint when the id was registered from elsewhere, and got overwritten.
	Replaced gonull.Nullable[netip.AddrPort]

	// Changed is true when the entry is new, or its endpoint moved.
	Changed bool
}

// Directory maps group -> PeerId -> entry.
//
// It is not safe for concurrent use; the server loop owns it.
type Directory struct {
	groups map[string]map[string]*Entry
}

func NewDirectory() *Directory {
	return &Directory{groups: make(map[string]map[string]*Entry)}
}

// Join upserts id in group with the observed endpoint, and returns the other members of the group.
//
// A duplicate id is overwritten with the latest endpoint.
func (d *Directory) Join(group, id string, ep netip.AddrPort, now time.Time) JoinResult {
	g, ok := d.groups[group]
	if !ok {
		g = make(map[string]*Entry)
		d.groups[group] = g
	}

	var res JoinResult

	if e, ok := g[id]; ok {
		if e.Endpoint != ep {
			res.Replaced = gonull.NewNullable(e.Endpoint)
			res.Changed = true
			e.Endpoint = ep
		}
		e.LastSeen = now
	} else {
		g[id] = &Entry{Group: group, ID: id, Endpoint: ep, LastSeen: now}
		res.Changed = true
	}

	res.Others = othersIn(g, id)

	return res
}

// Refresh bumps LastSeen of every entry registered as id from ep, and returns how many it found.
func (d *Directory) Refresh(id string, ep netip.AddrPort, now time.Time) int {
	var n int

	for _, g := range d.groups {
		if e, ok := g[id]; ok && e.Endpoint == ep {
			e.LastSeen = now
			n++
		}
	}

	return n
}

// Members returns the other members of every group id is registered in from ep.
func (d *Directory) Members(id string, ep netip.AddrPort) []msgsess.Member {
	var members []msgsess.Member

	for _, name := range d.groupNames() {
		g := d.groups[name]
		if e, ok := g[id]; ok && e.Endpoint == ep {
			members = append(members, othersIn(g, id)...)
		}
	}

	return members
}

// Sweep removes every entry not seen within timeout, and groups left empty.
func (d *Directory) Sweep(now time.Time, timeout time.Duration) []Entry {
	var expired []Entry

	for name, g := range d.groups {
		for id, e := range g {
			if now.Sub(e.LastSeen) > timeout {
				expired = append(expired, *e)
				delete(g, id)
			}
		}

		if len(g) == 0 {
			delete(d.groups, name)
		}
	}

	slices.SortFunc(expired, func(a, b Entry) int {
		if c := strings.Compare(a.Group, b.Group); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	return expired
}

// Len returns the total amount of entries.
func (d *Directory) Len() int {
	var n int
	for _, g := range d.groups {
		n += len(g)
	}
	return n
}

func (d *Directory) Groups() int {
	return len(d.groups)
}

func (d *Directory) groupNames() []string {
	names := maps.Keys(d.groups)
	slices.Sort(names)
	return names
}

func othersIn(g map[string]*Entry, id string) []msgsess.Member {
	ids := maps.Keys(g)
	slices.Sort(ids)

	others := make([]msgsess.Member, 0, len(ids))
	for _, other := range ids {
		if other == id {
			continue
		}
		others = append(others, msgsess.Member{ID: other, Endpoint: g[other].Endpoint})
	}

	return others
}
