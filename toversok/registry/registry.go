// Package registry keeps the client's view of its peers: who they are, where they were last seen from,
// and how far hole punching towards them has progressed.
//
// A Registry is not safe for concurrent use; it is owned by the PeerManager goroutine.
package registry

import (
	"log/slog"
	"net/netip"
	"slices"
	"strings"
	"time"

	"golang.org/x/exp/maps"

	"github.com/edup2p/punchline/types"
	"github.com/edup2p/punchline/types/msgsess"
)

type State int

// States are ordered by rank; a merge adopts the incoming record only when its state ranks higher.
const (
	Stale State = iota
	Discovered
	Punching
	Established
)

func (s State) String() string {
	switch s {
	case Stale:
		return "stale"
	case Discovered:
		return "discovered"
	case Punching:
		return "punching"
	case Established:
		return "established"
	default:
		return "unknown"
	}
}

type Record struct {
	ID       string
	Endpoint netip.AddrPort
	State    State
	LastSeen time.Time

	PunchAttempts int
}

func (r Record) Info() types.PeerInfo {
	return types.PeerInfo{
		ID:            r.ID,
		Endpoint:      r.Endpoint,
		State:         r.State.String(),
		LastSeen:      r.LastSeen,
		PunchAttempts: r.PunchAttempts,
	}
}

type Registry struct {
	records map[string]*Record
}

func New() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

func (r *Registry) Len() int {
	return len(r.records)
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (Record, bool) {
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Upsert merges rec into the registry by its ID.
//
// The freshest LastSeen is kept. State, endpoint and punch attempts are only adopted when rec's state ranks
// higher than the known one, so an Established record is never regressed by a merge.
func (r *Registry) Upsert(rec Record) {
	rec.Endpoint = types.NormaliseAddrPort(rec.Endpoint)

	cur, ok := r.records[rec.ID]
	if !ok {
		r.records[rec.ID] = &rec
		return
	}

	if rec.LastSeen.After(cur.LastSeen) {
		cur.LastSeen = rec.LastSeen
	}

	if rec.State > cur.State {
		cur.State = rec.State
		cur.Endpoint = rec.Endpoint
		cur.PunchAttempts = rec.PunchAttempts
	}
}

// Touch records inbound traffic from id, observed from ep.
//
// Unknown peers are inserted as Discovered, a known peer adopts the observed endpoint.
// It returns the updated record.
func (r *Registry) Touch(id string, ep netip.AddrPort, now time.Time) Record {
	ep = types.NormaliseAddrPort(ep)

	rec, ok := r.records[id]
	if !ok {
		rec = &Record{ID: id, Endpoint: ep, State: Discovered}
		r.records[id] = rec
	} else if rec.Endpoint != ep {
		slog.Info("peer endpoint changed", "peer", id, "from", rec.Endpoint, "to", ep)
		rec.Endpoint = ep
	}

	if now.After(rec.LastSeen) {
		rec.LastSeen = now
	}

	return *rec
}

// SetState forces the state of a known peer, as decided by its state machine.
func (r *Registry) SetState(id string, s State) bool {
	rec, ok := r.records[id]
	if !ok {
		return false
	}
	rec.State = s
	return true
}

// AddPunchAttempt increments and returns the amount of punches sent to id.
func (r *Registry) AddPunchAttempt(id string) int {
	rec, ok := r.records[id]
	if !ok {
		return 0
	}
	rec.PunchAttempts++
	return rec.PunchAttempts
}

// List returns copies of all records, sorted by ID.
func (r *Registry) List() []Record {
	return r.collect(func(*Record) bool { return true })
}

// InState returns copies of all records in one of the given states, sorted by ID.
func (r *Registry) InState(states ...State) []Record {
	return r.collect(func(rec *Record) bool {
		return slices.Contains(states, rec.State)
	})
}

func (r *Registry) collect(keep func(*Record) bool) []Record {
	ids := maps.Keys(r.records)
	slices.Sort(ids)

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		if rec := r.records[id]; keep(rec) {
			out = append(out, *rec)
		}
	}
	return out
}

// MembersFor answers a MemberRequest: all Established and Punching peers, except the requester itself.
func (r *Registry) MembersFor(requester string) []msgsess.Member {
	var members []msgsess.Member

	for _, rec := range r.InState(Established, Punching) {
		if rec.ID == requester {
			continue
		}
		members = append(members, msgsess.Member{ID: rec.ID, Endpoint: rec.Endpoint})
	}

	return members
}

// Merge takes in gossiped members (from a PeerList or MemberResponse).
//
// Members that are unknown, or only known as Stale, are upserted as Discovered; their IDs are returned so that
// the caller can start punching them. Our own ID and invalid entries are ignored.
// Merging the same list again returns nothing.
func (r *Registry) Merge(self string, members []msgsess.Member) []string {
	var fresh []string

	for _, m := range members {
		if m.ID == self || strings.TrimSpace(m.ID) == "" || !m.Endpoint.IsValid() {
			continue
		}

		if cur, ok := r.records[m.ID]; ok && cur.State != Stale {
			continue
		}

		r.Upsert(Record{ID: m.ID, Endpoint: m.Endpoint, State: Discovered})
		fresh = append(fresh, m.ID)
	}

	return fresh
}
