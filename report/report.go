// Package report projects the router's live state into the read-only
// snapshots the app layer and the index client consume: per-friend
// balances (no per-currency totals are computed) and a log of mutations since the last
// snapshot (spec.md §4.7). Grounded on channeldb/graph.go's read-model
// projection of raw gossip into a queryable graph, and on
// discovery/validation.go's signature-checked mutation pattern, applied
// here to report mutations instead of gossip announcements.
package report

import (
	"sync"

	"github.com/creditmesh/meshnode/meshtypes"
)

// MutationKind tags one entry in the report's mutation log.
type MutationKind uint8

const (
	MutationFriendAdded MutationKind = iota
	MutationFriendRemoved
	MutationCurrencyOpened
	MutationBalanceUpdated
	MutationRelayPortAssigned
)

// Mutation is one change applied to the report since it was opened.
type Mutation struct {
	Kind     MutationKind
	Friend   meshtypes.PublicKey
	Currency meshtypes.Currency
	Balance  meshtypes.Int128
	Port     uint16
}

// FriendReport is the report's view of one open friend.
type FriendReport struct {
	PublicKey   meshtypes.PublicKey
	Balances    map[meshtypes.Currency]meshtypes.Int128
	RelayPort   uint16
}

// Report is the node's aggregate, mutation-tracked view of its friends and
// balances. Every mutating method appends to the log so subscribers (the
// meshrpc streaming socket) can replay exactly what changed rather than
// re-sending a full snapshot each time.
type Report struct {
	mu       sync.Mutex
	friends  map[meshtypes.PublicKey]*FriendReport
	log      []Mutation
	maxLog   int
	totalLog int
}

// New creates an empty report. maxLog bounds the retained mutation log;
// once exceeded, the oldest entries are dropped and a subscriber that
// fell that far behind must request a fresh full snapshot instead.
func New(maxLog int) *Report {
	return &Report{
		friends: make(map[meshtypes.PublicKey]*FriendReport),
		maxLog:  maxLog,
	}
}

func (r *Report) append(m Mutation) {
	r.log = append(r.log, m)
	r.totalLog++
	if len(r.log) > r.maxLog {
		r.log = r.log[len(r.log)-r.maxLog:]
	}
}

// AddFriend registers a newly opened friend.
func (r *Report) AddFriend(pk meshtypes.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.friends[pk]; ok {
		return
	}
	r.friends[pk] = &FriendReport{PublicKey: pk, Balances: make(map[meshtypes.Currency]meshtypes.Int128)}
	r.append(Mutation{Kind: MutationFriendAdded, Friend: pk})
}

// RemoveFriend drops a friend from the report.
func (r *Report) RemoveFriend(pk meshtypes.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.friends[pk]; !ok {
		return
	}
	delete(r.friends, pk)
	r.append(Mutation{Kind: MutationFriendRemoved, Friend: pk})
}

// OpenCurrency records a newly opened currency for a friend.
func (r *Report) OpenCurrency(pk meshtypes.PublicKey, currency meshtypes.Currency) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fr, ok := r.friends[pk]
	if !ok {
		return
	}
	if _, ok := fr.Balances[currency]; ok {
		return
	}
	fr.Balances[currency] = meshtypes.Int128{}
	r.append(Mutation{Kind: MutationCurrencyOpened, Friend: pk, Currency: currency})
}

// UpdateBalance records a new balance for a friend's currency.
func (r *Report) UpdateBalance(pk meshtypes.PublicKey, currency meshtypes.Currency, balance meshtypes.Int128) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fr, ok := r.friends[pk]
	if !ok {
		return
	}
	if existing, ok := fr.Balances[currency]; ok && existing == balance {
		return
	}
	fr.Balances[currency] = balance
	r.append(Mutation{Kind: MutationBalanceUpdated, Friend: pk, Currency: currency, Balance: balance})
}

// AssignRelayPort records the deterministic relay port assigned to a
// friend (SPEC_FULL.md §10 Open Question #2).
func (r *Report) AssignRelayPort(pk meshtypes.PublicKey, port uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fr, ok := r.friends[pk]
	if !ok {
		return
	}
	fr.RelayPort = port
	r.append(Mutation{Kind: MutationRelayPortAssigned, Friend: pk, Port: port})
}

// Snapshot returns a deep copy of the current state, safe to hand to a
// consumer without it observing concurrent mutation.
func (r *Report) Snapshot() map[meshtypes.PublicKey]FriendReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[meshtypes.PublicKey]FriendReport, len(r.friends))
	for pk, fr := range r.friends {
		balances := make(map[meshtypes.Currency]meshtypes.Int128, len(fr.Balances))
		for c, b := range fr.Balances {
			balances[c] = b
		}
		out[pk] = FriendReport{PublicKey: pk, Balances: balances, RelayPort: fr.RelayPort}
	}
	return out
}

// MutationsSince returns the mutations appended after index idx in the
// internal log, along with the new index to pass on the next call. If idx
// is too old (the log has since been truncated), ok is false and the
// caller must fall back to Snapshot.
func (r *Report) MutationsSince(idx int) (mutations []Mutation, next int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	oldestRetained := r.totalLog - len(r.log)
	if idx < oldestRetained {
		return nil, r.totalLog, false
	}
	start := idx - oldestRetained
	out := make([]Mutation, len(r.log)-start)
	copy(out, r.log[start:])
	return out, r.totalLog, true
}
