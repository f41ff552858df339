// pkg/hashgraph/hashgraph.go
//
// Package hashgraph tracks applied changes' causal structure: the
// per-actor clock, the dependency/dependent index, the current set of
// heads, and the FIFO queue of changes that are not yet causally ready
// (spec §4.8). It is grounded on the teacher's pkg/mvcc/manager.go (a
// central coordinator holding maps keyed by id) and, for the
// heads/witness tracking shape, the DAG witness-cache example in the
// retrieval pack.
package hashgraph

import (
	"crdtdoc/pkg/change"
	"crdtdoc/pkg/container"
	"crdtdoc/pkg/crdterr"
	"crdtdoc/pkg/opid"
)

// Graph holds one document's applied-change bookkeeping.
type Graph struct {
	ChangesByIndex    []*change.Change
	RawByIndex        [][]byte // each change's framed encoding, parallel to ChangesByIndex
	ChangeIndexByHash map[container.Hash]int
	DependentsByHash  map[container.Hash][]container.Hash
	HashesByActor     map[string][]container.Hash
	Clock             map[string]uint64
	Heads             map[container.Hash]struct{}
	Queue             []queued

	// lazy is true after MarkLazy defers hash-indexed reconstruction;
	// it clears once ComputeHashGraph runs.
	lazy bool
}

type queued struct {
	chg  *change.Change
	hash container.Hash
	raw  []byte
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		ChangeIndexByHash: map[container.Hash]int{},
		DependentsByHash:  map[container.Hash][]container.Hash{},
		HashesByActor:     map[string][]container.Hash{},
		Clock:             map[string]uint64{},
		Heads:             map[container.Hash]struct{}{},
	}
}

// IsReady reports whether every dep of chg is already applied.
func (g *Graph) IsReady(chg *change.Change) bool {
	for _, dep := range chg.Deps {
		if _, ok := g.ChangeIndexByHash[dep]; !ok {
			return false
		}
	}
	return true
}

// Ingest admits chg (identified by its canonical hash) into the graph.
// If causally ready it is applied immediately and the queue is drained
// for any changes it unblocks; Ingest returns every change applied as
// a result, in application order, beginning with chg itself if it was
// ready. A not-yet-ready chg is queued silently (not an error) and
// Ingest returns an empty slice. Sequence numbers are checked when a
// change becomes ready, just before it is applied.
func (g *Graph) Ingest(chg *change.Change, hash container.Hash, raw []byte) ([]*change.Change, error) {
	if g.alreadyApplied(hash) {
		return nil, nil
	}
	if !g.IsReady(chg) {
		g.Queue = append(g.Queue, queued{chg: chg, hash: hash, raw: raw})
		return nil, nil
	}
	if err := g.checkSeq(chg, hash); err != nil {
		return nil, err
	}

	applied := []*change.Change{}
	if err := g.apply(chg, hash, raw); err != nil {
		return nil, err
	}
	applied = append(applied, chg)

	for {
		progressed := false
		remaining := g.Queue[:0:0]
		for _, q := range g.Queue {
			if g.IsReady(q.chg) {
				if err := g.checkSeq(q.chg, q.hash); err != nil {
					return nil, err
				}
				if err := g.apply(q.chg, q.hash, q.raw); err != nil {
					return nil, err
				}
				applied = append(applied, q.chg)
				progressed = true
			} else {
				remaining = append(remaining, q)
			}
		}
		g.Queue = remaining
		if !progressed {
			break
		}
	}

	return applied, nil
}

func (g *Graph) apply(chg *change.Change, hash container.Hash, raw []byte) error {
	index := len(g.ChangesByIndex)
	g.ChangesByIndex = append(g.ChangesByIndex, chg)
	g.RawByIndex = append(g.RawByIndex, raw)
	g.ChangeIndexByHash[hash] = index

	actorKey := chg.Actor.String()
	g.HashesByActor[actorKey] = append(g.HashesByActor[actorKey], hash)
	g.Clock[actorKey] = chg.Seq

	for _, dep := range chg.Deps {
		g.DependentsByHash[dep] = append(g.DependentsByHash[dep], hash)
		delete(g.Heads, dep)
	}
	g.Heads[hash] = struct{}{}
	return nil
}

// alreadyApplied reports whether hash is already recorded as applied,
// reconstructing a lazy graph first so a true duplicate resubmission
// (spec §8 "Idempotence") is recognized rather than falling through to
// checkSeq and re-applying into a DuplicateOpId error.
func (g *Graph) alreadyApplied(hash container.Hash) bool {
	if _, ok := g.ChangeIndexByHash[hash]; ok {
		return true
	}
	if g.lazy {
		_ = g.ComputeHashGraph()
		_, ok := g.ChangeIndexByHash[hash]
		return ok
	}
	return false
}

// checkSeq enforces per-actor strict monotonicity (spec §4.8): a gap
// raises SeqGap; reusing a seq already seen for this actor raises
// SeqReuse once the graph is fully (non-lazily) computed. While the
// graph is lazy, an apparent reuse first runs ComputeHashGraph, so the
// incoming hash is compared against every applied change's real hash.
func (g *Graph) checkSeq(chg *change.Change, hash container.Hash) error {
	actorKey := chg.Actor.String()
	current := g.Clock[actorKey]

	if chg.Seq <= current {
		if g.lazy {
			if err := g.ComputeHashGraph(); err != nil {
				return err
			}
		}
		for _, h := range g.HashesByActor[actorKey] {
			if h == hash {
				return nil
			}
		}
		return crdterr.New(crdterr.SeqReuse, chg.Actor.String())
	}
	if chg.Seq != current+1 {
		return crdterr.New(crdterr.SeqGap, chg.Actor.String())
	}
	return nil
}

// MarkLazy records that this graph's hash-indexed maps have not been
// reconstructed yet. docstore.Load does not call it: Load replays the
// change history through ApplyChanges, which fills those maps.
func (g *Graph) MarkLazy() { g.lazy = true }

// ComputeHashGraph re-encodes every change in index order to recover
// its canonical hash and fills in the hash-indexed maps, clearing the
// lazy flag (spec §4.8 "computeHashGraph").
func (g *Graph) ComputeHashGraph() error {
	g.ChangeIndexByHash = map[container.Hash]int{}
	g.DependentsByHash = map[container.Hash][]container.Hash{}
	g.HashesByActor = map[string][]container.Hash{}
	g.Heads = map[container.Hash]struct{}{}

	hashes := make([]container.Hash, len(g.ChangesByIndex))
	for i, chg := range g.ChangesByIndex {
		_, hash := chg.Encode()
		hashes[i] = hash
		g.ChangeIndexByHash[hash] = i
	}
	for i, chg := range g.ChangesByIndex {
		hash := hashes[i]
		actorKey := chg.Actor.String()
		g.HashesByActor[actorKey] = append(g.HashesByActor[actorKey], hash)
		for _, dep := range chg.Deps {
			g.DependentsByHash[dep] = append(g.DependentsByHash[dep], hash)
			delete(g.Heads, dep)
		}
		g.Heads[hash] = struct{}{}
	}
	g.lazy = false
	return nil
}

// Clone returns an independently mutable copy of g: every map and
// slice is a fresh copy so mutating the clone never perturbs g (the
// copy-on-write discipline pkg/docstore relies on for atomic batch
// application).
func (g *Graph) Clone() *Graph {
	clone := &Graph{
		ChangesByIndex:    append([]*change.Change(nil), g.ChangesByIndex...),
		RawByIndex:        append([][]byte(nil), g.RawByIndex...),
		ChangeIndexByHash: make(map[container.Hash]int, len(g.ChangeIndexByHash)),
		DependentsByHash:  make(map[container.Hash][]container.Hash, len(g.DependentsByHash)),
		HashesByActor:     make(map[string][]container.Hash, len(g.HashesByActor)),
		Clock:             make(map[string]uint64, len(g.Clock)),
		Heads:             make(map[container.Hash]struct{}, len(g.Heads)),
		Queue:             append([]queued(nil), g.Queue...),
		lazy:              g.lazy,
	}
	for k, v := range g.ChangeIndexByHash {
		clone.ChangeIndexByHash[k] = v
	}
	for k, v := range g.DependentsByHash {
		clone.DependentsByHash[k] = append([]container.Hash(nil), v...)
	}
	for k, v := range g.HashesByActor {
		clone.HashesByActor[k] = append([]container.Hash(nil), v...)
	}
	for k, v := range g.Clock {
		clone.Clock[k] = v
	}
	for k := range g.Heads {
		clone.Heads[k] = struct{}{}
	}
	return clone
}

// PreviousHash returns the most recently applied change hash for
// actor, used by the local-change path to augment deps with the
// author's own previous head (spec §4.9).
func (g *Graph) PreviousHash(actor opid.Actor) (container.Hash, bool) {
	hashes := g.HashesByActor[actor.String()]
	if len(hashes) == 0 {
		return container.Hash{}, false
	}
	return hashes[len(hashes)-1], true
}

// HeadsSorted returns the current heads as a slice, sorted ascending
// by raw hash bytes (spec §6.4 "sorted heads" save-file requirement).
func (g *Graph) HeadsSorted() []container.Hash {
	out := make([]container.Hash, 0, len(g.Heads))
	for h := range g.Heads {
		out = append(out, h)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && lessHash(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func lessHash(a, b container.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// MissingDeps reports, for the given frontier of known heads, which
// dependency hashes named directly in the deps of queued changes are
// still absent from the graph.
func (g *Graph) MissingDeps(knownHeads []container.Hash) []container.Hash {
	known := map[container.Hash]bool{}
	for _, h := range knownHeads {
		known[h] = true
	}
	seen := map[container.Hash]bool{}
	var missing []container.Hash
	for _, q := range g.Queue {
		for _, dep := range q.chg.Deps {
			if _, ok := g.ChangeIndexByHash[dep]; ok {
				continue
			}
			if known[dep] || seen[dep] {
				continue
			}
			seen[dep] = true
			missing = append(missing, dep)
		}
	}
	return missing
}

// ActorClock returns the highest applied sequence number for actor, or
// 0 if none have been applied.
func (g *Graph) ActorClock(actor opid.Actor) uint64 {
	return g.Clock[actor.String()]
}
