// pkg/docstore/docstore.go
//
// Package docstore exposes the public Doc surface (spec §6.5): init,
// clone, applyChanges/applyLocalChange, save/load, and the read-only
// accessors (getPatch, getHeads, getChanges, getChangeByHash,
// getMissingDeps). It is grounded on the teacher's pkg/cowbtree
// (copy-on-write discipline: stage into new slices/maps, swap only on
// full success) for the exception-safety shape spec §5 requires, and
// on pkg/mvcc/manager.go for the "one struct gathers every index a
// document needs" layout.
package docstore

import (
	"crdtdoc/internal/mmapfile"
	"crdtdoc/internal/telemetry"
	"crdtdoc/internal/varint"
	"crdtdoc/pkg/block"
	"crdtdoc/pkg/change"
	"crdtdoc/pkg/columnar"
	"crdtdoc/pkg/container"
	"crdtdoc/pkg/crdterr"
	"crdtdoc/pkg/hashgraph"
	"crdtdoc/pkg/merge"
	"crdtdoc/pkg/obscache"
	"crdtdoc/pkg/opid"
	"crdtdoc/pkg/patch"
)

// BinaryChange is a change in its framed, content-addressed wire form
// (the output of change.(*Change).Encode).
type BinaryChange = []byte

// ActorTable interns actors document-wide into a dense numeric index,
// the form the Bloom filter formula (pkg/bloom) and the save-file
// actor section need (spec §4.5, §6.3).
type ActorTable struct {
	byHex map[string]uint64
	list  []opid.Actor
}

// NewActorTable creates an empty actor table.
func NewActorTable() *ActorTable {
	return &ActorTable{byHex: map[string]uint64{}}
}

// Intern assigns (or returns the existing) dense index for a.
func (t *ActorTable) Intern(a opid.Actor) uint64 {
	if n, ok := t.byHex[a.String()]; ok {
		return n
	}
	n := uint64(len(t.list))
	t.list = append(t.list, a)
	t.byHex[a.String()] = n
	return n
}

// Num implements block.ActorNum, interning a on first use.
func (t *ActorTable) Num(a opid.Actor) uint64 { return t.Intern(a) }

// List returns the actors in interning (index) order.
func (t *ActorTable) List() []opid.Actor { return t.list }

// Clone returns an independently mutable copy.
func (t *ActorTable) Clone() *ActorTable {
	clone := &ActorTable{byHex: make(map[string]uint64, len(t.byHex)), list: append([]opid.Actor(nil), t.list...)}
	for k, v := range t.byHex {
		clone.byHex[k] = v
	}
	return clone
}

// Doc is the document value threaded through every public operation.
// It is treated as immutable by convention: every operation either
// returns a new Doc or, on error, the untouched input (spec §5
// "Ownership").
type Doc struct {
	Ops     []block.DocOp
	ObjMeta merge.ObjectMetaTree
	Graph   *hashgraph.Graph
	Actors  *ActorTable
	Log     *telemetry.Logger
}

// Init creates an empty document. Logging is silent until WithLogger
// attaches a real sink.
func Init() Doc {
	return Doc{
		ObjMeta: merge.ObjectMetaTree{},
		Graph:   hashgraph.New(),
		Actors:  NewActorTable(),
		Log:     telemetry.Noop(),
	}
}

// WithLogger returns d with its logger replaced by log.
func WithLogger(d Doc, log *telemetry.Logger) Doc {
	d.Log = log
	return d
}

// Clone returns an independently owned document sharing immutable
// substructure with d (spec §5 "clone").
func Clone(d Doc) Doc {
	return Doc{
		Ops:     d.Ops, // shared backing array; merge.Apply never mutates in place
		ObjMeta: cloneObjMeta(d.ObjMeta),
		Graph:   d.Graph.Clone(),
		Actors:  d.Actors.Clone(),
		Log:     d.Log,
	}
}

func cloneObjMeta(m merge.ObjectMetaTree) merge.ObjectMetaTree {
	out := make(merge.ObjectMetaTree, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func internChangeActors(t *ActorTable, chg *change.Change) {
	t.Intern(chg.Actor)
	for _, a := range chg.ActorTable {
		t.Intern(a)
	}
}

// ApplyChanges decodes and ingests a batch of binary changes, applying
// every one that becomes causally ready (draining the queue
// transitively) and returns the resulting document plus the combined
// patch. On any error the returned Doc is d, untouched (spec §5).
func ApplyChanges(d Doc, changes []BinaryChange) (Doc, *patch.Patch, error) {
	working := Clone(d)
	combined := patch.NewPatch()

	for _, raw := range changes {
		chg, hash, err := change.Decode(raw)
		if err != nil {
			return d, nil, err
		}
		internChangeActors(working.Actors, chg)

		ready, err := working.Graph.Ingest(chg, hash, raw)
		if err != nil {
			working.Log.Warn("ingest rejected", "actor", chg.Actor.String(), "seq", chg.Seq, "error", err.Error())
			return d, nil, err
		}
		if len(ready) == 0 {
			working.Log.Info("change queued, not yet causally ready", "actor", chg.Actor.String(), "seq", chg.Seq)
		}
		for _, r := range ready {
			ops, p, err := merge.Apply(working.Ops, working.ObjMeta, r)
			if err != nil {
				working.Log.Warn("merge apply failed", "actor", r.Actor.String(), "seq", r.Seq, "error", err.Error())
				return d, nil, err
			}
			working.Ops = ops
			combined = patch.Merge(combined, p)
		}
	}

	return working, combined, nil
}

// ApplyLocalChange encodes and applies a change authored locally
// (spec §4.9): it augments deps with the author's previous head
// (when seq > 1), encodes to obtain the canonical hash/bytes, and
// applies it exactly as ApplyChanges would a remote change.
func ApplyLocalChange(d Doc, chg *change.Change) (Doc, *patch.Patch, BinaryChange, error) {
	currentSeq := d.Graph.ActorClock(chg.Actor)
	if chg.Seq <= currentSeq {
		return d, nil, nil, crdterr.New(crdterr.AlreadyApplied, chg.Actor.String())
	}

	deps := append([]container.Hash(nil), chg.Deps...)
	if chg.Seq > 1 {
		if prev, ok := d.Graph.PreviousHash(chg.Actor); ok {
			deps = append(deps, prev)
		}
	}
	local := *chg
	local.Deps = deps

	raw, _ := local.Encode()
	newDoc, p, err := ApplyChanges(d, []BinaryChange{raw})
	if err != nil {
		return d, nil, nil, err
	}
	return newDoc, p, raw, nil
}

// GetPatch reconstructs the document's full visible state as one
// patch, as if every applied change had been observed at once.
//
// Simplification (recorded in DESIGN.md): a list/text element with
// concurrent, mutually-non-overwriting updates (an element-level
// conflict, analogous to a map key conflict) is resolved here to
// whichever update's doc-op comes last in storage order, rather than
// exposing a full conflict set the way map/table props do — the patch
// model (pkg/patch) only carries a conflict set for string keys.
func GetPatch(d Doc) *patch.Patch {
	p := patch.NewPatch()

	type elemState struct {
		present bool
		value   any
	}
	order := map[string][]opid.ID{}  // object key -> elem ids in list order
	objByKey := map[string]opid.Obj{}
	state := map[string]*elemState{} // "obj|elemID" -> current resolution
	stateKey := func(obj opid.Obj, elem opid.ID) string { return obj.ID.String() + "|" + elem.String() }

	for _, op := range d.Ops {
		switch {
		case op.Key.Kind == opid.KeyString:
			if op.Visible() {
				p.PutProp(op.Obj, op.Key.Str, op.ID, valueForPatch(op.Value))
			}
		case op.Insert:
			objKey := op.Obj.ID.String()
			objByKey[objKey] = op.Obj
			order[objKey] = append(order[objKey], op.ID)
			state[stateKey(op.Obj, op.ID)] = &elemState{present: op.Visible(), value: valueForPatch(op.Value)}
		case op.Key.Kind == opid.KeyElem:
			if s, ok := state[stateKey(op.Obj, op.Key.Elem)]; ok {
				s.present = op.Visible()
				if op.Visible() {
					s.value = valueForPatch(op.Value)
				}
			}
		}
	}

	for objKey, elems := range order {
		obj := objByKey[objKey]
		index := 0
		for _, elemID := range elems {
			s := state[objKey+"|"+elemID.String()]
			if s == nil || !s.present {
				continue
			}
			p.AppendEdit(obj, patch.Edit{Kind: patch.EditInsert, Index: index, ElemID: elemID, OpID: elemID, Value: s.value})
			index++
		}
	}
	return p
}

// valueForPatch converts a wire Value into the plain Go value a
// frontend-facing patch carries (mirrors pkg/merge's unexported
// helper of the same purpose).
func valueForPatch(v columnar.Value) any {
	switch v.Tag {
	case columnar.TagNull:
		return nil
	case columnar.TagFalse:
		return false
	case columnar.TagTrue:
		return true
	case columnar.TagUint:
		return v.Uint
	case columnar.TagInt, columnar.TagCounter, columnar.TagTimestamp:
		return v.Int
	case columnar.TagFloat:
		return v.Float
	case columnar.TagString:
		return v.Str
	case columnar.TagBytes:
		return v.Bytes
	default:
		return v.Raw
	}
}

// GetHeads returns the document's current heads, sorted.
func GetHeads(d Doc) []container.Hash { return d.Graph.HeadsSorted() }

// GetChanges returns every applied change the caller does not already
// have, identified by the hashes it already holds.
func GetChanges(d Doc, haveDeps []container.Hash) []BinaryChange {
	have := map[container.Hash]bool{}
	for _, h := range haveDeps {
		have[h] = true
	}
	var out []BinaryChange
	for hash, idx := range d.Graph.ChangeIndexByHash {
		if have[hash] {
			continue
		}
		out = append(out, d.Graph.RawByIndex[idx])
	}
	return out
}

// GetChangeByHash returns the framed bytes of the change with the
// given hash, if known.
func GetChangeByHash(d Doc, hash container.Hash) (BinaryChange, bool) {
	idx, ok := d.Graph.ChangeIndexByHash[hash]
	if !ok {
		return nil, false
	}
	return d.Graph.RawByIndex[idx], true
}

// GetMissingDeps reports dependency hashes referenced by queued
// (not-yet-ready) changes that are still absent from the document.
func GetMissingDeps(d Doc, heads []container.Hash) []container.Hash {
	return d.Graph.MissingDeps(heads)
}

// appendLenPrefixed appends a uvarint length followed by b.
func appendLenPrefixed(buf []byte, b []byte) []byte {
	buf = varint.AppendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func readLenPrefixed(buf []byte) (string, int, error) {
	n, m, err := varint.Uvarint(buf)
	if err != nil {
		return "", 0, crdterr.New(crdterr.MalformedData, "length prefix")
	}
	if uint64(len(buf)-m) < n {
		return "", 0, crdterr.New(crdterr.MalformedData, "truncated length-prefixed field")
	}
	return string(buf[m : m+int(n)]), m + int(n), nil
}

// Save serializes d's applied-change history and current heads into a
// single container.ChunkDocument frame (spec §6.1, §6.3).
//
// Simplification (recorded in DESIGN.md): rather than also persist a
// redundant columnar snapshot of the merged doc-op stream, Save keeps
// one source of truth — the ordered list of applied, content-addressed
// changes plus the sorted head set — and Load reconstructs Ops/ObjMeta
// by replaying that history through the same ApplyChanges path a
// network peer would use.
func Save(d Doc) []byte {
	var body []byte

	actors := d.Actors.List()
	body = varint.AppendUvarint(body, uint64(len(actors)))
	for _, a := range actors {
		body = appendLenPrefixed(body, []byte(a.String()))
	}

	heads := d.Graph.HeadsSorted()
	body = varint.AppendUvarint(body, uint64(len(heads)))
	for _, h := range heads {
		body = append(body, h[:]...)
	}

	body = varint.AppendUvarint(body, uint64(len(d.Graph.RawByIndex)))
	for _, raw := range d.Graph.RawByIndex {
		body = append(body, raw...)
	}

	encoded, _ := container.Encode(container.ChunkDocument, body)
	d.Log.Info("document saved", "bytes", len(encoded), "changes", len(d.Graph.RawByIndex), "heads", len(heads))
	return encoded
}

// SaveBlocks is an alternate, block-columnar export of d's current
// merged doc-op stream (spec §4.5/§6.3's block layout): the ops are
// split into bounded-size blocks via block.Split and each block is
// columnar-encoded via block.EncodeCols. Unlike Save, which persists
// the raw change history for replay, SaveBlocks persists the
// already-merged state directly — a read-only snapshot export that
// does not need to re-run merge on load.
func SaveBlocks(d Doc) [][]byte {
	actors := d.Actors.List()
	actorIdx := make(map[string]uint64, len(actors))
	for i, a := range actors {
		actorIdx[a.String()] = uint64(i)
	}

	top := block.NewBlock(d.Ops, d.Actors)
	blocks := block.Split(top, d.Actors)

	out := make([][]byte, len(blocks))
	for i, b := range blocks {
		out[i] = block.EncodeCols(b.Ops, actorIdx)
	}
	d.Log.Info("blocks saved", "numBlocks", len(out), "ops", len(d.Ops))
	return out
}

// LoadBlocksOps decodes a block-columnar snapshot produced by
// SaveBlocks back into a flattened doc-op stream, using cache to
// avoid re-decoding a block whose bytes have not changed since the
// last call (spec §4.5's rationale for per-block decode caching).
func LoadBlocksOps(cache *obscache.Cache, blocks [][]byte, actors []opid.Actor) ([]block.DocOp, error) {
	var all []block.DocOp
	for _, buf := range blocks {
		ops, err := cache.Decode(buf, actors)
		if err != nil {
			return nil, crdterr.Wrap(crdterr.MalformedData, "block decode", err)
		}
		all = append(all, ops...)
	}
	return all, nil
}

// Load reverses Save: it decodes the document frame, replays its
// change history through ApplyChanges (in original application
// order, so causal readiness and per-actor sequencing are re-verified
// rather than merely trusted), and returns the reconstructed Doc.
func Load(buf []byte) (Doc, error) {
	typ, body, _, err := container.Decode(buf)
	if err != nil {
		return Doc{}, crdterr.Wrap(crdterr.MalformedData, "container decode", err)
	}
	if typ != container.ChunkDocument {
		return Doc{}, crdterr.New(crdterr.MalformedData, "not a document chunk")
	}

	pos := 0
	numActors, n, err := varint.Uvarint(body[pos:])
	if err != nil {
		return Doc{}, crdterr.New(crdterr.MalformedData, "numActors")
	}
	pos += n

	d := Init()
	for i := uint64(0); i < numActors; i++ {
		hexStr, m, err := readLenPrefixed(body[pos:])
		if err != nil {
			return Doc{}, err
		}
		pos += m
		a, aerr := opid.NewActor(hexStr)
		if aerr != nil {
			return Doc{}, crdterr.Wrap(crdterr.MalformedData, "actor table entry", aerr)
		}
		d.Actors.Intern(a)
	}

	numHeads, n, err := varint.Uvarint(body[pos:])
	if err != nil {
		return Doc{}, crdterr.New(crdterr.MalformedData, "numHeads")
	}
	pos += n
	for i := uint64(0); i < numHeads; i++ {
		if len(body[pos:]) < 32 {
			return Doc{}, crdterr.New(crdterr.MalformedData, "truncated head hash")
		}
		pos += 32 // heads are re-derived from the replayed history below
	}

	numChanges, n, err := varint.Uvarint(body[pos:])
	if err != nil {
		return Doc{}, crdterr.New(crdterr.MalformedData, "numChanges")
	}
	pos += n

	raws := make([]BinaryChange, 0, numChanges)
	for i := uint64(0); i < numChanges; i++ {
		_, _, _, rest, err := container.DecodePrefix(body[pos:])
		if err != nil {
			return Doc{}, crdterr.Wrap(crdterr.MalformedData, "change frame", err)
		}
		consumed := len(body[pos:]) - len(rest)
		raws = append(raws, append([]byte(nil), body[pos:pos+consumed]...))
		pos += consumed
	}

	d, _, err = ApplyChanges(d, raws)
	if err != nil {
		return Doc{}, err
	}
	d.Log.Info("document loaded", "changes", len(raws), "ops", len(d.Ops))
	return d, nil
}

// LoadMmap reverses Save like Load, but reads path via a read-only
// memory mapping (internal/mmapfile) instead of os.ReadFile, so the
// container/varint parsing in Load works directly off the mapped
// pages rather than an extra heap-allocated copy of the whole file —
// the same zero-copy-container-read rationale behind the teacher's
// pager.mmap path, applied to a one-shot load instead of a live pager.
func LoadMmap(path string) (Doc, error) {
	var d Doc
	called := false
	err := mmapfile.With(path, func(buf []byte) error {
		called = true
		var loadErr error
		d, loadErr = Load(buf)
		return loadErr
	})
	if err != nil {
		if called {
			return Doc{}, err // Load's own (already-typed) error
		}
		return Doc{}, crdterr.Wrap(crdterr.MalformedData, "mmap open", err)
	}
	return d, nil
}
