// pkg/block/block.go
//
// Package block implements the document-op storage layer (spec §4.5,
// §4.6): an ordered sequence of blocks, each holding at most B
// document ops plus cached metadata (last object/key touched, visible
// list-element bookkeeping, and a Bloom filter over the elem-ids it
// contains) so the merge engine's seek can skip whole blocks without
// decoding them.
//
// Each block keeps its ops as a plain decoded slice rather than a
// live columnar cursor — the same split the teacher draws between
// pkg/pager (bytes on disk) and pkg/btree (decoded nodes in memory):
// the column codec is reserved for the on-disk form, exercised by
// EncodeCols/DecodeCols at save/load time, while the merge engine
// operates on ordinary Go structs the rest of the time.
package block

import (
	"sort"

	"crdtdoc/internal/varint"
	"crdtdoc/pkg/bloom"
	"crdtdoc/pkg/change"
	"crdtdoc/pkg/columnar"
	"crdtdoc/pkg/crdterr"
	"crdtdoc/pkg/opid"
	"crdtdoc/pkg/schema"
)

// B is the target block capacity (spec §4.5).
const B = 600

// splitFillFactor is the fraction of B each split part targets
// (spec §4.5's "ceil(numOps / (0.8*B))" rule).
const splitFillFactor = 0.8

// DocOp is a document op: the durable, mutable-only-by-succ-append
// form an op takes once merged into the store (spec §3 "Document
// op"). The merge engine adds each inc delta into Value.Int of the
// counter-typed set op (a simplification documented in DESIGN.md:
// the running counter total is carried on the op itself rather than
// recomputed from succ each time it's read); CounterValue is not
// updated by it.
type DocOp struct {
	ID           opid.ID
	Obj          opid.Obj
	Key          opid.Key
	Insert       bool
	Action       change.Action
	Value        columnar.Value
	Succ         []opid.ID
	CounterValue int64
	// CounterLive is maintained by the merge engine: true as long as
	// every succ applied to this counter op has been an inc (never a
	// del or an overwriting set). Meaningless for non-counter ops.
	CounterLive bool
}

// Visible reports whether op is part of the materialized document
// (spec §3 "Document op"): ordinary ops are visible iff they have no
// succ; counters are a special case, visible iff every succ seen so
// far was an inc.
func (op *DocOp) Visible() bool {
	if len(op.Succ) == 0 {
		return true
	}
	return op.Action == change.ActionSet && op.Value.Tag == columnar.TagCounter && op.CounterLive
}

// Meta is the cached per-block summary consulted by seek (spec §4.5).
type Meta struct {
	NumOps       int
	LastObject   opid.Obj
	LastKey      opid.Key
	NumVisible   int
	FirstVisible opid.ID
	LastVisible  opid.ID
	Bloom        *bloom.Filter
}

// Block holds up to B document ops for one contiguous span of the
// document-op stream, plus derived metadata.
type Block struct {
	Ops  []DocOp
	Meta Meta
}

// ActorNum maps an opid.Actor to a small document-wide integer, the
// numeric "actor" the Bloom filter formula operates over (spec §4.5
// gives the formula in terms of numbers, not hex strings).
type ActorNum interface {
	Num(a opid.Actor) uint64
}

// NewBlock builds a block from ops, computing its metadata via a
// single left-to-right scan (spec §4.5).
func NewBlock(ops []DocOp, actors ActorNum) *Block {
	b := &Block{Ops: append([]DocOp(nil), ops...)}
	b.Recompute(actors)
	return b
}

// Recompute rescans the block's ops and rebuilds its cached metadata;
// called whenever a block is rewritten (spec "Lifecycle").
func (b *Block) Recompute(actors ActorNum) {
	m := Meta{NumOps: len(b.Ops), Bloom: bloom.New()}
	for i := range b.Ops {
		op := &b.Ops[i]
		if m.LastObject.Less(op.Obj) || i == 0 {
			m.LastObject = op.Obj
			m.LastKey = op.Key
		} else if op.Obj.Equal(m.LastObject) && m.LastKey.Less(op.Key) {
			m.LastKey = op.Key
		}
		if op.Key.Kind == opid.KeyElem {
			m.Bloom.Add(actors.Num(op.Key.Elem.Actor), op.Key.Elem.Counter)
		}
		if op.Obj.Equal(m.LastObject) && op.Visible() && op.Insert {
			m.NumVisible++
			if m.FirstVisible.IsRoot() {
				m.FirstVisible = op.ID
			}
			m.LastVisible = op.ID
		}
	}
	b.Meta = m
}

// Split divides a block into ceil(numOps/(0.8*B)) equal row-copy
// parts, per spec §4.5. Blocks are never merged back together.
func Split(b *Block, actors ActorNum) []*Block {
	n := len(b.Ops)
	if n == 0 {
		return []*Block{b}
	}
	parts := int((float64(n) / (splitFillFactor * B)) + 0.999999)
	if parts < 1 {
		parts = 1
	}
	size := (n + parts - 1) / parts

	var out []*Block
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, NewBlock(b.Ops[start:end], actors))
	}
	return out
}

// Store is an ordered block sequence. Clone yields a new Store
// sharing the unchanged block pointers (copy-on-write), per the
// teacher's cowbtree path-copy discipline. The document itself
// (docstore.Doc) keeps its ops in a flat slice, not in a Store.
type Store struct {
	Blocks []*Block
}

// NewStore creates an empty block store.
func NewStore() *Store { return &Store{} }

// Clone returns a shallow copy of the store: a new block slice
// sharing the same *Block pointers, safe to mutate independently as
// long as individual blocks are replaced rather than edited in place.
func (s *Store) Clone() *Store {
	return &Store{Blocks: append([]*Block(nil), s.Blocks...)}
}

// TotalOps returns the number of document ops across all blocks.
func (s *Store) TotalOps() int {
	n := 0
	for _, b := range s.Blocks {
		n += len(b.Ops)
	}
	return n
}

// AllOps flattens every block's ops into one slice, in document-op
// order.
func (s *Store) AllOps() []DocOp {
	out := make([]DocOp, 0, s.TotalOps())
	for _, b := range s.Blocks {
		out = append(out, b.Ops...)
	}
	return out
}

// EncodeCols serializes every op across the whole store into the
// document-op column family (schema.DocOpColumnOrder), for the
// "opsCols" section of a saved document (spec §6.3).
func EncodeCols(ops []DocOp, actorIdx map[string]uint64) []byte {
	objActor := columnar.NewUintEncoder()
	objCtr := columnar.NewUintEncoder()
	keyActor := columnar.NewUintEncoder()
	keyCtr := columnar.NewDeltaEncoder()
	keyStr := columnar.NewStringEncoder()
	idActor := columnar.NewUintEncoder()
	idCtr := columnar.NewDeltaEncoder()
	insert := columnar.NewBooleanEncoder()
	action := columnar.NewUintEncoder()
	val := columnar.NewValueEncoder()
	succNum := columnar.NewUintEncoder()
	succActor := columnar.NewUintEncoder()
	succCtr := columnar.NewDeltaEncoder()

	for _, op := range ops {
		if op.Obj.IsRoot() {
			objActor.AppendNull()
			objCtr.AppendNull()
		} else {
			objActor.AppendValue(actorIdx[op.Obj.ID.Actor.String()])
			objCtr.AppendValue(op.Obj.ID.Counter)
		}
		switch op.Key.Kind {
		case opid.KeyString:
			keyActor.AppendNull()
			keyCtr.AppendNull()
			keyStr.AppendValue(op.Key.Str)
		case opid.KeyElem:
			keyActor.AppendValue(actorIdx[op.Key.Elem.Actor.String()])
			keyCtr.AppendValue(int64(op.Key.Elem.Counter))
			keyStr.AppendNull()
		default:
			keyActor.AppendNull()
			keyCtr.AppendNull()
			keyStr.AppendNull()
		}
		idActor.AppendValue(actorIdx[op.ID.Actor.String()])
		idCtr.AppendValue(int64(op.ID.Counter))
		insert.AppendValue(op.Insert)
		action.AppendValue(uint64(op.Action))
		if op.Value.Tag == columnar.TagNull {
			val.AppendNull()
		} else {
			val.AppendValue(op.Value)
		}
		succNum.AppendValue(uint64(len(op.Succ)))
		for _, s := range op.Succ {
			succActor.AppendValue(actorIdx[s.Actor.String()])
			succCtr.AppendValue(int64(s.Counter))
		}
	}

	type col struct {
		id    schema.ColumnID
		bytes []byte
		empty bool
	}
	cols := []col{
		{schema.ColObjActor, objActor.Bytes(), objActor.OnlyNulls()},
		{schema.ColObjCtr, objCtr.Bytes(), objCtr.OnlyNulls()},
		{schema.ColKeyActor, keyActor.Bytes(), keyActor.OnlyNulls()},
		{schema.ColKeyCtr, keyCtr.Bytes(), keyCtr.OnlyNulls()},
		{schema.ColKeyStr, keyStr.Bytes(), keyStr.OnlyNulls()},
		{schema.ColIDActor, idActor.Bytes(), idActor.OnlyNulls()},
		{schema.ColIDCtr, idCtr.Bytes(), idCtr.OnlyNulls()},
		{schema.ColInsert, insert.Bytes(), insert.OnlyNulls()},
		{schema.ColAction, action.Bytes(), action.OnlyNulls()},
		{schema.ColValLen, val.LenBytes(), val.OnlyNulls()},
		{schema.ColValRaw, val.RawBytes(), val.OnlyNulls()},
		{schema.ColSuccNum, succNum.Bytes(), succNum.OnlyNulls()},
		{schema.ColSuccActor, succActor.Bytes(), succActor.OnlyNulls()},
		{schema.ColSuccCtr, succCtr.Bytes(), succCtr.OnlyNulls()},
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].id < cols[j].id })

	var out []byte
	for _, cl := range cols {
		if cl.empty {
			continue
		}
		out = appendColumnHeader(out, cl.id, cl.bytes)
	}
	return out
}

func appendColumnHeader(buf []byte, id schema.ColumnID, body []byte) []byte {
	buf = varint.AppendUvarint(buf, uint64(id))
	buf = varint.AppendUvarint(buf, uint64(len(body)))
	return append(buf, body...)
}

// parseColumns splits a concatenated (colId, bytes) column sequence,
// requiring strictly ascending ids (spec §4.3).
func parseColumns(buf []byte) (map[schema.ColumnID][]byte, error) {
	cols := map[schema.ColumnID][]byte{}
	pos := 0
	var lastID int64 = -1
	for pos < len(buf) {
		idVal, n, err := varint.Uvarint(buf[pos:])
		if err != nil {
			return nil, crdterr.New(crdterr.MalformedData, "column id")
		}
		pos += n
		if int64(idVal) <= lastID {
			return nil, crdterr.New(crdterr.MalformedData, "column ids not strictly ascending")
		}
		lastID = int64(idVal)

		length, n, err := varint.Uvarint(buf[pos:])
		if err != nil {
			return nil, crdterr.New(crdterr.MalformedData, "column length")
		}
		pos += n
		if uint64(len(buf)-pos) < length {
			return nil, crdterr.New(crdterr.MalformedData, "truncated column")
		}
		cols[schema.ColumnID(idVal)] = buf[pos : pos+int(length)]
		pos += int(length)
	}
	return cols, nil
}

// DecodeCols parses the document-op column family back into a flat
// op slice, given the document's full actor table.
func DecodeCols(buf []byte, table []opid.Actor) ([]DocOp, error) {
	cols, err := parseColumns(buf)
	if err != nil {
		return nil, err
	}

	actionBuf, ok := cols[schema.ColAction]
	if !ok {
		return nil, nil
	}
	actionDec := columnar.NewUintDecoder(actionBuf)

	get := func(id schema.ColumnID) ([]byte, bool) { b, ok := cols[id]; return b, ok }

	var objActorDec, keyActorDec, idActorDec, succActorDec *columnar.UintDecoder
	var objCtrDec *columnar.UintDecoder
	var succNumDec *columnar.UintDecoder
	var keyCtrDec, idCtrDec, succCtrDec *columnar.DeltaDecoder
	var keyStrDec *columnar.StringDecoder
	var insertDec *columnar.BooleanDecoder
	var valDec *columnar.ValueDecoder

	if b, ok := get(schema.ColObjActor); ok {
		objActorDec = columnar.NewUintDecoder(b)
	}
	if b, ok := get(schema.ColObjCtr); ok {
		objCtrDec = columnar.NewUintDecoder(b)
	}
	if b, ok := get(schema.ColKeyActor); ok {
		keyActorDec = columnar.NewUintDecoder(b)
	}
	if b, ok := get(schema.ColKeyCtr); ok {
		keyCtrDec = columnar.NewDeltaDecoder(b)
	}
	if b, ok := get(schema.ColKeyStr); ok {
		keyStrDec = columnar.NewStringDecoder(b)
	}
	if b, ok := get(schema.ColIDActor); ok {
		idActorDec = columnar.NewUintDecoder(b)
	}
	if b, ok := get(schema.ColIDCtr); ok {
		idCtrDec = columnar.NewDeltaDecoder(b)
	}
	if b, ok := get(schema.ColInsert); ok {
		insertDec = columnar.NewBooleanDecoder(b)
	}
	if b, ok := get(schema.ColSuccNum); ok {
		succNumDec = columnar.NewUintDecoder(b)
	}
	if b, ok := get(schema.ColSuccActor); ok {
		succActorDec = columnar.NewUintDecoder(b)
	}
	if b, ok := get(schema.ColSuccCtr); ok {
		succCtrDec = columnar.NewDeltaDecoder(b)
	}
	if lenBuf, ok := get(schema.ColValLen); ok {
		valDec = columnar.NewValueDecoder(lenBuf, cols[schema.ColValRaw])
	}

	resolveActor := func(idx uint64) (opid.Actor, error) {
		if idx >= uint64(len(table)) {
			return opid.Actor{}, crdterr.New(crdterr.UnknownActor, "actor index out of range")
		}
		return table[idx], nil
	}

	var ops []DocOp
	for !actionDec.Done() {
		actionVal, isNull, err := actionDec.ReadValue()
		if err != nil || isNull {
			return nil, crdterr.New(crdterr.MalformedData, "action")
		}
		op := DocOp{Action: change.Action(actionVal)}

		objActorVal, objActorNull, _ := readUintOrNull(objActorDec)
		objCtrVal, objCtrNull, _ := readUintOrNull(objCtrDec)
		switch {
		case objActorNull && objCtrNull:
			op.Obj = opid.Root
		case objActorNull != objCtrNull:
			return nil, crdterr.New(crdterr.MismatchedRef, "objActor/objCtr null mismatch")
		default:
			a, aerr := resolveActor(objActorVal)
			if aerr != nil {
				return nil, aerr
			}
			op.Obj = opid.Obj{ID: opid.ID{Counter: objCtrVal, Actor: a}}
		}

		keyStrVal, keyStrNull, _ := readStringOrNull(keyStrDec)
		keyActorVal, keyActorNull, _ := readUintOrNull(keyActorDec)
		keyCtrVal, keyCtrNull, _ := readDeltaOrNull(keyCtrDec)
		switch {
		case !keyStrNull:
			op.Key = opid.StringKey(keyStrVal)
		case !keyCtrNull:
			if keyActorNull {
				return nil, crdterr.New(crdterr.MismatchedRef, "keyCtr without keyActor")
			}
			a, aerr := resolveActor(keyActorVal)
			if aerr != nil {
				return nil, aerr
			}
			op.Key = opid.ElemKey(opid.ID{Counter: uint64(keyCtrVal), Actor: a})
		default:
			op.Key = opid.HeadKey
		}

		idActorVal, idActorNull, _ := readUintOrNull(idActorDec)
		idCtrVal, idCtrNull, _ := readDeltaOrNull(idCtrDec)
		if idActorNull || idCtrNull {
			return nil, crdterr.New(crdterr.MalformedData, "missing doc-op id")
		}
		idActorResolved, aerr := resolveActor(idActorVal)
		if aerr != nil {
			return nil, aerr
		}
		op.ID = opid.ID{Counter: uint64(idCtrVal), Actor: idActorResolved}

		insertVal, _ := readBoolOrFalse(insertDec)
		op.Insert = insertVal

		if valDec != nil {
			v, isNull, verr := valDec.ReadValue()
			if verr != nil {
				return nil, crdterr.Wrap(crdterr.MalformedData, "value", verr)
			}
			if !isNull {
				op.Value = v
			}
		}

		succNum, _, _ := readUintOrNull(succNumDec)
		op.Succ = make([]opid.ID, 0, succNum)
		for i := uint64(0); i < succNum; i++ {
			sa, saNull, saErr := readUintOrNull(succActorDec)
			if saErr != nil || saNull {
				return nil, crdterr.New(crdterr.MalformedData, "succActor")
			}
			sc, scNull, scErr := readDeltaOrNull(succCtrDec)
			if scErr != nil || scNull {
				return nil, crdterr.New(crdterr.MalformedData, "succCtr")
			}
			a, aerr := resolveActor(sa)
			if aerr != nil {
				return nil, aerr
			}
			op.Succ = append(op.Succ, opid.ID{Counter: uint64(sc), Actor: a})
		}

		ops = append(ops, op)
	}
	return ops, nil
}

func readUintOrNull(d *columnar.UintDecoder) (uint64, bool, error) {
	if d == nil {
		return 0, true, nil
	}
	return d.ReadValue()
}

func readDeltaOrNull(d *columnar.DeltaDecoder) (int64, bool, error) {
	if d == nil {
		return 0, true, nil
	}
	return d.ReadValue()
}

func readStringOrNull(d *columnar.StringDecoder) (string, bool, error) {
	if d == nil {
		return "", true, nil
	}
	return d.ReadValue()
}

func readBoolOrFalse(d *columnar.BooleanDecoder) (bool, error) {
	if d == nil {
		return false, nil
	}
	return d.ReadValue()
}
