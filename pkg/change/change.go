// pkg/change/change.go
//
// Package change implements the change model (spec §3, §4.4 item 4):
// a Change carries an author, sequence number, timestamp, message,
// dependency set, interned actor table, and an ordered list of
// operations; Encode/Decode round-trip it against the change-op
// column schema (spec §6.2, §6.4) inside a container.ChunkChange
// frame. It plays the role the teacher's pkg/record/record.go played
// for row encode/decode: one schema consulted by both directions so
// they can't drift apart.
package change

import (
	"sort"

	"crdtdoc/internal/varint"
	"crdtdoc/pkg/columnar"
	"crdtdoc/pkg/container"
	"crdtdoc/pkg/crdterr"
	"crdtdoc/pkg/opid"
	"crdtdoc/pkg/schema"
)

// Action is the per-op action enum (spec §3). Even codes are
// make-operations: the op's own id becomes the id of the object it
// creates.
type Action uint64

const (
	ActionMakeMap   Action = 0
	ActionSet       Action = 1
	ActionMakeList  Action = 2
	ActionDel       Action = 3
	ActionMakeText  Action = 4
	ActionInc       Action = 5
	ActionMakeTable Action = 6
	ActionLink      Action = 7
)

// IsMake reports whether a is a make-operation (even action code):
// its own op id names the object it creates.
func (a Action) IsMake() bool { return a%2 == 0 }

func (a Action) String() string {
	switch a {
	case ActionMakeMap:
		return "makeMap"
	case ActionSet:
		return "set"
	case ActionMakeList:
		return "makeList"
	case ActionDel:
		return "del"
	case ActionMakeText:
		return "makeText"
	case ActionInc:
		return "inc"
	case ActionMakeTable:
		return "makeTable"
	case ActionLink:
		return "link"
	default:
		return "action(" + itoa(uint64(a)) + ")"
	}
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Op is a single change operation (spec §3): the object it belongs
// to, its key, the insert flag, the action, an optional typed value,
// and the set of op ids it overwrites (pred).
type Op struct {
	Obj    opid.Obj
	Key    opid.Key
	Insert bool
	Action Action
	Value  columnar.Value
	Pred   []opid.ID
}

// Change is one immutable, content-addressed unit of edit history
// (spec §2 item 4, §3).
type Change struct {
	Actor      opid.Actor
	Seq        uint64
	StartOp    uint64
	Time       int64
	Message    string
	Deps       []container.Hash
	ActorTable []opid.Actor // filled in by Decode; ignored by Encode
	Ops        []Op
}

// buildActorTable builds the change's interned actor table: index 0 is
// always the author; the remaining entries are every other actor
// referenced by an op (object id, elem-key, or pred), sorted
// lexicographically (spec §3 "Actor id").
func (c *Change) buildActorTable() ([]opid.Actor, map[string]uint64) {
	seen := map[string]bool{c.Actor.String(): true}
	var others []opid.Actor
	add := func(a opid.Actor) {
		if a.IsZero() || seen[a.String()] {
			return
		}
		seen[a.String()] = true
		others = append(others, a)
	}
	for _, op := range c.Ops {
		if !op.Obj.IsRoot() {
			add(op.Obj.ID.Actor)
		}
		if op.Key.Kind == opid.KeyElem {
			add(op.Key.Elem.Actor)
		}
		for _, p := range op.Pred {
			add(p.Actor)
		}
	}
	others = opid.SortActors(others)

	table := append([]opid.Actor{c.Actor}, others...)
	index := make(map[string]uint64, len(table))
	for i, a := range table {
		index[a.String()] = uint64(i)
	}
	return table, index
}

// Encode serializes c into a change-op columnar body and wraps it in
// container framing, returning the framed bytes and content hash.
func (c *Change) Encode() ([]byte, container.Hash) {
	table, actorIdx := c.buildActorTable()

	objActor := columnar.NewUintEncoder()
	objCtr := columnar.NewUintEncoder()
	keyActor := columnar.NewUintEncoder()
	keyCtr := columnar.NewDeltaEncoder()
	keyStr := columnar.NewStringEncoder()
	insert := columnar.NewBooleanEncoder()
	action := columnar.NewUintEncoder()
	val := columnar.NewValueEncoder()
	predNum := columnar.NewUintEncoder()
	predActor := columnar.NewUintEncoder()
	predCtr := columnar.NewDeltaEncoder()

	for _, op := range c.Ops {
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
		default: // KeyHead
			keyActor.AppendNull()
			keyCtr.AppendNull()
			keyStr.AppendNull()
		}

		insert.AppendValue(op.Insert)
		action.AppendValue(uint64(op.Action))

		if op.Value.Tag == columnar.TagNull && !hasValue(op.Action) {
			val.AppendNull()
		} else {
			val.AppendValue(op.Value)
		}

		predNum.AppendValue(uint64(len(op.Pred)))
		for _, p := range op.Pred {
			predActor.AppendValue(actorIdx[p.Actor.String()])
			predCtr.AppendValue(int64(p.Counter))
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
		{schema.ColInsert, insert.Bytes(), insert.OnlyNulls()},
		{schema.ColAction, action.Bytes(), action.OnlyNulls()},
		{schema.ColValLen, val.LenBytes(), val.OnlyNulls()},
		{schema.ColValRaw, val.RawBytes(), val.OnlyNulls()},
		{schema.ColPredNum, predNum.Bytes(), predNum.OnlyNulls()},
		{schema.ColPredActor, predActor.Bytes(), predActor.OnlyNulls()},
		{schema.ColPredCtr, predCtr.Bytes(), predCtr.OnlyNulls()},
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].id < cols[j].id })

	var body []byte
	body = appendHexString(body, c.Actor.String())
	body = varint.AppendUvarint(body, c.Seq)
	body = varint.AppendUvarint(body, c.StartOp)
	body = varint.AppendSvarint(body, c.Time)
	body = appendString(body, c.Message)

	body = varint.AppendUvarint(body, uint64(len(table)-1))
	for _, a := range table[1:] {
		body = appendHexString(body, a.String())
	}

	sortedDeps := append([]container.Hash(nil), c.Deps...)
	sort.Slice(sortedDeps, func(i, j int) bool {
		return lessHash(sortedDeps[i], sortedDeps[j])
	})
	body = varint.AppendUvarint(body, uint64(len(sortedDeps)))
	for _, h := range sortedDeps {
		body = append(body, h[:]...)
	}

	for _, cl := range cols {
		if cl.empty {
			continue
		}
		body = varint.AppendUvarint(body, uint64(cl.id))
		body = varint.AppendUvarint(body, uint64(len(cl.bytes)))
		body = append(body, cl.bytes...)
	}

	return container.Encode(container.ChunkChange, body)
}

// hasValue reports whether an action always carries a meaningful
// value (set, inc); the rest carry an explicit null payload.
func hasValue(a Action) bool { return a == ActionSet || a == ActionInc }

func lessHash(a, b container.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func appendString(buf []byte, s string) []byte {
	buf = varint.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendHexString(buf []byte, s string) []byte { return appendString(buf, s) }

// Decode parses a framed container chunk into a Change, validating it
// against the change-op column schema. The returned hash is the
// SHA-256 content hash container.Decode recomputes over the frame
// (only its 4-byte checksum prefix is stored on the wire).
func Decode(framed []byte) (*Change, container.Hash, error) {
	typ, body, hash, err := container.Decode(framed)
	if err != nil {
		return nil, container.Hash{}, crdterr.Wrap(crdterr.MalformedData, "container decode", err)
	}
	if typ != container.ChunkChange {
		return nil, container.Hash{}, crdterr.New(crdterr.MalformedData, "not a change chunk")
	}
	c, err := decodeBody(body)
	if err != nil {
		return nil, container.Hash{}, err
	}
	return c, hash, nil
}

func decodeBody(body []byte) (*Change, error) {
	pos := 0
	actorHex, n, err := readString(body[pos:])
	if err != nil {
		return nil, err
	}
	pos += n
	author, aerr := opid.NewActor(actorHex)
	if aerr != nil {
		return nil, crdterr.Wrap(crdterr.MalformedData, "actor hex", aerr)
	}

	seq, n, err := varint.Uvarint(body[pos:])
	if err != nil {
		return nil, crdterr.New(crdterr.MalformedData, "seq")
	}
	pos += n

	startOp, n, err := varint.Uvarint(body[pos:])
	if err != nil {
		return nil, crdterr.New(crdterr.MalformedData, "startOp")
	}
	pos += n

	t, n, err := varint.Svarint(body[pos:])
	if err != nil {
		return nil, crdterr.New(crdterr.MalformedData, "time")
	}
	pos += n

	message, n, err := readString(body[pos:])
	if err != nil {
		return nil, err
	}
	pos += n

	numActors, n, err := varint.Uvarint(body[pos:])
	if err != nil {
		return nil, crdterr.New(crdterr.MalformedData, "numActors")
	}
	pos += n

	table := make([]opid.Actor, 0, numActors+1)
	table = append(table, author)
	for i := uint64(0); i < numActors; i++ {
		ahex, n, err := readString(body[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		a, aerr := opid.NewActor(ahex)
		if aerr != nil {
			return nil, crdterr.Wrap(crdterr.MalformedData, "actor table entry", aerr)
		}
		table = append(table, a)
	}

	numDeps, n, err := varint.Uvarint(body[pos:])
	if err != nil {
		return nil, crdterr.New(crdterr.MalformedData, "numDeps")
	}
	pos += n

	deps := make([]container.Hash, 0, numDeps)
	for i := uint64(0); i < numDeps; i++ {
		if len(body[pos:]) < 32 {
			return nil, crdterr.New(crdterr.MalformedData, "truncated dep hash")
		}
		var h container.Hash
		copy(h[:], body[pos:pos+32])
		pos += 32
		deps = append(deps, h)
	}

	cols := map[schema.ColumnID][]byte{}
	var lastID int64 = -1
	for pos < len(body) {
		idVal, n, err := varint.Uvarint(body[pos:])
		if err != nil {
			return nil, crdterr.New(crdterr.MalformedData, "column id")
		}
		pos += n
		if int64(idVal) <= lastID {
			return nil, crdterr.New(crdterr.MalformedData, "column ids not strictly ascending")
		}
		lastID = int64(idVal)

		length, n, err := varint.Uvarint(body[pos:])
		if err != nil {
			return nil, crdterr.New(crdterr.MalformedData, "column length")
		}
		pos += n
		if uint64(len(body)-pos) < length {
			return nil, crdterr.New(crdterr.MalformedData, "truncated column")
		}
		cols[schema.ColumnID(idVal)] = body[pos : pos+int(length)]
		pos += int(length)
	}

	ops, err := decodeOps(cols, table)
	if err != nil {
		return nil, err
	}

	return &Change{
		Actor:      author,
		Seq:        seq,
		StartOp:    startOp,
		Time:       t,
		Message:    message,
		Deps:       deps,
		ActorTable: table,
		Ops:        ops,
	}, nil
}

func decodeOps(cols map[schema.ColumnID][]byte, table []opid.Actor) ([]Op, error) {
	actionBuf, ok := cols[schema.ColAction]
	if !ok {
		return nil, nil
	}
	actionDec := columnar.NewUintDecoder(actionBuf)

	var objActorDec, keyActorDec, predActorDec *columnar.UintDecoder
	var predNumDec *columnar.UintDecoder
	var objCtrDec *columnar.UintDecoder
	var keyCtrDec, predCtrDec *columnar.DeltaDecoder
	var keyStrDec *columnar.StringDecoder
	var insertDec *columnar.BooleanDecoder
	var valDec *columnar.ValueDecoder

	if b, ok := cols[schema.ColObjActor]; ok {
		objActorDec = columnar.NewUintDecoder(b)
	}
	if b, ok := cols[schema.ColObjCtr]; ok {
		objCtrDec = columnar.NewUintDecoder(b)
	}
	if b, ok := cols[schema.ColKeyActor]; ok {
		keyActorDec = columnar.NewUintDecoder(b)
	}
	if b, ok := cols[schema.ColKeyCtr]; ok {
		keyCtrDec = columnar.NewDeltaDecoder(b)
	}
	if b, ok := cols[schema.ColKeyStr]; ok {
		keyStrDec = columnar.NewStringDecoder(b)
	}
	if b, ok := cols[schema.ColInsert]; ok {
		insertDec = columnar.NewBooleanDecoder(b)
	}
	if b, ok := cols[schema.ColPredNum]; ok {
		predNumDec = columnar.NewUintDecoder(b)
	}
	if b, ok := cols[schema.ColPredActor]; ok {
		predActorDec = columnar.NewUintDecoder(b)
	}
	if b, ok := cols[schema.ColPredCtr]; ok {
		predCtrDec = columnar.NewDeltaDecoder(b)
	}
	lenBuf, hasLen := cols[schema.ColValLen]
	if hasLen {
		valDec = columnar.NewValueDecoder(lenBuf, cols[schema.ColValRaw])
	}

	resolveActor := func(idx uint64) (opid.Actor, error) {
		if idx >= uint64(len(table)) {
			return opid.Actor{}, crdterr.New(crdterr.UnknownActor, "actor index out of range")
		}
		return table[idx], nil
	}

	var ops []Op
	for !actionDec.Done() {
		actionVal, isNull, err := actionDec.ReadValue()
		if err != nil || isNull {
			return nil, crdterr.New(crdterr.MalformedData, "action")
		}
		op := Op{Action: Action(actionVal)}

		objActorVal, objActorNull, err := readUintOrNull(objActorDec)
		if err != nil {
			return nil, crdterr.New(crdterr.MalformedData, "objActor")
		}
		objCtrVal, objCtrNull, err := readUintOrNull(objCtrDec)
		if err != nil {
			return nil, crdterr.New(crdterr.MalformedData, "objCtr")
		}
		switch {
		case objActorNull && objCtrNull:
			op.Obj = opid.Root
		case objActorNull != objCtrNull:
			return nil, crdterr.New(crdterr.MalformedData, "objActor/objCtr null mismatch")
		default:
			a, aerr := resolveActor(objActorVal)
			if aerr != nil {
				return nil, aerr
			}
			op.Obj = opid.Obj{ID: opid.ID{Counter: objCtrVal, Actor: a}}
		}

		keyStrVal, keyStrNull, err := readStringOrNull(keyStrDec)
		if err != nil {
			return nil, crdterr.New(crdterr.MalformedData, "keyStr")
		}
		keyActorVal, keyActorNull, err := readUintOrNull(keyActorDec)
		if err != nil {
			return nil, crdterr.New(crdterr.MalformedData, "keyActor")
		}
		keyCtrVal, keyCtrNull, err := readDeltaOrNull(keyCtrDec)
		if err != nil {
			return nil, crdterr.New(crdterr.MalformedData, "keyCtr")
		}
		switch {
		case !keyStrNull:
			op.Key = opid.StringKey(keyStrVal)
		case !keyCtrNull:
			if keyActorNull {
				return nil, crdterr.New(crdterr.MalformedData, "keyCtr without keyActor")
			}
			a, aerr := resolveActor(keyActorVal)
			if aerr != nil {
				return nil, aerr
			}
			op.Key = opid.ElemKey(opid.ID{Counter: uint64(keyCtrVal), Actor: a})
		default:
			op.Key = opid.HeadKey
		}

		insertVal, ierr := readBoolOrFalse(insertDec)
		if ierr != nil {
			return nil, crdterr.New(crdterr.MalformedData, "insert")
		}
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

		predNum, _, perr := readUintOrNull(predNumDec)
		if perr != nil {
			return nil, crdterr.New(crdterr.MalformedData, "predNum")
		}
		op.Pred = make([]opid.ID, 0, predNum)
		for i := uint64(0); i < predNum; i++ {
			pa, paNull, paErr := readUintOrNull(predActorDec)
			if paErr != nil || paNull {
				return nil, crdterr.New(crdterr.MalformedData, "predActor")
			}
			pc, pcNull, pcErr := readDeltaOrNull(predCtrDec)
			if pcErr != nil || pcNull {
				return nil, crdterr.New(crdterr.MalformedData, "predCtr")
			}
			a, aerr := resolveActor(pa)
			if aerr != nil {
				return nil, aerr
			}
			op.Pred = append(op.Pred, opid.ID{Counter: uint64(pc), Actor: a})
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

func readString(buf []byte) (string, int, error) {
	l, n, err := varint.Uvarint(buf)
	if err != nil {
		return "", 0, crdterr.New(crdterr.MalformedData, "string length")
	}
	if uint64(n)+l > uint64(len(buf)) {
		return "", 0, crdterr.New(crdterr.MalformedData, "truncated string")
	}
	return string(buf[n : uint64(n)+l]), n + int(l), nil
}
