package change

import (
	"testing"

	"crdtdoc/pkg/columnar"
	"crdtdoc/pkg/container"
	"crdtdoc/pkg/opid"
)

func mustActor(t *testing.T, hexStr string) opid.Actor {
	t.Helper()
	a, err := opid.NewActor(hexStr)
	if err != nil {
		t.Fatalf("NewActor(%q): %v", hexStr, err)
	}
	return a
}

func TestEncodeDecodeRoundTripSimpleSet(t *testing.T) {
	author := mustActor(t, "aabb")
	c := &Change{
		Actor:   author,
		Seq:     1,
		StartOp: 1,
		Time:    1700000000,
		Message: "initial",
		Ops: []Op{
			{
				Obj:    opid.Root,
				Key:    opid.StringKey("title"),
				Action: ActionSet,
				Value:  columnar.StringValue("hello"),
			},
		},
	}

	framed, _ := c.Encode()
	got, hash, err := Decode(framed)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Actor.String() != author.String() || got.Seq != 1 || got.StartOp != 1 {
		t.Fatalf("header mismatch: %+v", got)
	}
	if got.Message != "initial" {
		t.Fatalf("Message = %q", got.Message)
	}
	if len(got.Ops) != 1 {
		t.Fatalf("Ops len = %d, want 1", len(got.Ops))
	}
	op := got.Ops[0]
	if !op.Obj.IsRoot() {
		t.Fatal("expected root object")
	}
	if op.Key.Kind != opid.KeyString || op.Key.Str != "title" {
		t.Fatalf("key = %+v", op.Key)
	}
	if op.Action != ActionSet {
		t.Fatalf("action = %v", op.Action)
	}
	if !op.Value.IsEqual(columnar.StringValue("hello")) {
		t.Fatalf("value = %+v", op.Value)
	}

	_, wantHash := c.Encode()
	if hash != wantHash {
		t.Fatal("decoded hash should match a fresh encode of the same change")
	}
}

func TestEncodeDecodeRoundTripWithPredAndActorTable(t *testing.T) {
	author := mustActor(t, "1111")
	other := mustActor(t, "2222")
	objID := opid.ID{Counter: 1, Actor: author}

	c := &Change{
		Actor:   author,
		Seq:     2,
		StartOp: 2,
		Time:    42,
		Ops: []Op{
			{
				Obj:    opid.Obj{ID: objID},
				Key:    opid.StringKey("count"),
				Action: ActionSet,
				Value:  columnar.UintValue(7),
				Pred:   []opid.ID{{Counter: 1, Actor: other}},
			},
		},
	}

	framed, _ := c.Encode()
	got, _, err := Decode(framed)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.ActorTable) != 2 {
		t.Fatalf("actor table len = %d, want 2", len(got.ActorTable))
	}
	if got.ActorTable[0].String() != author.String() {
		t.Fatalf("actor table[0] = %v, want author", got.ActorTable[0])
	}
	op := got.Ops[0]
	if len(op.Pred) != 1 || op.Pred[0].Counter != 1 || op.Pred[0].Actor.String() != other.String() {
		t.Fatalf("pred mismatch: %+v", op.Pred)
	}
}

func TestEncodeDecodeListInsertAtHead(t *testing.T) {
	author := mustActor(t, "abcd")
	listID := opid.ID{Counter: 1, Actor: author}

	c := &Change{
		Actor:   author,
		Seq:     3,
		StartOp: 2,
		Ops: []Op{
			{
				Obj:    opid.Obj{ID: listID},
				Key:    opid.HeadKey,
				Insert: true,
				Action: ActionSet,
				Value:  columnar.StringValue("a"),
			},
		},
	}
	framed, _ := c.Encode()
	got, _, err := Decode(framed)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	op := got.Ops[0]
	if op.Key.Kind != opid.KeyHead {
		t.Fatalf("key kind = %v, want KeyHead", op.Key.Kind)
	}
	if !op.Insert {
		t.Fatal("expected insert flag")
	}
}

func TestEncodeDecodeElemKeyUpdate(t *testing.T) {
	author := mustActor(t, "beef")
	listID := opid.ID{Counter: 1, Actor: author}
	elem := opid.ID{Counter: 2, Actor: author}

	c := &Change{
		Actor:   author,
		Seq:     4,
		StartOp: 3,
		Ops: []Op{
			{
				Obj:    opid.Obj{ID: listID},
				Key:    opid.ElemKey(elem),
				Action: ActionSet,
				Value:  columnar.IntValue(-5),
				Pred:   []opid.ID{elem},
			},
		},
	}
	framed, _ := c.Encode()
	got, _, err := Decode(framed)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	op := got.Ops[0]
	if op.Key.Kind != opid.KeyElem || !op.Key.Elem.Equal(elem) {
		t.Fatalf("key = %+v, want elem %v", op.Key, elem)
	}
}

func TestEncodeDecodeMakeOpNoValue(t *testing.T) {
	author := mustActor(t, "cafe")
	c := &Change{
		Actor:   author,
		Seq:     1,
		StartOp: 1,
		Ops: []Op{
			{Obj: opid.Root, Key: opid.StringKey("todos"), Action: ActionMakeList},
		},
	}
	framed, _ := c.Encode()
	got, _, err := Decode(framed)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Ops[0].Value.Tag != columnar.TagNull {
		t.Fatalf("expected null value for makeList, got %+v", got.Ops[0].Value)
	}
	if !got.Ops[0].Action.IsMake() {
		t.Fatal("makeList should report IsMake() true")
	}
}

func TestDecodeRejectsWrongChunkType(t *testing.T) {
	buf, _ := container.Encode(container.ChunkDocument, []byte("x"))
	if _, _, err := Decode(buf); err == nil {
		t.Fatal("expected error decoding a document chunk as a change")
	}
}

func TestDepsAreSortedOnEncode(t *testing.T) {
	author := mustActor(t, "fade")
	hiHash := container.Hash{}
	loHash := container.Hash{}
	for i := range hiHash {
		hiHash[i] = 0xff
	}
	loHash[0] = 0x01

	c := &Change{
		Actor:   author,
		Seq:     1,
		StartOp: 1,
		Deps:    []container.Hash{hiHash, loHash},
		Ops: []Op{
			{Obj: opid.Root, Key: opid.StringKey("k"), Action: ActionSet, Value: columnar.BoolValue(true)},
		},
	}
	framed, _ := c.Encode()
	got, _, err := Decode(framed)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Deps) != 2 {
		t.Fatalf("deps len = %d, want 2", len(got.Deps))
	}
	if got.Deps[0] != loHash || got.Deps[1] != hiHash {
		t.Fatal("deps should be sorted lexicographically on encode")
	}
}

func TestActionStringAndIsMake(t *testing.T) {
	if !ActionMakeMap.IsMake() || !ActionMakeList.IsMake() || !ActionMakeText.IsMake() || !ActionMakeTable.IsMake() {
		t.Fatal("make actions should report IsMake() true")
	}
	if ActionSet.IsMake() || ActionDel.IsMake() || ActionInc.IsMake() || ActionLink.IsMake() {
		t.Fatal("non-make actions should report IsMake() false")
	}
	if ActionSet.String() != "set" {
		t.Fatalf("ActionSet.String() = %q", ActionSet.String())
	}
}
