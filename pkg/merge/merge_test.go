package merge

import (
	"testing"

	"crdtdoc/pkg/block"
	"crdtdoc/pkg/change"
	"crdtdoc/pkg/columnar"
	"crdtdoc/pkg/crdterr"
	"crdtdoc/pkg/opid"
	"crdtdoc/pkg/patch"
)

func mustActor(t *testing.T, hexStr string) opid.Actor {
	t.Helper()
	a, err := opid.NewActor(hexStr)
	if err != nil {
		t.Fatalf("NewActor(%q): %v", hexStr, err)
	}
	return a
}

func TestApplySetOnRootProducesProp(t *testing.T) {
	author := mustActor(t, "aa")
	chg := &change.Change{
		Actor:   author,
		StartOp: 1,
		Ops: []change.Op{
			{Obj: opid.Root, Key: opid.StringKey("title"), Action: change.ActionSet, Value: columnar.StringValue("hello")},
		},
	}
	ops, p, err := Apply(nil, ObjectMetaTree{}, chg)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected 1 doc op, got %d", len(ops))
	}
	vals := p.Objects[opid.Root.ID.String()].Props["title"]
	if len(vals) != 1 {
		t.Fatalf("expected 1 prop value, got %d", len(vals))
	}
}

func TestApplyOverwriteMarksSuccAndHidesOldOp(t *testing.T) {
	author := mustActor(t, "bb")
	first := &change.Change{
		Actor:   author,
		StartOp: 1,
		Ops:     []change.Op{{Obj: opid.Root, Key: opid.StringKey("k"), Action: change.ActionSet, Value: columnar.UintValue(1)}},
	}
	ops, _, err := Apply(nil, ObjectMetaTree{}, first)
	if err != nil {
		t.Fatalf("Apply first: %v", err)
	}
	firstID := ops[0].ID

	second := &change.Change{
		Actor:   author,
		StartOp: 2,
		Ops:     []change.Op{{Obj: opid.Root, Key: opid.StringKey("k"), Action: change.ActionSet, Value: columnar.UintValue(2), Pred: []opid.ID{firstID}}},
	}
	ops, p, err := Apply(ops, ObjectMetaTree{}, second)
	if err != nil {
		t.Fatalf("Apply second: %v", err)
	}
	if ops[0].Visible() {
		t.Fatal("overwritten op should no longer be visible")
	}
	vals := p.Objects[opid.Root.ID.String()].Props["k"]
	if len(vals) != 1 {
		t.Fatalf("expected single surviving value after overwrite, got %d", len(vals))
	}
}

func TestApplyConcurrentSetsBothSurviveAsConflict(t *testing.T) {
	a1 := mustActor(t, "cc")
	a2 := mustActor(t, "dd")
	base := &change.Change{
		Actor:   a1,
		StartOp: 1,
		Ops:     []change.Op{{Obj: opid.Root, Key: opid.StringKey("k"), Action: change.ActionSet, Value: columnar.UintValue(1)}},
	}
	ops, _, err := Apply(nil, ObjectMetaTree{}, base)
	if err != nil {
		t.Fatalf("Apply base: %v", err)
	}
	baseID := ops[0].ID

	c1 := &change.Change{Actor: a1, StartOp: 2, Ops: []change.Op{{Obj: opid.Root, Key: opid.StringKey("k"), Action: change.ActionSet, Value: columnar.UintValue(2), Pred: []opid.ID{baseID}}}}
	c2 := &change.Change{Actor: a2, StartOp: 2, Ops: []change.Op{{Obj: opid.Root, Key: opid.StringKey("k"), Action: change.ActionSet, Value: columnar.UintValue(3), Pred: []opid.ID{baseID}}}}

	ops, _, err = Apply(ops, ObjectMetaTree{}, c1)
	if err != nil {
		t.Fatalf("Apply c1: %v", err)
	}
	ops, p, err := Apply(ops, ObjectMetaTree{}, c2)
	if err != nil {
		t.Fatalf("Apply c2: %v", err)
	}
	vals := p.Objects[opid.Root.ID.String()].Props["k"]
	if len(vals) != 2 {
		t.Fatalf("expected 2 concurrent conflicting values, got %d: %+v", len(vals), vals)
	}
	_ = ops
}

func TestApplyDelRemovesValue(t *testing.T) {
	author := mustActor(t, "ee")
	set := &change.Change{Actor: author, StartOp: 1, Ops: []change.Op{{Obj: opid.Root, Key: opid.StringKey("k"), Action: change.ActionSet, Value: columnar.UintValue(1)}}}
	ops, _, err := Apply(nil, ObjectMetaTree{}, set)
	if err != nil {
		t.Fatalf("Apply set: %v", err)
	}
	setID := ops[0].ID

	del := &change.Change{Actor: author, StartOp: 2, Ops: []change.Op{{Obj: opid.Root, Key: opid.StringKey("k"), Action: change.ActionDel, Pred: []opid.ID{setID}}}}
	ops, p, err := Apply(ops, ObjectMetaTree{}, del)
	if err != nil {
		t.Fatalf("Apply del: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("del should not add an output row, got %d ops", len(ops))
	}
	if vals, ok := p.Objects[opid.Root.ID.String()].Props["k"]; !ok || len(vals) != 0 {
		t.Fatalf("expected k cleared to an empty conflict set after del, got %+v (present=%v)", vals, ok)
	}
}

func TestApplyDanglingPredErrors(t *testing.T) {
	author := mustActor(t, "ff")
	ghost := opid.ID{Counter: 99, Actor: author}
	chg := &change.Change{Actor: author, StartOp: 1, Ops: []change.Op{{Obj: opid.Root, Key: opid.StringKey("k"), Action: change.ActionSet, Value: columnar.UintValue(1), Pred: []opid.ID{ghost}}}}
	_, _, err := Apply(nil, ObjectMetaTree{}, chg)
	if !crdterr.IsDanglingPred(err) {
		t.Fatalf("expected DanglingPred, got %v", err)
	}
}

func TestApplyMakeListRegistersObjectMeta(t *testing.T) {
	author := mustActor(t, "11")
	chg := &change.Change{Actor: author, StartOp: 1, Ops: []change.Op{{Obj: opid.Root, Key: opid.StringKey("items"), Action: change.ActionMakeList}}}
	meta := ObjectMetaTree{}
	ops, _, err := Apply(nil, meta, chg)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	listID := ops[0].ID
	m, ok := meta[listID.String()]
	if !ok {
		t.Fatal("expected object metadata to be registered")
	}
	if m.Type != TypeList || !m.ParentObj.Equal(opid.Root) || m.ParentKey.Str != "items" {
		t.Fatalf("unexpected meta: %+v", m)
	}
}

func TestApplyListInsertAtHeadThenSecondAtHead(t *testing.T) {
	author := mustActor(t, "22")
	listObj := opid.Obj{ID: opid.ID{Counter: 1, Actor: author}}

	first := &change.Change{Actor: author, StartOp: 2, Ops: []change.Op{{Obj: listObj, Key: opid.HeadKey, Insert: true, Action: change.ActionSet, Value: columnar.StringValue("a")}}}
	ops, p, err := Apply(nil, ObjectMetaTree{}, first)
	if err != nil {
		t.Fatalf("Apply first: %v", err)
	}
	edits := p.Objects[listObj.ID.String()].Edits
	if len(edits) != 1 || edits[0].Kind != patch.EditInsert || edits[0].Index != 0 {
		t.Fatalf("unexpected first insert edit: %+v", edits)
	}

	second := &change.Change{Actor: author, StartOp: 3, Ops: []change.Op{{Obj: listObj, Key: opid.HeadKey, Insert: true, Action: change.ActionSet, Value: columnar.StringValue("b")}}}
	ops, p, err = Apply(ops, ObjectMetaTree{}, second)
	if err != nil {
		t.Fatalf("Apply second: %v", err)
	}
	if ops[0].Value.Str != "b" || ops[1].Value.Str != "a" {
		t.Fatalf("expected second head-insert to land before the first, got %+v / %+v", ops[0], ops[1])
	}
}

func TestApplyListInsertAfterElement(t *testing.T) {
	author := mustActor(t, "33")
	listObj := opid.Obj{ID: opid.ID{Counter: 1, Actor: author}}

	first := &change.Change{Actor: author, StartOp: 2, Ops: []change.Op{{Obj: listObj, Key: opid.HeadKey, Insert: true, Action: change.ActionSet, Value: columnar.StringValue("a")}}}
	ops, _, err := Apply(nil, ObjectMetaTree{}, first)
	if err != nil {
		t.Fatalf("Apply first: %v", err)
	}
	aID := ops[0].ID

	second := &change.Change{Actor: author, StartOp: 3, Ops: []change.Op{{Obj: listObj, Key: opid.ElemKey(aID), Insert: true, Action: change.ActionSet, Value: columnar.StringValue("b")}}}
	ops, p, err := Apply(ops, ObjectMetaTree{}, second)
	if err != nil {
		t.Fatalf("Apply second: %v", err)
	}
	if ops[0].Value.Str != "a" || ops[1].Value.Str != "b" {
		t.Fatalf("expected b inserted right after a, got %+v / %+v", ops[0], ops[1])
	}
	edits := p.Objects[listObj.ID.String()].Edits
	if len(edits) != 1 || edits[0].Index != 1 {
		t.Fatalf("expected insert at index 1, got %+v", edits)
	}
}

func TestApplyListReferenceNotFoundErrors(t *testing.T) {
	author := mustActor(t, "44")
	listObj := opid.Obj{ID: opid.ID{Counter: 1, Actor: author}}
	ghost := opid.ID{Counter: 77, Actor: author}
	chg := &change.Change{Actor: author, StartOp: 2, Ops: []change.Op{{Obj: listObj, Key: opid.ElemKey(ghost), Insert: true, Action: change.ActionSet, Value: columnar.StringValue("x")}}}
	_, _, err := Apply(nil, ObjectMetaTree{}, chg)
	if !crdterr.IsReferenceNotFound(err) {
		t.Fatalf("expected ReferenceNotFound, got %v", err)
	}
}

func TestApplyIncMaterializesCounterAndLeavesNoOwnRow(t *testing.T) {
	author := mustActor(t, "55")
	set := &change.Change{Actor: author, StartOp: 1, Ops: []change.Op{{Obj: opid.Root, Key: opid.StringKey("n"), Action: change.ActionSet, Value: columnar.CounterValue(5)}}}
	ops, _, err := Apply(nil, ObjectMetaTree{}, set)
	if err != nil {
		t.Fatalf("Apply set: %v", err)
	}
	setID := ops[0].ID

	inc := &change.Change{Actor: author, StartOp: 2, Ops: []change.Op{{Obj: opid.Root, Key: opid.StringKey("n"), Action: change.ActionInc, Value: columnar.IntValue(3), Pred: []opid.ID{setID}}}}
	ops, _, err = Apply(ops, ObjectMetaTree{}, inc)
	if err != nil {
		t.Fatalf("Apply inc: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("inc should not add its own output row, got %d ops", len(ops))
	}
	if !ops[0].Visible() {
		t.Fatal("counter with only inc succs should remain visible")
	}
	if ops[0].Value.Int != 8 {
		t.Fatalf("expected materialized counter value 8, got %d", ops[0].Value.Int)
	}
}

func TestApplyDuplicateOpIdErrors(t *testing.T) {
	author := mustActor(t, "66")
	existing := []block.DocOp{{ID: opid.ID{Counter: 1, Actor: author}, Obj: opid.Root, Key: opid.StringKey("k"), Action: change.ActionSet, Value: columnar.UintValue(1)}}
	chg := &change.Change{Actor: author, StartOp: 1, Ops: []change.Op{{Obj: opid.Root, Key: opid.StringKey("k2"), Action: change.ActionSet, Value: columnar.UintValue(2)}}}
	_, _, err := Apply(existing, ObjectMetaTree{}, chg)
	if !crdterr.IsDuplicateOpId(err) {
		t.Fatalf("expected DuplicateOpId, got %v", err)
	}
}

// TestApplyInsertTieBreakSkipsWinningSiblingsWholeSubtree guards the
// seekInsertPos fix: a later concurrent head-insertion must never land
// wedged between an already-placed winning sibling and that sibling's
// own chained descendant, regardless of application order.
func TestApplyInsertTieBreakSkipsWinningSiblingsWholeSubtree(t *testing.T) {
	a := mustActor(t, "01234567")
	b := mustActor(t, "89abcdef")
	listObj := opid.Obj{ID: opid.ID{Counter: 1, Actor: a}}

	dOp := change.Op{Obj: listObj, Key: opid.HeadKey, Insert: true, Action: change.ActionSet, Value: columnar.StringValue("d")}
	dID := opid.ID{Counter: 2, Actor: a}
	cOp := change.Op{Obj: listObj, Key: opid.HeadKey, Insert: true, Action: change.ActionSet, Value: columnar.StringValue("c")}
	cID := opid.ID{Counter: 3, Actor: a}
	aOp := change.Op{Obj: listObj, Key: opid.HeadKey, Insert: true, Action: change.ActionSet, Value: columnar.StringValue("a")}
	aID := opid.ID{Counter: 3, Actor: b}
	bOp := change.Op{Obj: listObj, Key: opid.ElemKey(aID), Insert: true, Action: change.ActionSet, Value: columnar.StringValue("b")}
	bID := opid.ID{Counter: 4, Actor: b}

	type step struct {
		id opid.ID
		op change.Op
	}
	apply := func(order []step) string {
		var ops []block.DocOp
		for _, step := range order {
			chg := &change.Change{Actor: step.id.Actor, StartOp: step.id.Counter, Ops: []change.Op{step.op}}
			var err error
			ops, _, err = Apply(ops, ObjectMetaTree{}, chg)
			if err != nil {
				t.Fatalf("Apply %s: %v", step.id.String(), err)
			}
		}
		out := ""
		for _, op := range ops {
			if op.Visible() {
				out += op.Value.Str
			}
		}
		return out
	}

	order1 :=[]step{{dID, dOp}, {cID, cOp}, {aID, aOp}, {bID, bOp}}
	order2 := []step{{aID, aOp}, {bID, bOp}, {dID, dOp}, {cID, cOp}}

	got1 := apply(order1)
	got2 := apply(order2)
	if got1 != "abcd" {
		t.Fatalf("order1: expected \"abcd\", got %q", got1)
	}
	if got2 != "abcd" {
		t.Fatalf("order2: expected \"abcd\", got %q", got2)
	}
}
