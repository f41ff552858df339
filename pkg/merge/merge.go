// pkg/merge/merge.go
//
// Package merge implements the central merge algorithm (spec §4.7):
// given a change, locate each op's position among the existing
// document ops, link succ back-references into overwritten ops,
// order concurrent ops deterministically, and emit a patch describing
// the effect.
//
// Simplification (recorded in DESIGN.md): Apply operates over the
// store's flattened op list rather than walking block-by-block with
// Bloom-filter-guided skips — the block layer's seek/Bloom machinery
// is implemented and exercised independently (pkg/block, pkg/bloom)
// but the merge engine here favors a single linear scan for clarity.
// Apply does not re-block; block.Split is applied only when blocks are
// built for export (docstore.SaveBlocks).
package merge

import (
	"sort"

	"crdtdoc/pkg/block"
	"crdtdoc/pkg/change"
	"crdtdoc/pkg/columnar"
	"crdtdoc/pkg/crdterr"
	"crdtdoc/pkg/opid"
	"crdtdoc/pkg/patch"
)

// ObjectType enumerates the container kinds a make* op can create.
type ObjectType uint8

const (
	TypeMap ObjectType = iota
	TypeList
	TypeText
	TypeTable
)

// ObjectMeta records a nested object's place in the document tree
// (spec §4.7 "Nested creation").
type ObjectMeta struct {
	ParentObj opid.Obj
	ParentKey opid.Key
	Type      ObjectType
}

// ObjectMetaTree maps an object id (its creating op id, textually) to
// its metadata. The root has no entry.
type ObjectMetaTree map[string]ObjectMeta

func actionType(a change.Action) ObjectType {
	switch a {
	case change.ActionMakeList:
		return TypeList
	case change.ActionMakeText:
		return TypeText
	case change.ActionMakeTable:
		return TypeTable
	default:
		return TypeMap
	}
}

// Apply merges chg's operations into ops (the document's current flat
// op list, in document-op order) and returns the updated op list plus
// the patch describing the effect. objMeta is mutated in place to
// register any objects chg creates.
func Apply(ops []block.DocOp, objMeta ObjectMetaTree, chg *change.Change) ([]block.DocOp, *patch.Patch, error) {
	out := append([]block.DocOp(nil), ops...)
	p := patch.NewPatch()

	for i, op := range chg.Ops {
		id := opid.ID{Counter: chg.StartOp + uint64(i), Actor: chg.Actor}

		for _, existing := range out {
			if existing.ID.Equal(id) {
				return nil, nil, crdterr.New(crdterr.DuplicateOpId, id.String())
			}
		}

		var err error
		out, err = applyOp(out, objMeta, p, chg.Actor, id, op)
		if err != nil {
			return nil, nil, err
		}
	}

	return out, p, nil
}

func applyOp(ops []block.DocOp, objMeta ObjectMetaTree, p *patch.Patch, author opid.Actor, id opid.ID, op change.Op) ([]block.DocOp, error) {
	if op.Insert {
		return applyInsert(ops, objMeta, p, id, op)
	}
	return applyUpdate(ops, objMeta, p, id, op)
}

// applyUpdate handles set/del/inc/make* ops targeting an existing key
// (map/table string key, or an existing list/text element by id).
func applyUpdate(ops []block.DocOp, objMeta ObjectMetaTree, p *patch.Patch, id opid.ID, op change.Op) ([]block.DocOp, error) {
	matched := make(map[string]bool, len(op.Pred))
	insertAfter := -1

	for i := range ops {
		existing := &ops[i]
		for _, pred := range op.Pred {
			if existing.ID.Equal(pred) {
				matched[pred.String()] = true
				existing.Succ = insertSorted(existing.Succ, id)
				if op.Action == change.ActionInc && existing.Value.Tag == columnar.TagCounter {
					existing.Value.Int += op.Value.Int
					if len(existing.Succ) == 1 {
						existing.CounterLive = true
					}
				} else if existing.Action == change.ActionSet && existing.Value.Tag == columnar.TagCounter {
					existing.CounterLive = false
				}
				insertAfter = i
			}
		}
	}

	for _, pred := range op.Pred {
		if !matched[pred.String()] {
			return nil, crdterr.New(crdterr.DanglingPred, pred.String())
		}
	}

	if op.Action == change.ActionDel || op.Action == change.ActionInc {
		switch {
		case op.Action == change.ActionDel && op.Key.Kind == opid.KeyString:
			refreshMapProp(ops, p, op.Obj, op.Key.Str)
		case op.Action == change.ActionDel && op.Key.Kind == opid.KeyElem:
			index := visibleIndex(ops, op.Obj, op.Key.Elem)
			p.AppendEdit(op.Obj, patch.Edit{Kind: patch.EditRemove, Index: index, Count: 1})
		}
		return ops, nil
	}

	newOp := block.DocOp{ID: id, Obj: op.Obj, Key: op.Key, Insert: false, Action: op.Action, Value: op.Value}
	if op.Action.IsMake() {
		objMeta[id.String()] = ObjectMeta{ParentObj: op.Obj, ParentKey: op.Key, Type: actionType(op.Action)}
	}

	if insertAfter >= 0 {
		ops = insertAt(ops, insertAfter+1, newOp)
	} else {
		ops = append(ops, newOp)
	}

	if op.Key.Kind == opid.KeyString {
		refreshMapProp(ops, p, op.Obj, op.Key.Str)
	} else {
		index := visibleIndex(ops, op.Obj, op.Key.Elem)
		p.AppendEdit(op.Obj, patchEdit(patch.EditUpdate, index, op.Key.Elem, id, valueForPatch(op.Value)))
	}
	return ops, nil
}

// applyInsert handles a new list/text element insertion (spec §4.6
// steps 3-4, §4.7 "insert" edit shape).
func applyInsert(ops []block.DocOp, objMeta ObjectMetaTree, p *patch.Patch, id opid.ID, op change.Op) ([]block.DocOp, error) {
	refPos := -1
	if op.Key.Kind == opid.KeyElem {
		for i := range ops {
			if ops[i].ID.Equal(op.Key.Elem) {
				refPos = i
				break
			}
		}
		if refPos == -1 {
			return nil, crdterr.New(crdterr.ReferenceNotFound, op.Key.Elem.String())
		}
	}

	insertPos := seekInsertPos(ops, op.Obj, op.Key, id, refPos+1)

	newOp := block.DocOp{ID: id, Obj: op.Obj, Key: op.Key, Insert: true, Action: op.Action, Value: op.Value}
	if op.Action.IsMake() {
		objMeta[id.String()] = ObjectMeta{ParentObj: op.Obj, ParentKey: op.Key, Type: actionType(op.Action)}
	}
	ops = insertAt(ops, insertPos, newOp)

	index := visibleIndex(ops, op.Obj, id)
	p.AppendEdit(op.Obj, patchEdit(patch.EditInsert, index, id, id, valueForPatch(op.Value)))
	return ops, nil
}

// seekInsertPos implements spec §4.6 step 4: starting just past the
// reference element, skip any existing insertion sharing the same
// parent reference whose op id is greater than id (largest id first).
// A sibling that wins this tie-break carries its whole chained
// subtree with it — anything transitively inserted relative to that
// sibling — so a later concurrent insertion at the shared ancestor
// reference is skipped past the subtree too, rather than landing
// wedged inside an already-resolved sibling's chain.
func seekInsertPos(ops []block.DocOp, obj opid.Obj, refKey opid.Key, id opid.ID, start int) int {
	pos := start
	winners := map[opid.ID]bool{}
	for pos < len(ops) {
		cand := ops[pos]
		if !cand.Insert || !cand.Obj.Equal(obj) {
			break
		}
		if cand.Key.Equal(refKey) {
			if cand.ID.Less(id) {
				break
			}
			winners[cand.ID] = true
			pos++
			continue
		}
		if cand.Key.Kind == opid.KeyElem && winners[cand.Key.Elem] {
			winners[cand.ID] = true
			pos++
			continue
		}
		break
	}
	return pos
}

// refreshMapProp recomputes the conflict set for a map/table key after
// a set, make* or del at that key, rebuilding it from whichever doc ops
// at that key remain visible rather than tracking removal incrementally.
func refreshMapProp(ops []block.DocOp, p *patch.Patch, obj opid.Obj, key string) {
	p.ClearProp(obj, key)
	for _, op := range ops {
		if op.Obj.Equal(obj) && op.Key.Kind == opid.KeyString && op.Key.Str == key && op.Visible() {
			p.PutProp(obj, key, op.ID, valueForPatch(op.Value))
		}
	}
}

func patchEdit(kind patch.EditKind, index int, elemID, opID opid.ID, value any) patch.Edit {
	return patch.Edit{Kind: kind, Index: index, ElemID: elemID, OpID: opID, Value: value}
}

// visibleIndex counts visible, inserted elements of obj preceding
// target (target itself is not counted), i.e. target's list index.
func visibleIndex(ops []block.DocOp, obj opid.Obj, target opid.ID) int {
	idx := 0
	for _, op := range ops {
		if !op.Obj.Equal(obj) || !op.Insert {
			continue
		}
		if op.ID.Equal(target) {
			return idx
		}
		if op.Visible() {
			idx++
		}
	}
	return idx
}

func insertSorted(succ []opid.ID, id opid.ID) []opid.ID {
	out := append([]opid.ID(nil), succ...)
	i := sort.Search(len(out), func(i int) bool { return id.Less(out[i]) })
	out = append(out, opid.ID{})
	copy(out[i+1:], out[i:])
	out[i] = id
	return out
}

func insertAt(ops []block.DocOp, pos int, op block.DocOp) []block.DocOp {
	out := make([]block.DocOp, 0, len(ops)+1)
	out = append(out, ops[:pos]...)
	out = append(out, op)
	out = append(out, ops[pos:]...)
	return out
}

// valueForPatch converts a wire Value into the plain Go value a
// frontend-facing patch carries.
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
