// pkg/patch/patch.go
//
// Package patch implements the edit/patch model the merge engine
// produces (spec §4.7 "Edit generation"): map/table conflicts grouped
// under props[key], and coalesced list/text insert / multi-insert /
// update / remove runs. It plays the role the teacher's
// pkg/sql/executor/iterator.go played for streaming row production,
// adapted here to streaming edit coalescing instead of row iteration.
package patch

import "crdtdoc/pkg/opid"

// EditKind discriminates the four list/text edit shapes (spec §4.7).
type EditKind uint8

const (
	EditInsert EditKind = iota
	EditMultiInsert
	EditUpdate
	EditRemove
)

// Edit is one entry in an object's edit list. Only the fields
// relevant to Kind are meaningful.
type Edit struct {
	Kind EditKind

	Index  int
	ElemID opid.ID
	OpID   opid.ID
	Value  any

	// MultiInsert-only: a coalesced run of consecutive single-value
	// insertions by the same actor at consecutive op ids.
	Values []any

	// Remove-only: a coalesced run length.
	Count int
}

// ObjectPatch is the edit view for a single object: a conflict map for
// maps/tables (props[key] -> opId -> value), or an edit array for
// lists/texts.
type ObjectPatch struct {
	Obj   opid.Obj
	Props map[string]map[string]any // keyed by opid.ID.String() -> value
	Edits []Edit
}

// Patch is the full set of per-object edits produced by applying one
// or more changes, keyed by object id. Child-object patches are not
// linked into their parent: a make* op appears in the parent's props
// (or edits) with a nil value.
type Patch struct {
	Objects map[string]*ObjectPatch // keyed by opid.Obj.ID.String()
}

// NewPatch creates an empty patch.
func NewPatch() *Patch {
	return &Patch{Objects: map[string]*ObjectPatch{}}
}

func (p *Patch) objectFor(obj opid.Obj) *ObjectPatch {
	key := obj.ID.String()
	op, ok := p.Objects[key]
	if !ok {
		op = &ObjectPatch{Obj: obj, Props: map[string]map[string]any{}}
		p.Objects[key] = op
	}
	return op
}

// PutProp records a value for a map/table key, adding to the
// conflict set if the key already has a surviving value from a
// different op (spec: "any key with more than one surviving visible
// op is a conflict and all values appear").
func (p *Patch) PutProp(obj opid.Obj, key string, op opid.ID, value any) {
	o := p.objectFor(obj)
	vals, ok := o.Props[key]
	if !ok {
		vals = map[string]any{}
		o.Props[key] = vals
	}
	vals[op.String()] = value
}

// ClearProp records that key now has no surviving value (used when a
// del leaves no surviving op). The key is kept present, mapped to an
// empty conflict set, rather than deleted outright, so a later Merge
// can tell "touched, now empty" apart from "never mentioned".
func (p *Patch) ClearProp(obj opid.Obj, key string) {
	o := p.objectFor(obj)
	o.Props[key] = map[string]any{}
}

// AppendEdit appends e to obj's edit list, coalescing with the last
// edit in place when possible (spec §4.7's append rule):
//   - Insert following Insert/MultiInsert at consecutive index/op-id
//     with the same actor and a primitive value folds into (or starts)
//     a MultiInsert run.
//   - Remove following Remove at the same index coalesces its count.
//   - Otherwise the edit is pushed as a new entry.
func (p *Patch) AppendEdit(obj opid.Obj, e Edit) {
	o := p.objectFor(obj)
	if n := len(o.Edits); n > 0 {
		last := &o.Edits[n-1]
		if merged, ok := coalesce(*last, e); ok {
			*last = merged
			return
		}
	}
	o.Edits = append(o.Edits, e)
}

// Merge combines several patches (e.g. the per-change patches produced
// while draining a batch of applied changes) into one. Each prop key
// is a complete conflict-set snapshot as of the change that last
// touched it (see refreshMapProp in pkg/merge), so a later patch's
// entry for a key replaces rather than unions with an earlier one.
// Edit lists are concatenated in order: each patch's edits already
// describe index positions relative to the document state at the time
// it was produced, so simple concatenation preserves a valid replay
// order.
func Merge(patches ...*Patch) *Patch {
	out := NewPatch()
	for _, p := range patches {
		if p == nil {
			continue
		}
		for key, op := range p.Objects {
			o, ok := out.Objects[key]
			if !ok {
				o = &ObjectPatch{Obj: op.Obj, Props: map[string]map[string]any{}}
				out.Objects[key] = o
			}
			for propKey, vals := range op.Props {
				o.Props[propKey] = vals
			}
			o.Edits = append(o.Edits, op.Edits...)
		}
	}
	return out
}

func coalesce(last, next Edit) (Edit, bool) {
	switch {
	case last.Kind == EditRemove && next.Kind == EditRemove && last.Index == next.Index:
		last.Count += next.Count
		return last, true

	case last.Kind == EditInsert && next.Kind == EditInsert &&
		next.Index == last.Index+1 && next.ElemID.Counter == last.ElemID.Counter+1 &&
		next.ElemID.Actor.String() == last.ElemID.Actor.String() &&
		next.OpID.Actor.String() == last.OpID.Actor.String() &&
		sameValueKind(last.Value, next.Value):
		return Edit{
			Kind:   EditMultiInsert,
			Index:  last.Index,
			ElemID: last.ElemID,
			OpID:   last.OpID,
			Values: []any{last.Value, next.Value},
		}, true

	case last.Kind == EditMultiInsert && next.Kind == EditInsert &&
		next.Index == last.Index+len(last.Values) &&
		next.ElemID.Counter == last.ElemID.Counter+uint64(len(last.Values)) &&
		next.ElemID.Actor.String() == last.ElemID.Actor.String() &&
		sameValueKind(last.Values[0], next.Value):
		last.Values = append(last.Values, next.Value)
		return last, true
	}
	return Edit{}, false
}

func sameValueKind(a, b any) bool {
	switch a.(type) {
	case string:
		_, ok := b.(string)
		return ok
	case int64:
		_, ok := b.(int64)
		return ok
	case uint64:
		_, ok := b.(uint64)
		return ok
	case float64:
		_, ok := b.(float64)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	default:
		return false
	}
}
