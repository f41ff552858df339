// Package opid defines the identity types that thread through the whole
// document format: actor ids, Lamport op ids, object ids, and the
// per-op key (map/table string key, or list/text elem-id reference).
package opid

import (
	"encoding/hex"
	"errors"
	"sort"
)

// ErrInvalidActor is returned when an actor id string is not valid hex.
var ErrInvalidActor = errors.New("opid: actor id is not valid hex")

// Actor is a replica identifier, stored as its validated hex textual
// form. Index 0 within a change's actor table always
// names the change's author.
type Actor struct {
	hex string
}

// NewActor validates and wraps a hex actor id string.
func NewActor(hexStr string) (Actor, error) {
	if _, err := hex.DecodeString(hexStr); err != nil {
		return Actor{}, ErrInvalidActor
	}
	return Actor{hex: hexStr}, nil
}

// String returns the actor's hex textual form.
func (a Actor) String() string { return a.hex }

// IsZero reports whether a is the zero value (no actor set).
func (a Actor) IsZero() bool { return a.hex == "" }

// Less orders actors lexicographically by their hex string, which is
// equivalent to ordering their decoded bytes since hex preserves order.
func (a Actor) Less(b Actor) bool { return a.hex < b.hex }

// ActorNum is the index of an Actor within a change's interned actor
// table. ActorNum 0 always denotes the change's author.
type ActorNum uint32

// SortActors returns a new slice with the given actors sorted
// lexicographically by hex string.
func SortActors(actors []Actor) []Actor {
	out := make([]Actor, len(actors))
	copy(out, actors)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// ID is a Lamport timestamp (counter, actor) naming a single operation.
// Total order is (counter, actor) lexicographic: ids with a higher
// counter sort higher regardless of actor; ties break on actor.
type ID struct {
	Counter uint64
	Actor   Actor
}

// RootID is the sentinel naming the document's root map. It compares
// less than every real ID.
var RootID = ID{}

// IsRoot reports whether id is the root sentinel.
func (id ID) IsRoot() bool { return id.Counter == 0 && id.Actor.IsZero() }

// Less implements the Lamport total order: (counter, actor) lexicographic.
func (id ID) Less(other ID) bool {
	if id.Counter != other.Counter {
		return id.Counter < other.Counter
	}
	return id.Actor.Less(other.Actor)
}

// Equal reports whether id and other name the same operation.
func (id ID) Equal(other ID) bool {
	return id.Counter == other.Counter && id.Actor.hex == other.Actor.hex
}

// String renders id in "counter@actor" textual form, or "_root".
func (id ID) String() string {
	if id.IsRoot() {
		return "_root"
	}
	return itoa(id.Counter) + "@" + id.Actor.String()
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

// Obj is an object id: either the root sentinel or the ID of the
// make-op that created the object.
type Obj struct {
	ID ID
}

// Root is the document's root map object id.
var Root = Obj{ID: RootID}

// IsRoot reports whether o names the root map.
func (o Obj) IsRoot() bool { return o.ID.IsRoot() }

// Less orders objects by their underlying op id; the root sorts lowest.
func (o Obj) Less(other Obj) bool { return o.ID.Less(other.ID) }

// Equal reports whether o and other name the same object.
func (o Obj) Equal(other Obj) bool { return o.ID.Equal(other.ID) }

// KeyKind distinguishes the three shapes a Key can take.
type KeyKind uint8

const (
	// KeyString is a map/table string key.
	KeyString KeyKind = iota
	// KeyHead is the "_head" sentinel: insert at the start of a list/text.
	KeyHead
	// KeyElem is an elem-id: the op id of a list/text element being
	// referenced (as an insertion point, update target, or delete target).
	KeyElem
)

// Key is a tagged union over the three key shapes a per-op key may take.
type Key struct {
	Kind KeyKind
	Str  string // valid when Kind == KeyString
	Elem ID     // valid when Kind == KeyElem
}

// StringKey constructs a map/table string key.
func StringKey(s string) Key { return Key{Kind: KeyString, Str: s} }

// HeadKey is the "_head" sentinel key.
var HeadKey = Key{Kind: KeyHead}

// ElemKey constructs a key referencing a list/text element by op id.
func ElemKey(id ID) Key { return Key{Kind: KeyElem, Elem: id} }

// IsReserved reports whether a string key begins with the reserved "_"
// prefix (map/table keys beginning with underscore are disallowed for
// user data).
func IsReserved(s string) bool { return len(s) > 0 && s[0] == '_' }

// Less orders keys: string keys compare by UTF-8 byte value (spec's
// open question is resolved in favor of this, see DESIGN.md); _head
// sorts before any elem-id; elem-ids compare by Lamport order.
func (k Key) Less(other Key) bool {
	switch {
	case k.Kind == KeyString && other.Kind == KeyString:
		return k.Str < other.Str
	case k.Kind == KeyHead && other.Kind == KeyElem:
		return true
	case k.Kind == KeyElem && other.Kind == KeyHead:
		return false
	case k.Kind == KeyElem && other.Kind == KeyElem:
		return k.Elem.Less(other.Elem)
	default:
		return k.Kind < other.Kind
	}
}

// Equal reports whether k and other name the same key.
func (k Key) Equal(other Key) bool {
	if k.Kind != other.Kind {
		return false
	}
	switch k.Kind {
	case KeyString:
		return k.Str == other.Str
	case KeyElem:
		return k.Elem.Equal(other.Elem)
	default:
		return true
	}
}

// String renders the key for diagnostics.
func (k Key) String() string {
	switch k.Kind {
	case KeyString:
		return k.Str
	case KeyHead:
		return "_head"
	case KeyElem:
		return k.Elem.String()
	default:
		return "?"
	}
}
