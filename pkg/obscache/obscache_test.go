package obscache

import (
	"testing"

	"crdtdoc/pkg/block"
	"crdtdoc/pkg/change"
	"crdtdoc/pkg/columnar"
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

func TestDecodeCachesOnSecondCallWithSameBytes(t *testing.T) {
	author := mustActor(t, "aa")
	ops := []block.DocOp{
		{ID: opid.ID{Counter: 1, Actor: author}, Obj: opid.Root, Key: opid.StringKey("k"), Action: change.ActionSet, Value: columnar.UintValue(1)},
	}
	actorIdx := map[string]uint64{author.String(): 0}
	buf := block.EncodeCols(ops, actorIdx)

	c, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got1, err := c.Decode(buf, []opid.Actor{author})
	if err != nil {
		t.Fatalf("Decode (miss): %v", err)
	}
	if len(got1) != 1 || got1[0].Value.Uint != 1 {
		t.Fatalf("unexpected decoded ops: %+v", got1)
	}
	if hits, misses := c.Stats(); hits != 0 || misses != 1 {
		t.Fatalf("expected 0 hits / 1 miss, got %d/%d", hits, misses)
	}

	got2, err := c.Decode(buf, []opid.Actor{author})
	if err != nil {
		t.Fatalf("Decode (hit): %v", err)
	}
	if len(got2) != 1 || got2[0].Value.Uint != 1 {
		t.Fatalf("unexpected cached ops: %+v", got2)
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Fatalf("expected 1 hit / 1 miss after second call, got %d/%d", hits, misses)
	}
}

func TestDecodeDifferentBytesAreDifferentEntries(t *testing.T) {
	author := mustActor(t, "bb")
	actorIdx := map[string]uint64{author.String(): 0}
	buf1 := block.EncodeCols([]block.DocOp{
		{ID: opid.ID{Counter: 1, Actor: author}, Obj: opid.Root, Key: opid.StringKey("a"), Action: change.ActionSet, Value: columnar.UintValue(1)},
	}, actorIdx)
	buf2 := block.EncodeCols([]block.DocOp{
		{ID: opid.ID{Counter: 1, Actor: author}, Obj: opid.Root, Key: opid.StringKey("b"), Action: change.ActionSet, Value: columnar.UintValue(2)},
	}, actorIdx)

	c, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Decode(buf1, []opid.Actor{author}); err != nil {
		t.Fatalf("Decode buf1: %v", err)
	}
	if _, err := c.Decode(buf2, []opid.Actor{author}); err != nil {
		t.Fatalf("Decode buf2: %v", err)
	}
	if hits, misses := c.Stats(); hits != 0 || misses != 2 {
		t.Fatalf("expected 2 misses for 2 distinct blocks, got %d hits / %d misses", hits, misses)
	}
}

func TestPurgeClearsCachedEntries(t *testing.T) {
	author := mustActor(t, "cc")
	actorIdx := map[string]uint64{author.String(): 0}
	buf := block.EncodeCols([]block.DocOp{
		{ID: opid.ID{Counter: 1, Actor: author}, Obj: opid.Root, Key: opid.StringKey("k"), Action: change.ActionSet, Value: columnar.UintValue(1)},
	}, actorIdx)

	c, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Decode(buf, []opid.Actor{author}); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	c.Purge()
	if _, err := c.Decode(buf, []opid.Actor{author}); err != nil {
		t.Fatalf("Decode after purge: %v", err)
	}
	if hits, misses := c.Stats(); hits != 0 || misses != 2 {
		t.Fatalf("expected purge to force a second miss, got %d hits / %d misses", hits, misses)
	}
}
