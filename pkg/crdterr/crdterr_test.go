package crdterr

import (
	"errors"
	"testing"
)

func TestKindString(t *testing.T) {
	cases := []struct {
		k    Kind
		want string
	}{
		{MalformedData, "malformed data"},
		{SeqGap, "sequence gap"},
		{UnknownHash, "unknown hash"},
	}
	for _, c := range cases {
		if got := c.k.String(); got != c.want {
			t.Fatalf("Kind(%d).String() = %q, want %q", c.k, got, c.want)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(DanglingPred, "pred 3@abcd not found")
	want := "dangling pred: pred 3@abcd not found"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}

	bare := New(SeqReuse, "")
	if bare.Error() != "sequence reuse" {
		t.Fatalf("Error() = %q, want %q", bare.Error(), "sequence reuse")
	}
}

func TestIsHelpersMatchKind(t *testing.T) {
	err := New(SeqGap, "actor abcd: have 3, want 4")
	if !IsSeqGap(err) {
		t.Fatal("IsSeqGap should match a SeqGap error")
	}
	if IsSeqReuse(err) {
		t.Fatal("IsSeqReuse should not match a SeqGap error")
	}
}

func TestWrapPreservesUnwrap(t *testing.T) {
	inner := errors.New("checksum mismatch")
	err := Wrap(MalformedData, "change body", inner)

	if !IsMalformedData(err) {
		t.Fatal("IsMalformedData should match the wrapping error")
	}
	if !errors.Is(err, inner) {
		t.Fatal("errors.Is should see through to the wrapped cause")
	}
}

func TestIsHelpersIgnoreUnrelatedErrors(t *testing.T) {
	plain := errors.New("some other failure")
	if IsMalformedData(plain) || IsSeqGap(plain) || IsUnknownActor(plain) {
		t.Fatal("Is* helpers must not match a plain error")
	}
}

func TestErrorsAsExtractsKindAndDetail(t *testing.T) {
	err := New(DuplicateOpId, "5@abcd")
	var target *Error
	if !errors.As(err, &target) {
		t.Fatal("errors.As should extract *Error")
	}
	if target.Kind != DuplicateOpId || target.Detail != "5@abcd" {
		t.Fatalf("unexpected target: %+v", target)
	}
}
