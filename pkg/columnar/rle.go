// Package columnar implements the four column codec families from the
// document format: plain RLE (uint/string), delta-RLE, boolean-RLE, and
// raw byte vectors, plus the tagged value encoding layered on top of
// them. See spec §4.1–4.2.
package columnar

import "crdtdoc/internal/varint"

// runEncoder implements the shared RLE run logic (spec §4.1) over a
// generic literal type T: a stream of (count, value) runs, where
// n>0 repeats the next value n times, n<0 introduces -n distinct
// literal values, and n==0 followed by an unsigned k denotes k nulls.
//
// Single distinct values are accumulated into a pending literal batch
// rather than written immediately, so that a run of several different
// values in a row collapses into one literal run instead of many
// trivial (1, value) runs.
type runEncoder[T comparable] struct {
	buf        []byte
	writeValue func(buf []byte, v T) []byte

	pending  []T
	runVal   T
	runLen   int
	haveRun  bool
	nullRun  int
	sawValue bool
}

func newRunEncoder[T comparable](writeValue func([]byte, T) []byte) *runEncoder[T] {
	return &runEncoder[T]{writeValue: writeValue}
}

// AppendValue appends a non-null value to the column.
func (e *runEncoder[T]) AppendValue(v T) {
	e.sawValue = true
	if e.nullRun > 0 {
		e.commitNulls()
	}
	if e.haveRun && v == e.runVal {
		e.runLen++
		return
	}
	e.closeRun()
	e.runVal, e.runLen, e.haveRun = v, 1, true
}

// AppendNull appends a null entry to the column.
func (e *runEncoder[T]) AppendNull() {
	e.closeRun()
	e.commitPending()
	e.nullRun++
}

// OnlyNulls reports whether every value appended so far (if any) was
// null — i.e. whether this column can be omitted from the frame.
func (e *runEncoder[T]) OnlyNulls() bool {
	return !e.sawValue
}

// closeRun finalizes whatever run is currently pending, moving a
// length-1 run into the literal batch and flushing longer runs
// immediately (after first flushing any pending literals, since a real
// repeat run can't be folded into a literal batch).
func (e *runEncoder[T]) closeRun() {
	if !e.haveRun {
		return
	}
	if e.runLen == 1 {
		e.pending = append(e.pending, e.runVal)
	} else {
		e.commitPending()
		e.commitRun(e.runVal, e.runLen)
	}
	e.haveRun = false
}

func (e *runEncoder[T]) commitPending() {
	if len(e.pending) == 0 {
		return
	}
	e.buf = varint.AppendSvarint(e.buf, -int64(len(e.pending)))
	for _, v := range e.pending {
		e.buf = e.writeValue(e.buf, v)
	}
	e.pending = e.pending[:0]
}

func (e *runEncoder[T]) commitRun(v T, n int) {
	e.buf = varint.AppendSvarint(e.buf, int64(n))
	e.buf = e.writeValue(e.buf, v)
}

func (e *runEncoder[T]) commitNulls() {
	e.buf = varint.AppendSvarint(e.buf, 0)
	e.buf = varint.AppendUvarint(e.buf, uint64(e.nullRun))
	e.nullRun = 0
}

// Finish flushes any pending run/literals/nulls and returns the
// encoded column bytes. The encoder must not be used afterward.
func (e *runEncoder[T]) Finish() []byte {
	e.closeRun()
	e.commitPending()
	if e.nullRun > 0 {
		e.commitNulls()
	}
	return e.buf
}

// runMode distinguishes what the decoder is currently emitting values
// from, after reading a run header.
type runMode int

const (
	modeIdle runMode = iota
	modeRepeat
	modeLiteral
	modeNull
)

// runDecoder mirrors runEncoder on the read side.
type runDecoder[T any] struct {
	buf       []byte
	pos       int
	readValue func(buf []byte) (T, int, error)

	mode      runMode
	remaining int
	repeatVal T
}

func newRunDecoder[T any](readValue func([]byte) (T, int, error)) *runDecoder[T] {
	return &runDecoder[T]{readValue: readValue}
}

// Reset points the decoder at a fresh buffer, discarding all state.
func (d *runDecoder[T]) Reset(buf []byte) {
	d.buf = buf
	d.pos = 0
	d.mode = modeIdle
	d.remaining = 0
}

// Done reports whether every value in the column has been consumed.
func (d *runDecoder[T]) Done() bool {
	return d.remaining == 0 && d.pos >= len(d.buf)
}

func (d *runDecoder[T]) loadHeader() error {
	n, m, err := varint.Svarint(d.buf[d.pos:])
	if err != nil {
		return ErrMalformed
	}
	d.pos += m
	switch {
	case n > 0:
		v, vn, err := d.readValue(d.buf[d.pos:])
		if err != nil {
			return ErrMalformed
		}
		d.pos += vn
		d.mode = modeRepeat
		d.remaining = int(n)
		d.repeatVal = v
	case n < 0:
		d.mode = modeLiteral
		d.remaining = int(-n)
	default:
		k, kn, err := varint.Uvarint(d.buf[d.pos:])
		if err != nil {
			return ErrMalformed
		}
		d.pos += kn
		if k == 0 {
			return ErrMalformed
		}
		d.mode = modeNull
		d.remaining = int(k)
	}
	return nil
}

// ReadValue returns the next value in the column, and whether it is
// null.
func (d *runDecoder[T]) ReadValue() (T, bool, error) {
	var zero T
	if d.remaining == 0 {
		if d.pos >= len(d.buf) {
			return zero, false, ErrMalformed
		}
		if err := d.loadHeader(); err != nil {
			return zero, false, err
		}
	}
	switch d.mode {
	case modeRepeat:
		d.remaining--
		return d.repeatVal, false, nil
	case modeLiteral:
		v, vn, err := d.readValue(d.buf[d.pos:])
		if err != nil {
			return zero, false, ErrMalformed
		}
		d.pos += vn
		d.remaining--
		return v, false, nil
	case modeNull:
		d.remaining--
		return zero, true, nil
	default:
		return zero, false, ErrMalformed
	}
}

// Skip discards the next n values without materializing them.
func (d *runDecoder[T]) Skip(n int) error {
	for i := 0; i < n; i++ {
		if _, _, err := d.ReadValue(); err != nil {
			return err
		}
	}
	return nil
}

// --- uint column -----------------------------------------------------

// UintEncoder implements plain RLE over unsigned integers.
type UintEncoder struct{ e *runEncoder[uint64] }

// NewUintEncoder creates an empty unsigned-RLE column encoder.
func NewUintEncoder() *UintEncoder {
	return &UintEncoder{e: newRunEncoder[uint64](func(buf []byte, v uint64) []byte {
		return varint.AppendUvarint(buf, v)
	})}
}

// AppendValue appends a non-null value.
func (e *UintEncoder) AppendValue(v uint64) { e.e.AppendValue(v) }

// AppendNull appends a null.
func (e *UintEncoder) AppendNull() { e.e.AppendNull() }

// OnlyNulls reports whether every appended entry was null.
func (e *UintEncoder) OnlyNulls() bool { return e.e.OnlyNulls() }

// Bytes returns the encoded column, flushing any pending state.
func (e *UintEncoder) Bytes() []byte { return e.e.Finish() }

// UintDecoder decodes a plain RLE unsigned-integer column.
type UintDecoder struct{ d *runDecoder[uint64] }

// NewUintDecoder creates a decoder bound to buf.
func NewUintDecoder(buf []byte) *UintDecoder {
	d := &UintDecoder{d: newRunDecoder[uint64](func(b []byte) (uint64, int, error) {
		return varint.Uvarint(b)
	})}
	d.d.Reset(buf)
	return d
}

// Reset rebinds the decoder to a new buffer.
func (d *UintDecoder) Reset(buf []byte) { d.d.Reset(buf) }

// Done reports whether the column is exhausted.
func (d *UintDecoder) Done() bool { return d.d.Done() }

// ReadValue returns the next value and whether it is null.
func (d *UintDecoder) ReadValue() (uint64, bool, error) { return d.d.ReadValue() }

// Skip discards the next n values.
func (d *UintDecoder) Skip(n int) error { return d.d.Skip(n) }

// --- string column -----------------------------------------------------

// StringEncoder implements plain RLE over length-prefixed UTF-8 strings.
type StringEncoder struct{ e *runEncoder[string] }

// NewStringEncoder creates an empty string-RLE column encoder.
func NewStringEncoder() *StringEncoder {
	return &StringEncoder{e: newRunEncoder[string](func(buf []byte, v string) []byte {
		buf = varint.AppendUvarint(buf, uint64(len(v)))
		return append(buf, v...)
	})}
}

// AppendValue appends a non-null string.
func (e *StringEncoder) AppendValue(v string) { e.e.AppendValue(v) }

// AppendNull appends a null.
func (e *StringEncoder) AppendNull() { e.e.AppendNull() }

// OnlyNulls reports whether every appended entry was null.
func (e *StringEncoder) OnlyNulls() bool { return e.e.OnlyNulls() }

// Bytes returns the encoded column.
func (e *StringEncoder) Bytes() []byte { return e.e.Finish() }

// StringDecoder decodes a plain RLE string column.
type StringDecoder struct{ d *runDecoder[string] }

// NewStringDecoder creates a decoder bound to buf.
func NewStringDecoder(buf []byte) *StringDecoder {
	d := &StringDecoder{d: newRunDecoder[string](func(b []byte) (string, int, error) {
		l, n, err := varint.Uvarint(b)
		if err != nil {
			return "", 0, err
		}
		if uint64(n)+l > uint64(len(b)) {
			return "", 0, ErrMalformed
		}
		return string(b[n : uint64(n)+l]), n + int(l), nil
	})}
	d.d.Reset(buf)
	return d
}

// Reset rebinds the decoder to a new buffer.
func (d *StringDecoder) Reset(buf []byte) { d.d.Reset(buf) }

// Done reports whether the column is exhausted.
func (d *StringDecoder) Done() bool { return d.d.Done() }

// ReadValue returns the next value and whether it is null.
func (d *StringDecoder) ReadValue() (string, bool, error) { return d.d.ReadValue() }

// Skip discards the next n values.
func (d *StringDecoder) Skip(n int) error { return d.d.Skip(n) }
