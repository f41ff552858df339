package columnar

import "crdtdoc/internal/varint"

// BooleanEncoder implements boolean-RLE: alternating run lengths,
// starting with the count of leading false values (which may be zero
// if the column begins with true).
type BooleanEncoder struct {
	buf      []byte
	current  bool
	runLen   int
	started  bool
	sawValue bool
}

// NewBooleanEncoder creates an empty boolean-RLE column encoder.
func NewBooleanEncoder() *BooleanEncoder { return &BooleanEncoder{} }

// AppendValue appends the next boolean in the sequence.
func (e *BooleanEncoder) AppendValue(v bool) {
	e.sawValue = true
	if !e.started {
		e.started = true
		e.current = false
		e.runLen = 0
	}
	if v == e.current {
		e.runLen++
		return
	}
	e.buf = varint.AppendUvarint(e.buf, uint64(e.runLen))
	e.current = v
	e.runLen = 1
}

// OnlyNulls reports true only while no value has been appended:
// boolean-RLE has no null encoding, so a boolean column is only
// omitted when it has zero entries.
func (e *BooleanEncoder) OnlyNulls() bool { return !e.sawValue }

// Bytes returns the encoded column.
func (e *BooleanEncoder) Bytes() []byte {
	if e.started {
		e.buf = varint.AppendUvarint(e.buf, uint64(e.runLen))
		e.started = false
	}
	return e.buf
}

// BooleanDecoder decodes a boolean-RLE column.
type BooleanDecoder struct {
	buf       []byte
	pos       int
	current   bool
	remaining int
	first     bool
}

// NewBooleanDecoder creates a decoder bound to buf.
func NewBooleanDecoder(buf []byte) *BooleanDecoder {
	d := &BooleanDecoder{}
	d.Reset(buf)
	return d
}

// Reset rebinds the decoder to a new buffer.
func (d *BooleanDecoder) Reset(buf []byte) {
	d.buf = buf
	d.pos = 0
	d.current = false
	d.remaining = 0
	d.first = true
}

// Done reports whether the column is exhausted.
func (d *BooleanDecoder) Done() bool {
	return d.remaining == 0 && d.pos >= len(d.buf)
}

func (d *BooleanDecoder) loadRun() error {
	n, m, err := varint.Uvarint(d.buf[d.pos:])
	if err != nil {
		return ErrMalformed
	}
	if n == 0 && !d.first {
		return ErrMalformed
	}
	d.pos += m
	d.remaining = int(n)
	if !d.first {
		d.current = !d.current
	}
	d.first = false
	return nil
}

// ReadValue returns the next boolean value.
func (d *BooleanDecoder) ReadValue() (bool, error) {
	for d.remaining == 0 {
		if d.pos >= len(d.buf) {
			return false, ErrMalformed
		}
		if err := d.loadRun(); err != nil {
			return false, err
		}
	}
	d.remaining--
	return d.current, nil
}

// Skip discards the next n values.
func (d *BooleanDecoder) Skip(n int) error {
	for i := 0; i < n; i++ {
		if _, err := d.ReadValue(); err != nil {
			return err
		}
	}
	return nil
}
