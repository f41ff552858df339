package columnar

import "crdtdoc/internal/varint"

// DeltaEncoder implements delta-RLE: the column stores the RLE of the
// first differences of a signed integer sequence. Nulls are allowed and
// do not perturb the running sum used by subsequent deltas.
type DeltaEncoder struct {
	e   *runEncoder[int64]
	sum int64
}

// NewDeltaEncoder creates an empty delta-RLE column encoder.
func NewDeltaEncoder() *DeltaEncoder {
	return &DeltaEncoder{e: newRunEncoder[int64](func(buf []byte, v int64) []byte {
		return varint.AppendSvarint(buf, v)
	})}
}

// AppendValue appends the next absolute value in the sequence; the
// encoder tracks the running sum and stores only the delta.
func (e *DeltaEncoder) AppendValue(v int64) {
	e.e.AppendValue(v - e.sum)
	e.sum = v
}

// AppendNull appends a null, leaving the running sum unaffected.
func (e *DeltaEncoder) AppendNull() { e.e.AppendNull() }

// OnlyNulls reports whether every appended entry was null.
func (e *DeltaEncoder) OnlyNulls() bool { return e.e.OnlyNulls() }

// Bytes returns the encoded column.
func (e *DeltaEncoder) Bytes() []byte { return e.e.Finish() }

// DeltaDecoder decodes a delta-RLE column, reconstructing absolute
// values via a running sum.
type DeltaDecoder struct {
	d   *runDecoder[int64]
	sum int64
}

// NewDeltaDecoder creates a decoder bound to buf.
func NewDeltaDecoder(buf []byte) *DeltaDecoder {
	d := &DeltaDecoder{d: newRunDecoder[int64](func(b []byte) (int64, int, error) {
		return varint.Svarint(b)
	})}
	d.d.Reset(buf)
	return d
}

// Reset rebinds the decoder to a new buffer and running sum of zero.
func (d *DeltaDecoder) Reset(buf []byte) {
	d.d.Reset(buf)
	d.sum = 0
}

// Done reports whether the column is exhausted.
func (d *DeltaDecoder) Done() bool { return d.d.Done() }

// ReadValue returns the next absolute value and whether it is null.
// A null does not advance the running sum.
func (d *DeltaDecoder) ReadValue() (int64, bool, error) {
	delta, isNull, err := d.d.ReadValue()
	if err != nil || isNull {
		return 0, isNull, err
	}
	d.sum += delta
	return d.sum, false, nil
}

// Skip discards the next n values, still advancing the running sum for
// any non-null ones.
func (d *DeltaDecoder) Skip(n int) error {
	for i := 0; i < n; i++ {
		if _, _, err := d.ReadValue(); err != nil {
			return err
		}
	}
	return nil
}
