package columnar

import "errors"

// ErrMalformed is returned whenever a column reader encounters a run
// that would read past the end of the buffer, an invalid RLE marker,
// or any other structurally invalid encoding. Callers generally wrap
// this in a crdterr.Error with Kind MalformedData.
var ErrMalformed = errors.New("columnar: malformed data")
