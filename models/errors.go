package models

import "errors"

// ErrMalformed marks a record that fails shape validation. It is shared by
// the fetch adapter, which yields it for unparsable rows, and the
// reconciler, which counts such records as failed.
var ErrMalformed = errors.New("malformed record")
