package receiptstore

import "errors"

// ErrNotFound is returned by Get when no receipt with the requested id
// exists within the bounded search window.
var ErrNotFound = errors.New("receiptstore: not found")
