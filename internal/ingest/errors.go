package ingest

import "errors"

// ErrMalformedPayload is returned for a message that does not decode.
var ErrMalformedPayload = errors.New("ingest: malformed payload")
