package ingestion

import "errors"

// ErrMalformedEvent marks payloads that cannot be decoded into an event.
var ErrMalformedEvent = errors.New("malformed event")
