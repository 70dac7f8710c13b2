package transport

import (
	"net/http"

	"github.com/luizaranda/courier/pkg/transport/internal/httpcache"
)

// XFromCache is the header stamped on responses served from the cache, so
// callers can tell a replay from an origin round trip.
const XFromCache = httpcache.XFromCache

// A Cache interface is used by the Transport to store and retrieve responses.
type Cache interface {
	// Get returns the []byte representation of a cached response and a bool set
	// to true if the value isn't empty.
	Get(key string) (responseBytes []byte, ok bool)
	// Set stores the []byte representation of a response against a key.
	Set(key string, responseBytes []byte)
	// Delete removes the value associated with the key.
	Delete(key string)
}

// CacheDecorator returns a RoundTripDecorator serving repeated requests from
// cache where RFC 7234 allows it: fresh entries short-circuit the exchange
// entirely, stale entries carrying validators are offered to the origin for
// a 304, and unsafe methods invalidate. Replays carry the XFromCache marker.
//
// The client installs this stage inside the redirect stage, so each hop of
// a redirect chain consults the cache for its own target.
func CacheDecorator(cache Cache) RoundTripDecorator {
	return func(base http.RoundTripper) http.RoundTripper {
		return &httpcache.Transport{
			Transport:           base,
			Cache:               cache,
			MarkCachedResponses: true,
		}
	}
}
