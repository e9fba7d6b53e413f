// Package fragment consumes the redirect fragment the external identity
// provider appends to the application URL. The fragment is a transient,
// single-use value: it exists until the identifier it carries has been
// exchanged exactly once, after which the visible URL must be purged of it.
package fragment

import (
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// Marker introduces the opaque session identifier inside the fragment.
const Marker = "session_id="

// SessionID extracts the opaque identifier from a redirect fragment.
//
// found reports whether the fragment contains the marker at all; when it
// does, id is the substring between the marker and either the next '&'
// separator or the end of the fragment. A found result with an empty id
// means the redirect was malformed and must not be exchanged.
func SessionID(fragment string) (id string, found bool) {
	fragment = strings.TrimPrefix(fragment, "#")

	idx := strings.Index(fragment, Marker)
	if idx == -1 {
		return "", false
	}

	id = fragment[idx+len(Marker):]
	if amp := strings.IndexByte(id, '&'); amp != -1 {
		id = id[:amp]
	}

	return id, true
}

// Latch guarantees the exchange of an identifier runs exactly once even when
// the hosting page re-submits the fragment, e.g. on a re-mount or a re-played
// completion request. Consumed identifiers age out after the retention
// period; by then the identifier is long expired on the provider side.
type Latch struct {
	consumed *cache.Cache
}

func NewLatch(retention time.Duration) *Latch {
	return &Latch{
		consumed: cache.New(retention, 2*retention),
	}
}

// Consume marks the identifier as used. It returns true on first use and
// false for every subsequent call with the same identifier.
func (l *Latch) Consume(id string) bool {
	return l.consumed.Add(id, struct{}{}, cache.DefaultExpiration) == nil
}
