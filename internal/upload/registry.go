package upload

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// registryEntry pairs a session with its lease counter and, while nobody holds
// it, the key of its armed expiration timer.
type registryEntry struct {
	pending *Pending
	leases  int
	expiry  *expirationKey
}

// Registry maps tokens to in-flight uploads. Its lock only covers bookkeeping;
// file I/O always happens outside of it.
type Registry struct {
	mu          sync.Mutex
	entries     map[uuid.UUID]*registryEntry
	expirations expirationQueue
	ttl         time.Duration
	now         func() time.Time
}

// NewRegistry creates a registry whose idle sessions expire after ttl.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		entries: make(map[uuid.UUID]*registryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Add registers a freshly opened upload with an armed timer and returns its token.
func (r *Registry) Add(name string, size, chunkSize int64, path string, file *os.File) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	token := uuid.New()
	for _, taken := r.entries[token]; taken; _, taken = r.entries[token] {
		token = uuid.New()
	}

	r.entries[token] = &registryEntry{
		pending: newPending(token, name, size, chunkSize, path, file),
		expiry:  r.expirations.Insert(token, r.now().Add(r.ttl)),
	}
	return token
}

// Acquire hands out the session for token and disables its expiration until
// the matching Release. Concurrent acquires of the same token are allowed;
// the session's own lock serialises the actual writes.
func (r *Registry) Acquire(token uuid.UUID) (*Pending, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	r.disarm(entry)
	entry.leases++
	return entry.pending, nil
}

// Release returns a lease. The timer is re-armed only by the release that
// observes a single outstanding lease.
func (r *Registry) Release(token uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[token]
	if !ok {
		// Discarded by a concurrent holder after an I/O failure.
		log.Debug().Str("token", token.String()).Msg("released upload is no longer registered")
		return
	}
	if entry.leases <= 0 || entry.expiry != nil {
		violation("release of upload %s without an outstanding acquire", token)
		return
	}
	if entry.leases == 1 {
		entry.expiry = r.expirations.Insert(token, r.now().Add(r.ttl))
	}
	entry.leases--
}

// Discard removes an acquired session from the registry.
func (r *Registry) Discard(token uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[token]
	if !ok {
		return
	}
	if entry.expiry != nil {
		violation("discard of upload %s with an armed timer", token)
		return
	}
	delete(r.entries, token)
}

// Take acquires and discards the session in one step.
func (r *Registry) Take(token uuid.UUID) (*Pending, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	r.disarm(entry)
	delete(r.entries, token)
	return entry.pending, nil
}

// Expire removes every session whose timer elapsed as of now and returns
// them. The caller is responsible for cancelling them.
func (r *Registry) Expire(now time.Time) []*Pending {
	r.mu.Lock()
	defer r.mu.Unlock()

	tokens := r.expirations.PopExpired(now)
	expired := make([]*Pending, 0, len(tokens))
	for _, token := range tokens {
		entry, ok := r.entries[token]
		if !ok {
			violation("expired upload %s is not registered", token)
			continue
		}
		if entry.leases != 0 {
			violation("upload %s expired with %d outstanding leases", token, entry.leases)
			continue
		}
		delete(r.entries, token)
		expired = append(expired, entry.pending)
	}
	return expired
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// timed reports whether token currently has an armed timer.
func (r *Registry) timed(token uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[token]
	return ok && entry.expiry != nil
}

func (r *Registry) disarm(entry *registryEntry) {
	if entry.expiry != nil {
		r.expirations.Remove(entry.expiry)
		entry.expiry = nil
	}
}

// violation reports a broken acquire/release protocol. zerolog's panic level
// logs the message and then panics.
func violation(format string, args ...any) {
	log.Panic().Msgf(format, args...)
}
