// Package registry tracks registered chat clients: their identity, the
// transport they are reachable on, and the follow terms they subscribe to.
package registry

import (
	"errors"
	"slices"

	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/samber/lo"
)

var (
	ErrAlreadyRegistered = errors.New("registry: identity already registered")
	ErrTransportInUse    = errors.New("registry: transport already registered")
)

// Registration is a snapshot of one registered client.
type Registration[H comparable] struct {
	Identity      string
	Transport     H
	Subscriptions []string
}

type entry[H comparable] struct {
	transport     H
	subscriptions []string
}

// Registry indexes registrations by identity and by transport handle.
// It is not safe for concurrent use: the owner serializes every call.
type Registry[H comparable] struct {
	byIdentity  map[string]*entry[H]
	byTransport map[H]string
	order       []string
}

// New returns an empty registry.
func New[H comparable]() *Registry[H] {
	return &Registry[H]{
		byIdentity:  make(map[string]*entry[H]),
		byTransport: make(map[H]string),
	}
}

// Add registers identity on transport. The mandatory @identity and @all
// terms are appended when missing and duplicate terms are dropped.
func (r *Registry[H]) Add(identity string, transport H, subscriptions []string) error {
	if _, ok := r.byIdentity[identity]; ok {
		return ErrAlreadyRegistered
	}
	if _, ok := r.byTransport[transport]; ok {
		return ErrTransportInUse
	}

	subs := lo.Uniq(append(slices.Clone(subscriptions),
		protocol.MentionTerm(identity), protocol.BroadcastTerm))

	r.byIdentity[identity] = &entry[H]{transport: transport, subscriptions: subs}
	r.byTransport[transport] = identity
	r.order = append(r.order, identity)
	return nil
}

// Remove deletes identity and returns what was registered.
func (r *Registry[H]) Remove(identity string) (Registration[H], bool) {
	e, ok := r.byIdentity[identity]
	if !ok {
		return Registration[H]{}, false
	}
	delete(r.byIdentity, identity)
	delete(r.byTransport, e.transport)
	r.order = lo.Without(r.order, identity)
	return snapshot(identity, e), true
}

// FindByIdentity looks a registration up by identity.
func (r *Registry[H]) FindByIdentity(identity string) (Registration[H], bool) {
	e, ok := r.byIdentity[identity]
	if !ok {
		return Registration[H]{}, false
	}
	return snapshot(identity, e), true
}

// FindByTransport returns the identity registered on transport.
func (r *Registry[H]) FindByTransport(transport H) (string, bool) {
	identity, ok := r.byTransport[transport]
	return identity, ok
}

// Identities lists registered identities in registration order.
func (r *Registry[H]) Identities() []string {
	return slices.Clone(r.order)
}

// Subscriptions lists the follow terms of identity in insertion order.
func (r *Registry[H]) Subscriptions(identity string) ([]string, bool) {
	e, ok := r.byIdentity[identity]
	if !ok {
		return nil, false
	}
	return slices.Clone(e.subscriptions), true
}

// Follow adds term to identity's subscriptions. It returns false when the
// term is already followed or identity is unknown.
func (r *Registry[H]) Follow(identity, term string) bool {
	e, ok := r.byIdentity[identity]
	if !ok || lo.Contains(e.subscriptions, term) {
		return false
	}
	e.subscriptions = append(e.subscriptions, term)
	return true
}

// Unfollow removes term from identity's subscriptions. It returns false
// when the term is not followed, identity is unknown, or the term is one
// of the mandatory @identity / @all terms.
func (r *Registry[H]) Unfollow(identity, term string) bool {
	e, ok := r.byIdentity[identity]
	if !ok || IsMandatory(identity, term) || !lo.Contains(e.subscriptions, term) {
		return false
	}
	e.subscriptions = lo.Without(e.subscriptions, term)
	return true
}

// Registrations returns every registration in registration order.
func (r *Registry[H]) Registrations() []Registration[H] {
	out := make([]Registration[H], 0, len(r.order))
	for _, identity := range r.order {
		out = append(out, snapshot(identity, r.byIdentity[identity]))
	}
	return out
}

// Len returns the number of registered identities.
func (r *Registry[H]) Len() int {
	return len(r.order)
}

// IsMandatory reports whether term can never be dropped by identity.
func IsMandatory(identity, term string) bool {
	return term == protocol.BroadcastTerm || term == protocol.MentionTerm(identity)
}

func snapshot[H comparable](identity string, e *entry[H]) Registration[H] {
	return Registration[H]{
		Identity:      identity,
		Transport:     e.transport,
		Subscriptions: slices.Clone(e.subscriptions),
	}
}
