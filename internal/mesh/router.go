package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrUnroutableRecipient is returned when an envelope has nowhere to go.
// Callers should re-resolve the recipient rather than resend blindly.
var ErrUnroutableRecipient = errors.New("unroutable recipient")

// Forwarder delivers envelopes to agents hosted by another process.
type Forwarder interface {
	Forward(ctx context.Context, endpoint string, env Envelope) error
}

// Tap observes every envelope placed in a local mailbox.
type Tap func(Envelope)

// Router owns the local mailboxes and an optional remote forwarder.
type Router struct {
	mu        sync.RWMutex
	boxes     map[string]*mailbox
	forwarder Forwarder
	taps      []Tap
	logger    *slog.Logger
}

// NewRouter creates a router with no attached agents.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		boxes:  make(map[string]*mailbox),
		logger: logger.With("component", "router"),
	}
}

// SetForwarder enables delivery to addresses with an "@host:port" suffix.
func (r *Router) SetForwarder(f Forwarder) {
	r.mu.Lock()
	r.forwarder = f
	r.mu.Unlock()
}

// AddTap registers an observer. Taps run on the sender's goroutine and must
// not block.
func (r *Router) AddTap(t Tap) {
	r.mu.Lock()
	r.taps = append(r.taps, t)
	r.mu.Unlock()
}

// Send places env in the recipient's mailbox, locally or through the forwarder.
func (r *Router) Send(ctx context.Context, env Envelope) error {
	addr := env.Recipient.Address
	if addr == "" {
		return fmt.Errorf("%w: empty address", ErrUnroutableRecipient)
	}
	if env.Payload == nil {
		return fmt.Errorf("send %s: nil payload", env.ID)
	}

	r.mu.RLock()
	box := r.boxes[addr]
	fwd := r.forwarder
	r.mu.RUnlock()

	if box != nil {
		return r.deliverLocal(box, env)
	}

	endpoint, remote := env.Recipient.Endpoint()
	if !remote || fwd == nil {
		return fmt.Errorf("%w: %s", ErrUnroutableRecipient, addr)
	}
	if err := fwd.Forward(ctx, endpoint, env); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnroutableRecipient, addr, err)
	}
	r.logger.Debug("envelope forwarded", "id", env.ID, "kind", env.Kind(), "endpoint", endpoint)
	return nil
}

// Deliver places a remotely received envelope in a local mailbox. It never
// forwards again.
func (r *Router) Deliver(env Envelope) error {
	r.mu.RLock()
	box := r.boxes[env.Recipient.Address]
	r.mu.RUnlock()
	if box == nil {
		return fmt.Errorf("%w: %s is not hosted here", ErrUnroutableRecipient, env.Recipient.Address)
	}
	return r.deliverLocal(box, env)
}

func (r *Router) deliverLocal(box *mailbox, env Envelope) error {
	if !box.push(env) {
		return fmt.Errorf("%w: %s has stopped", ErrUnroutableRecipient, env.Recipient.Address)
	}

	r.mu.RLock()
	taps := r.taps
	r.mu.RUnlock()
	for _, tap := range taps {
		tap(env)
	}
	return nil
}

// Hosts reports whether address has a local mailbox.
func (r *Router) Hosts(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.boxes[address]
	return ok
}

func (r *Router) attach(address string) *mailbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	if box, ok := r.boxes[address]; ok {
		return box
	}
	box := newMailbox()
	r.boxes[address] = box
	return box
}

func (r *Router) detach(address string) {
	r.mu.Lock()
	box, ok := r.boxes[address]
	delete(r.boxes, address)
	r.mu.Unlock()
	if ok {
		box.close()
	}
}
