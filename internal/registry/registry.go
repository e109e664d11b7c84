// Package registry publishes and resolves agent addresses by role.
package registry

import (
	"errors"
	"strings"

	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/google/uuid"
)

// ErrUnresolvedAddress is returned when no address is published for a role.
var ErrUnresolvedAddress = errors.New("unresolved address")

// Registry assigns identities to local agents and resolves peers.
type Registry interface {
	// Register returns the identity for role, creating and publishing it on
	// the first call. Later calls in the same run return the same identity.
	Register(role domain.Role) (domain.AgentIdentity, error)

	// Resolve returns the published identity for role.
	Resolve(role domain.Role) (domain.AgentIdentity, error)

	// Invalidate drops any cached resolution for role.
	Invalidate(role domain.Role)
}

// Option configures a registry.
type Option func(*options)

type options struct {
	advertise string
}

// WithAdvertise appends "@endpoint" to registered addresses so peers in other
// processes can deliver to them.
func WithAdvertise(endpoint string) Option {
	return func(o *options) {
		o.advertise = strings.TrimSpace(endpoint)
	}
}

func newAddress(role domain.Role, advertise string) string {
	addr := string(role) + "-" + uuid.NewString()
	if advertise != "" {
		addr += "@" + advertise
	}
	return addr
}
