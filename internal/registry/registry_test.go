package registry

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRegistryRegisterIsIdempotent(t *testing.T) {
	reg, err := NewFileRegistry(t.TempDir(), nil)
	require.NoError(t, err)
	defer func() { _ = reg.Close() }()

	first, err := reg.Register(domain.RoleTutor)
	require.NoError(t, err)
	second, err := reg.Register(domain.RoleTutor)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first.Address, "tutor-"))

	data, err := os.ReadFile(reg.Path(domain.RoleTutor))
	require.NoError(t, err)
	assert.Equal(t, first.Address, strings.TrimSpace(string(data)))
}

func TestFileRegistryResolveFromPeer(t *testing.T) {
	dir := t.TempDir()
	owner, err := NewFileRegistry(dir, nil, WithAdvertise("127.0.0.1:7001"))
	require.NoError(t, err)
	defer func() { _ = owner.Close() }()
	peer, err := NewFileRegistry(dir, nil)
	require.NoError(t, err)
	defer func() { _ = peer.Close() }()

	_, err = peer.Resolve(domain.RoleKnowledge)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvedAddress))

	published, err := owner.Register(domain.RoleKnowledge)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(published.Address, "@127.0.0.1:7001"))

	resolved, err := peer.Resolve(domain.RoleKnowledge)
	require.NoError(t, err)
	assert.Equal(t, published, resolved)
}

func TestFileRegistryPicksUpRestartedPeer(t *testing.T) {
	dir := t.TempDir()
	peer, err := NewFileRegistry(dir, nil)
	require.NoError(t, err)
	defer func() { _ = peer.Close() }()

	before, err := NewFileRegistry(dir, nil)
	require.NoError(t, err)
	old, err := before.Register(domain.RoleTutor)
	require.NoError(t, err)
	_ = before.Close()

	got, err := peer.Resolve(domain.RoleTutor)
	require.NoError(t, err)
	require.Equal(t, old.Address, got.Address)

	after, err := NewFileRegistry(dir, nil)
	require.NoError(t, err)
	defer func() { _ = after.Close() }()
	fresh, err := after.Register(domain.RoleTutor)
	require.NoError(t, err)
	require.NotEqual(t, old.Address, fresh.Address)

	require.Eventually(t, func() bool {
		peer.Invalidate(domain.RoleTutor)
		got, err := peer.Resolve(domain.RoleTutor)
		return err == nil && got.Address == fresh.Address
	}, 2*time.Second, 20*time.Millisecond)
}

func TestFileRegistryEmptyFileIsUnresolved(t *testing.T) {
	reg, err := NewFileRegistry(t.TempDir(), nil)
	require.NoError(t, err)
	defer func() { _ = reg.Close() }()

	require.NoError(t, os.WriteFile(reg.Path(domain.RoleAIAssessment), []byte("  \n"), 0o644))
	_, err = reg.Resolve(domain.RoleAIAssessment)
	assert.True(t, errors.Is(err, ErrUnresolvedAddress))
}

func TestRoleFromFile(t *testing.T) {
	role, ok := roleFromFile("/tmp/x/ai_assessment_address.txt")
	assert.True(t, ok)
	assert.Equal(t, domain.RoleAIAssessment, role)

	_, ok = roleFromFile("/tmp/x/.addr-1234")
	assert.False(t, ok)
}

func TestMemoryRegistry(t *testing.T) {
	reg := NewMemoryRegistry()

	_, err := reg.Resolve(domain.RoleStudent)
	assert.True(t, errors.Is(err, ErrUnresolvedAddress))

	id, err := reg.Register(domain.RoleStudent)
	require.NoError(t, err)
	again, err := reg.Register(domain.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	resolved, err := reg.Resolve(domain.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, id, resolved)

	reg.Publish(domain.AgentIdentity{Role: domain.RoleStudent, Address: "student-remote@10.0.0.2:7004"})
	resolved, err = reg.Resolve(domain.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, "student-remote@10.0.0.2:7004", resolved.Address)
}
