package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/fsnotify/fsnotify"
)

const addressFileSuffix = "_address.txt"

// FileRegistry publishes one plain-text address file per role in a directory.
// Resolutions are cached while a filesystem watcher is running; any change to
// a role's file drops its cache entry.
type FileRegistry struct {
	dir    string
	opts   options
	logger *slog.Logger

	mu    sync.Mutex
	own   map[domain.Role]domain.AgentIdentity
	cache map[domain.Role]domain.AgentIdentity

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileRegistry creates dir if needed and starts watching it.
// If the watcher cannot be started every Resolve reads the file.
func NewFileRegistry(dir string, logger *slog.Logger, opts ...Option) (*FileRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create address directory: %w", err)
	}

	r := &FileRegistry{
		dir:    dir,
		logger: logger.With("component", "registry"),
		own:    make(map[domain.Role]domain.AgentIdentity),
		cache:  make(map[domain.Role]domain.AgentIdentity),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(&r.opts)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Warn("address watcher unavailable, caching disabled", "error", err)
		return r, nil
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		r.logger.Warn("failed to watch address directory, caching disabled", "dir", dir, "error", err)
		return r, nil
	}
	r.watcher = watcher
	go r.watch()
	return r, nil
}

// Path returns the address file for role.
func (r *FileRegistry) Path(role domain.Role) string {
	return filepath.Join(r.dir, string(role)+addressFileSuffix)
}

func (r *FileRegistry) Register(role domain.Role) (domain.AgentIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.own[role]; ok {
		return id, nil
	}

	id := domain.AgentIdentity{Role: role, Address: newAddress(role, r.opts.advertise)}
	if err := writeFileAtomic(r.Path(role), []byte(id.Address+"\n")); err != nil {
		return domain.AgentIdentity{}, fmt.Errorf("publish %s address: %w", role, err)
	}
	r.own[role] = id
	r.logger.Info("published agent address", "role", role, "address", id.Address, "path", r.Path(role))
	return id, nil
}

func (r *FileRegistry) Resolve(role domain.Role) (domain.AgentIdentity, error) {
	r.mu.Lock()
	if id, ok := r.cache[role]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	data, err := os.ReadFile(r.Path(role))
	if errors.Is(err, fs.ErrNotExist) {
		return domain.AgentIdentity{}, fmt.Errorf("%w: %s (no file at %s)", ErrUnresolvedAddress, role, r.Path(role))
	}
	if err != nil {
		return domain.AgentIdentity{}, fmt.Errorf("read %s address: %w", role, err)
	}
	addr := strings.TrimSpace(string(data))
	if addr == "" {
		return domain.AgentIdentity{}, fmt.Errorf("%w: %s (empty file)", ErrUnresolvedAddress, role)
	}

	id := domain.AgentIdentity{Role: role, Address: addr}
	if r.watcher != nil {
		r.mu.Lock()
		r.cache[role] = id
		r.mu.Unlock()
	}
	return id, nil
}

func (r *FileRegistry) Invalidate(role domain.Role) {
	r.mu.Lock()
	delete(r.cache, role)
	r.mu.Unlock()
}

// Close stops the watcher. Published files are left in place.
func (r *FileRegistry) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.done)
	return r.watcher.Close()
}

func (r *FileRegistry) watch() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			role, ok := roleFromFile(event.Name)
			if !ok {
				continue
			}
			r.Invalidate(role)
			r.logger.Debug("address file changed", "role", role, "op", event.Op.String())
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("address watcher error", "error", err)
		case <-r.done:
			return
		}
	}
}

func roleFromFile(path string) (domain.Role, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, addressFileSuffix) {
		return "", false
	}
	role, err := domain.ParseRole(strings.TrimSuffix(base, addressFileSuffix))
	if err != nil {
		return "", false
	}
	return role, true
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".addr-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
