// Package snapshot captures the prior state of resolved targets before a
// sequence mutates them and restores it afterwards.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ringflash/internal/device"
)

// ErrSnapshot wraps snapshot create and restore failures.
var ErrSnapshot = errors.New("snapshot error")

// NamePrefix prefixes every generated snapshot name.
const NamePrefix = "ringflash"

// Snapshotter is the slice of device.Transport the manager needs.
type Snapshotter interface {
	CreateSnapshot(ctx context.Context, name string, targets []string) (device.SnapshotHandle, error)
	Restore(ctx context.Context, handle device.SnapshotHandle) error
}

// Handle is a captured snapshot that can be restored at most once.
type Handle struct {
	device.SnapshotHandle

	once     sync.Once
	restored bool
}

// Restored reports whether Restore has been attempted for this handle.
func (h *Handle) Restored() bool {
	if h == nil {
		return false
	}
	return h.restored
}

// Manager creates and restores snapshots.
type Manager struct {
	s       Snapshotter
	newName func() string
}

// NewManager creates a Manager.
func NewManager(s Snapshotter) *Manager {
	return &Manager{s: s, newName: NewName}
}

// NewName returns a process-unique, time-ordered snapshot name.
func NewName() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s_%s", NamePrefix, id.String())
}

// Capture snapshots exactly ids, in the given order.
func (m *Manager) Capture(ctx context.Context, ids []string) (*Handle, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no targets to capture", ErrSnapshot)
	}

	name := m.newName()
	h, err := m.s.CreateSnapshot(ctx, name, append([]string(nil), ids...))
	if err != nil {
		log.Warn().Err(err).Str("snapshot", name).Msg("Failed to create snapshot")
		return nil, fmt.Errorf("%w: create %s: %v", ErrSnapshot, name, err)
	}

	log.Debug().Str("snapshot", h.Name).Strs("targets", h.Targets).Msg("Snapshot created")
	return &Handle{SnapshotHandle: h}, nil
}

// Restore re-applies h. Only the first call on a handle reaches the
// transport; later calls return nil.
func (m *Manager) Restore(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}

	var err error
	h.once.Do(func() {
		h.restored = true
		if rerr := m.s.Restore(ctx, h.SnapshotHandle); rerr != nil {
			log.Warn().Err(rerr).Str("snapshot", h.Name).Msg("Failed to restore snapshot")
			err = fmt.Errorf("%w: restore %s: %v", ErrSnapshot, h.Name, rerr)
			return
		}
		log.Debug().Str("snapshot", h.Name).Msg("Snapshot restored")
	})
	return err
}
