package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/mimitask/internal/model"
	"github.com/dukerupert/mimitask/internal/store"
)

// DefaultRetentionDays is used by Cleanup when no retention is configured.
const DefaultRetentionDays = 30

var (
	ErrDisabled = errors.New("backup not configured")
	ErrNotFound = errors.New("backup not found")
)

// Snapshots is the local store surface a backup reads from and restores
// into.
type Snapshots interface {
	Export() ([]byte, error)
	Import(data []byte) error
}

// State represents the backup manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// StatusCallback is called whenever the backup state changes.
type StatusCallback func(Status)

// Manager writes passphrase-encrypted snapshot archives to a Sink and keeps
// a record of each one.
type Manager struct {
	mu       sync.RWMutex
	status   Status
	callback StatusCallback

	snaps   Snapshots
	records *store.BackupStore
	sink    Sink
	now     func() time.Time
	logger  *slog.Logger
}

// NewManager creates a manager. A nil sink leaves it disabled.
func NewManager(snaps Snapshots, records *store.BackupStore, sink Sink, logger *slog.Logger) *Manager {
	m := &Manager{
		snaps:   snaps,
		records: records,
		sink:    sink,
		now:     time.Now,
		logger:  logger.With("component", "backup"),
		status:  Status{State: StateDisabled},
	}
	if sink != nil {
		m.status.State = StateIdle
	}
	return m
}

// OnStatus registers the status callback.
func (m *Manager) OnStatus(cb StatusCallback) {
	m.mu.Lock()
	m.callback = cb
	m.mu.Unlock()
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	cb := m.callback
	m.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

func (m *Manager) fail(id int64, err error) {
	if uerr := m.records.UpdateStatus(id, model.BackupStatusFailed, err.Error()); uerr != nil {
		m.logger.Warn("record backup failure", "id", id, "error", uerr)
	}
	m.setStatus(Status{State: StateError, Error: err.Error()})
}

func ownerKey(coupleCode string) string {
	if coupleCode == "" {
		return "local"
	}
	return coupleCode
}

// Create exports the current snapshot, encrypts it with passphrase and
// uploads it. The record tracks the outcome either way.
func (m *Manager) Create(ctx context.Context, coupleCode, passphrase string) (*model.Backup, error) {
	if m.sink == nil {
		return nil, ErrDisabled
	}
	if passphrase == "" {
		return nil, fmt.Errorf("backup passphrase required")
	}
	m.setStatus(Status{State: StateRunning})

	owner := ownerKey(coupleCode)
	filename := fmt.Sprintf("snapshot-%s.json.enc", m.now().UTC().Format("2006-01-02T150405.000Z"))
	key := owner + "/" + filename

	record, err := m.records.Create(owner, filename, key)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return nil, fmt.Errorf("create backup record: %w", err)
	}

	data, err := m.snaps.Export()
	if err != nil {
		m.fail(record.ID, err)
		return nil, fmt.Errorf("export: %w", err)
	}
	archive, err := Seal(data, passphrase)
	if err != nil {
		m.fail(record.ID, err)
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	if err := m.records.UpdateStatus(record.ID, model.BackupStatusUploading, ""); err != nil {
		m.logger.Warn("record backup upload", "id", record.ID, "error", err)
	}
	if err := m.sink.Put(ctx, key, archive); err != nil {
		m.fail(record.ID, err)
		return nil, fmt.Errorf("upload: %w", err)
	}
	if err := m.records.UpdateCompleted(record.ID, int64(len(archive))); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	m.setStatus(Status{State: StateIdle, LastBackup: &now})
	m.logger.Info("backup created", "id", record.ID, "key", key, "bytes", len(archive))

	done, err := m.records.GetByID(record.ID)
	if err != nil {
		return nil, err
	}
	return done, nil
}

// List returns the newest backups of a couple first.
func (m *Manager) List(coupleCode string, limit int) ([]model.Backup, error) {
	return m.records.List(ownerKey(coupleCode), limit)
}

// Restore downloads and decrypts a completed backup and imports it into
// the local store, replacing the current snapshot.
func (m *Manager) Restore(ctx context.Context, id int64, passphrase string) error {
	if m.sink == nil {
		return ErrDisabled
	}
	record, err := m.records.GetByID(id)
	if err != nil {
		return fmt.Errorf("get backup: %w", err)
	}
	if record == nil || record.Status != model.BackupStatusCompleted {
		return ErrNotFound
	}

	archive, err := m.sink.Get(ctx, record.ObjectKey)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	data, err := Open(archive, passphrase)
	if err != nil {
		return err
	}
	if err := m.snaps.Import(data); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	m.logger.Info("backup restored", "id", id)
	return nil
}

// Cleanup deletes backups older than the retention period. Remote objects
// that fail to delete are logged and left behind.
func (m *Manager) Cleanup(ctx context.Context, coupleCode string, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	before := m.now().UTC().AddDate(0, 0, -retentionDays)
	keys, err := m.records.DeleteOlderThan(ownerKey(coupleCode), before)
	if err != nil {
		return 0, fmt.Errorf("delete old backups: %w", err)
	}
	if m.sink == nil {
		return len(keys), nil
	}
	for _, key := range keys {
		if err := m.sink.Delete(ctx, key); err != nil {
			m.logger.Warn("delete backup object", "key", key, "error", err)
		}
	}
	return len(keys), nil
}
