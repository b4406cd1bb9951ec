// Package schema implements ringdb's node-local schema manager: keyspace
// and table definitions, the active keyspace a connection has USE'd, a
// monotonic version counter, and JSON persistence to a per-node schema
// file, per spec.md §4.6. Propagating a DDL change to peers and counting
// majority acknowledgement is the coordinator's job (internal/coordinator
// applies a change locally through Manager.CreateKeyspace/CreateTable and
// then propagates it to peers); this package only holds and persists the
// resulting state.
package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/dreamware/ringdb/internal/apperr"
	"github.com/dreamware/ringdb/internal/query"
)

// TableDef is the persisted shape of one table: its column list and key
// structure, independent of any in-memory storage engine.
type TableDef struct {
	Name          string            `json:"name"`
	Columns       []query.ColumnDef `json:"columns"`
	PartitionKey  []string          `json:"partition_key"`
	ClusteringKey []string          `json:"clustering_key"`
}

// KeyspaceDef is the persisted shape of one keyspace: its replication
// factor and the tables declared within it.
type KeyspaceDef struct {
	Name              string              `json:"name"`
	ReplicationFactor int                 `json:"replication_factor"`
	Tables            map[string]TableDef `json:"tables"`
}

// snapshot is the on-disk JSON document written to schema.json after
// every successful DDL change.
type snapshot struct {
	Version   uint64                 `json:"version"`
	Keyspaces map[string]KeyspaceDef `json:"keyspaces"`
}

// Manager holds the full schema state for one node: every known
// keyspace, the active keyspace for USE resolution, and a version
// counter incremented on every mutation. It is safe for concurrent use.
type Manager struct {
	mu         sync.RWMutex
	keyspaces  map[string]*KeyspaceDef
	version    uint64
	schemaPath string
}

// New constructs an empty Manager whose schema file lives at
// <dataDir>/schema.json, matching the original's "per-node schema JSON"
// persisted-state layout.
func New(dataDir string) *Manager {
	return &Manager{
		keyspaces:  make(map[string]*KeyspaceDef),
		schemaPath: filepath.Join(dataDir, "schema.json"),
	}
}

// Version returns the current schema version.
func (m *Manager) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// KeyspaceNames returns every registered keyspace name, used by the
// coordinator when it needs to walk the full schema for a
// topology-change rebalance.
func (m *Manager) KeyspaceNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.keyspaces))
	for name := range m.keyspaces {
		names = append(names, name)
	}
	return names
}

// Keyspace looks up a keyspace by name.
func (m *Manager) Keyspace(name string) (*KeyspaceDef, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ks, ok := m.keyspaces[name]
	return ks, ok
}

// Table looks up a table within a keyspace.
func (m *Manager) Table(keyspace, table string) (*TableDef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ks, ok := m.keyspaces[keyspace]
	if !ok {
		return nil, apperr.Newf(apperr.KindSchema, "unknown keyspace %q", keyspace)
	}
	t, ok := ks.Tables[table]
	if !ok {
		return nil, apperr.Newf(apperr.KindSchema, "unknown table %q.%q", keyspace, table)
	}
	return &t, nil
}

// CreateKeyspace registers a new keyspace, rejecting a duplicate name,
// bumps the version, and persists the new snapshot to disk.
func (m *Manager) CreateKeyspace(name string, replicationFactor int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keyspaces[name]; exists {
		return apperr.Newf(apperr.KindSchema, "keyspace %q already exists", name)
	}
	m.keyspaces[name] = &KeyspaceDef{
		Name:              name,
		ReplicationFactor: replicationFactor,
		Tables:            make(map[string]TableDef),
	}
	return m.commitLocked()
}

// CreateTable registers a new table within an existing keyspace.
func (m *Manager) CreateTable(keyspace string, def TableDef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ks, ok := m.keyspaces[keyspace]
	if !ok {
		return apperr.Newf(apperr.KindSchema, "unknown keyspace %q", keyspace)
	}
	if _, exists := ks.Tables[def.Name]; exists {
		return apperr.Newf(apperr.KindSchema, "table %q.%q already exists", keyspace, def.Name)
	}
	ks.Tables[def.Name] = def
	return m.commitLocked()
}

// commitLocked increments the version and persists the schema. Callers
// must already hold m.mu.
func (m *Manager) commitLocked() error {
	m.version++
	return m.persistLocked()
}

func (m *Manager) persistLocked() error {
	snap := snapshot{Version: m.version, Keyspaces: make(map[string]KeyspaceDef, len(m.keyspaces))}
	for name, ks := range m.keyspaces {
		snap.Keyspaces[name] = *ks
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindSchema, err, "marshal schema snapshot")
	}
	if err := os.WriteFile(m.schemaPath, data, 0o644); err != nil {
		return apperr.Wrap(apperr.KindSchema, err, "write schema file")
	}
	return nil
}

// Load reads the schema file at dataDir/schema.json if present,
// replacing the Manager's in-memory state. A missing file is not an
// error: a freshly started node simply has no schema yet.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.schemaPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.KindSchema, err, "read schema file")
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return apperr.Wrap(apperr.KindSchema, err, "parse schema file")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.version = snap.Version
	m.keyspaces = make(map[string]*KeyspaceDef, len(snap.Keyspaces))
	for name, ks := range snap.Keyspaces {
		ksCopy := ks
		m.keyspaces[name] = &ksCopy
	}
	return nil
}

// Quorum returns the number of Confirmation replies required to accept a
// schema change across n neighbours: ceil(n/2).
func Quorum(neighbours int) int {
	return (neighbours + 1) / 2
}

// Session tracks one client connection's active keyspace, set by USE.
// It starts nullable; DDL and DML that reference a bare table name fail
// until a keyspace has been selected, per spec.md §4.6.
type Session struct {
	active string
}

// Use validates that keyspace exists in m and, if so, selects it.
func (m *Manager) Use(sess *Session, keyspace string) error {
	if _, ok := m.Keyspace(keyspace); !ok {
		return apperr.Newf(apperr.KindSchema, "unknown keyspace %q", keyspace)
	}
	sess.active = keyspace
	return nil
}

// Active returns the session's currently selected keyspace, or "" if
// none has been set yet.
func (s *Session) Active() string {
	return s.active
}
