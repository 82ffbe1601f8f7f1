package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/ruvnet/raftbooking/internal/consensus"
)

// PostgresStorage persists PersistentState and the log in two tables,
// keyed by node_id so multiple nodes can share one database during local
// development. It is the opt-in alternative to FileStorage, selected when
// the storage backend setting (StorageConfig.Backend, STORAGE_BACKEND) is
// "postgres".
type PostgresStorage struct {
	db     *sql.DB
	nodeID consensus.NodeID
}

// NewPostgresStorage opens dsn and ensures the consensus_state/consensus_log
// tables exist.
func NewPostgresStorage(dsn string, nodeID consensus.NodeID) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStorage{db: db, nodeID: nodeID}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStorage) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS consensus_state (
			node_id TEXT PRIMARY KEY,
			current_term BIGINT NOT NULL,
			voted_for TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS consensus_log (
			node_id TEXT NOT NULL,
			index BIGINT NOT NULL,
			entry JSONB NOT NULL,
			PRIMARY KEY (node_id, index)
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate consensus tables: %w", err)
	}
	return nil
}

// SaveState upserts this node's current term/votedFor.
func (s *PostgresStorage) SaveState(state consensus.PersistentState) error {
	_, err := s.db.Exec(`
		INSERT INTO consensus_state (node_id, current_term, voted_for)
		VALUES ($1, $2, $3)
		ON CONFLICT (node_id) DO UPDATE SET current_term = $2, voted_for = $3
	`, string(s.nodeID), int64(state.CurrentTerm), string(state.VotedFor))
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// LoadState returns the zero value if this node has never persisted state.
func (s *PostgresStorage) LoadState() (consensus.PersistentState, error) {
	var term int64
	var votedFor string
	err := s.db.QueryRow(`
		SELECT current_term, voted_for FROM consensus_state WHERE node_id = $1
	`, string(s.nodeID)).Scan(&term, &votedFor)
	if err == sql.ErrNoRows {
		return consensus.PersistentState{}, nil
	}
	if err != nil {
		return consensus.PersistentState{}, fmt.Errorf("load state: %w", err)
	}
	return consensus.PersistentState{CurrentTerm: consensus.Term(term), VotedFor: consensus.NodeID(votedFor)}, nil
}

// SaveLog replaces this node's stored log with entries in a single transaction.
func (s *PostgresStorage) SaveLog(entries []*consensus.LogEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM consensus_log WHERE node_id = $1`, string(s.nodeID)); err != nil {
		return fmt.Errorf("clear log: %w", err)
	}

	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry %d: %w", entry.Index, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO consensus_log (node_id, index, entry) VALUES ($1, $2, $3)
		`, string(s.nodeID), int64(entry.Index), data); err != nil {
			return fmt.Errorf("insert entry %d: %w", entry.Index, err)
		}
	}

	return tx.Commit()
}

// LoadLog returns this node's stored log entries ordered by index.
func (s *PostgresStorage) LoadLog() ([]*consensus.LogEntry, error) {
	rows, err := s.db.Query(`
		SELECT entry FROM consensus_log WHERE node_id = $1 ORDER BY index ASC
	`, string(s.nodeID))
	if err != nil {
		return nil, fmt.Errorf("load log: %w", err)
	}
	defer rows.Close()

	var entries []*consensus.LogEntry
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		var entry consensus.LogEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("unmarshal log entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// Close closes the underlying database connection pool.
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
