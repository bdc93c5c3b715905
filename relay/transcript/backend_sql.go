package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLBackend stores one row per turn in the transcript_turns table created by
// the db package migrations. It works with both the libsql and sqlite drivers.
type SQLBackend struct {
	db     *sql.DB
	source string
}

// NewSQLBackend creates a SQL backend over an already migrated database.
func NewSQLBackend(db *sql.DB, source string) *SQLBackend {
	return &SQLBackend{
		db:     db,
		source: source,
	}
}

// Load reads every turn ordered by user and sequence.
func (s *SQLBackend) Load(ctx context.Context) (Snapshot, error) {
	query := `
		SELECT user_id, role, content FROM transcript_turns
		ORDER BY user_id, seq
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	snapshot := make(Snapshot)
	for rows.Next() {
		var userID, role, content string
		if err := rows.Scan(&userID, &role, &content); err != nil {
			return nil, &PersistenceError{Source: s.source, Err: fmt.Errorf("failed to scan turn: %w", err)}
		}
		turn := Turn{Role: Role(role), Content: content}
		if !turn.Role.Valid() {
			return nil, &PersistenceError{Source: s.source, Err: fmt.Errorf("user %s has invalid role %q", userID, role)}
		}
		snapshot[userID] = append(snapshot[userID], turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	return snapshot, nil
}

// Save replaces every stored turn with the snapshot in one transaction.
func (s *SQLBackend) Save(ctx context.Context, snapshot Snapshot) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_turns`); err != nil {
			return fmt.Errorf("failed to clear turns: %w", err)
		}
		for userID, t := range snapshot {
			if err := insertTurns(ctx, tx, userID, 0, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveUser persists only the turns of userID that are not stored yet. When
// the stored rows are not a prefix of t (a reset, or a commit that failed
// earlier) the user's rows are rewritten from t.
func (s *SQLBackend) SaveUser(ctx context.Context, userID string, t Transcript) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stored, err := storedTurns(ctx, tx, userID)
		if err != nil {
			return err
		}

		if !isPrefix(stored, t) {
			if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_turns WHERE user_id = ?`, userID); err != nil {
				return fmt.Errorf("failed to delete turns: %w", err)
			}
			stored = nil
		}

		return insertTurns(ctx, tx, userID, len(stored), t[len(stored):])
	})
}

func storedTurns(ctx context.Context, tx *sql.Tx, userID string) (Transcript, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT role, content FROM transcript_turns WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}
	defer rows.Close()

	var t Transcript
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		t = append(t, Turn{Role: Role(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}
	return t, nil
}

func isPrefix(prefix, t Transcript) bool {
	if len(prefix) > len(t) {
		return false
	}
	for i := range prefix {
		if prefix[i] != t[i] {
			return false
		}
	}
	return true
}

// Close closes the underlying database.
func (s *SQLBackend) Close() error {
	return s.db.Close()
}

func insertTurns(ctx context.Context, tx *sql.Tx, userID string, firstSeq int, turns Transcript) error {
	if len(turns) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transcript_turns (user_id, seq, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for i, turn := range turns {
		if _, err := stmt.ExecContext(ctx, userID, firstSeq+i, string(turn.Role), turn.Content, now); err != nil {
			return fmt.Errorf("failed to save turn: %w", err)
		}
	}
	return nil
}

func (s *SQLBackend) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("transaction failed and rollback failed: %v (original error: %w)", rollbackErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ensure SQLBackend implements the UserBackend interface.
var _ UserBackend = (*SQLBackend)(nil)
