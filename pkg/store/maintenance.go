package store

import "fmt"

// DeleteBefore cascades a retention sweep: messages first, then
// connections, then HTTP rows, so foreign keys never dangle mid-delete.
func (s *Store) DeleteBefore(timestamp int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM websocket_messages WHERE connection_id IN (
			SELECT id FROM websocket_connections WHERE timestamp < ?
		)`, timestamp); err != nil {
		return classifyWriteError(err)
	}
	if _, err := tx.Exec(`DELETE FROM websocket_connections WHERE timestamp < ?`, timestamp); err != nil {
		return classifyWriteError(err)
	}
	if _, err := tx.Exec(`DELETE FROM http_traffic WHERE timestamp < ?`, timestamp); err != nil {
		return classifyWriteError(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// DeleteRange deletes rows with timestamp in [start, end], the faithful
// two-sided range delete spec.md requires for clear_logs_by_timerange (the
// original implementation's year-2000 degeneracy is intentionally not
// reproduced — see DESIGN.md).
func (s *Store) DeleteRange(start, end int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM websocket_messages WHERE connection_id IN (
			SELECT id FROM websocket_connections WHERE timestamp BETWEEN ? AND ?
		)`, start, end); err != nil {
		return classifyWriteError(err)
	}
	if _, err := tx.Exec(`DELETE FROM websocket_connections WHERE timestamp BETWEEN ? AND ?`, start, end); err != nil {
		return classifyWriteError(err)
	}
	if _, err := tx.Exec(`DELETE FROM http_traffic WHERE timestamp BETWEEN ? AND ?`, start, end); err != nil {
		return classifyWriteError(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// DeleteAll truncates every base table (and, via triggers, their FTS
// shadows). Used by clear_all_logs.
func (s *Store) DeleteAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM websocket_messages`,
		`DELETE FROM websocket_connections`,
		`DELETE FROM http_traffic`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return classifyWriteError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Vacuum compacts database pages.
func (s *Store) Vacuum() error {
	if _, err := s.db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("%w: vacuum: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// RebuildFTS repopulates both virtual tables from their base tables. It is
// the final step of Repair; Open does not call it, so stale FTS content in
// an existing database is not rebuilt on open.
func (s *Store) RebuildFTS() error {
	if _, err := s.db.Exec(`INSERT INTO http_traffic_fts(http_traffic_fts) VALUES ('rebuild')`); err != nil {
		return fmt.Errorf("%w: rebuild http fts: %v", ErrStorageUnavailable, err)
	}
	if _, err := s.db.Exec(`INSERT INTO websocket_traffic_fts(websocket_traffic_fts) VALUES ('rebuild')`); err != nil {
		return fmt.Errorf("%w: rebuild ws fts: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Repair drops and recreates both FTS tables and all six triggers, then
// rebuilds — the recovery path for a malformed FTS shadow or trigger set.
func (s *Store) Repair() error {
	for _, stmt := range dropFTSStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: repair drop: %v", ErrStorageUnavailable, err)
		}
	}
	for _, stmt := range schemaStatements {
		// re-running the base CREATE TABLE statements is a no-op (IF NOT
		// EXISTS); only the two DROPped virtual tables actually get
		// recreated here.
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: repair recreate: %v", ErrStorageUnavailable, err)
		}
	}
	for _, stmt := range triggerStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: repair triggers: %v", ErrStorageUnavailable, err)
		}
	}
	return s.RebuildFTS()
}
