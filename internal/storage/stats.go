package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// Statistics aggregates the ideas table. now anchors the seven-day window.
func (s *Store) Statistics(now time.Time) (Stats, error) {
	st := Stats{
		ByCategory: make(map[string]int),
		ByMaturity: make(map[string]int),
	}

	var totalKB float64
	if err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(total_size_kb), 0) FROM ideas`).Scan(&st.Total, &totalKB); err != nil {
		return Stats{}, fmt.Errorf("counting ideas: %w", err)
	}
	st.TotalSizeMB = totalKB / 1024

	if err := s.groupCount("category", st.ByCategory); err != nil {
		return Stats{}, err
	}
	if err := s.groupCount("maturity", st.ByMaturity); err != nil {
		return Stats{}, err
	}

	since := formatTime(now.Add(-7 * 24 * time.Hour))
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ideas WHERE created_at >= ?`, since).Scan(&st.CreatedLastWeek); err != nil {
		return Stats{}, fmt.Errorf("counting recent ideas: %w", err)
	}
	return st, nil
}

// groupCount fills dst with row counts per distinct value of column.
// column is always one of our own identifiers, never user input.
func (s *Store) groupCount(column string, dst map[string]int) error {
	rows, err := s.db.Query(`SELECT ` + column + `, COUNT(*) FROM ideas GROUP BY ` + column)
	if err != nil {
		return fmt.Errorf("grouping by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		dst[key] = n
	}
	return rows.Err()
}

// LogOperation appends an entry to the operation log. details is encoded as
// JSON; nil stores an empty object.
func (s *Store) LogOperation(userID, action, target string, details map[string]any) error {
	payload := "{}"
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("encoding details: %w", err)
		}
		payload = string(b)
	}
	_, err := s.db.Exec(`
		INSERT INTO operations (user_id, action, target, details, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		userID, action, target, payload, formatTime(s.now()),
	)
	return err
}

// RecentOperations returns the newest log entries first.
func (s *Store) RecentOperations(limit int) ([]Operation, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, action, target, details, created_at
		FROM operations ORDER BY id DESC LIMIT ?`, limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var op Operation
		var created string
		if err := rows.Scan(&op.ID, &op.UserID, &op.Action, &op.Target, &op.Details, &created); err != nil {
			return nil, err
		}
		if op.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}
