package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// LookupGroup returns the external group ID recorded for (owner, groupName).
func (s *Service) LookupGroup(ownerID, groupName string) (string, bool, error) {
	var id string
	err := s.db.QueryRow(
		`SELECT group_id FROM created_groups WHERE owner_id = ? AND group_name = ?`,
		ownerID, groupName,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup group: %w", err)
	}
	return id, true, nil
}

// RecordGroup stores the external group ID for (owner, groupName). An
// existing record is overwritten with the newer ID.
func (s *Service) RecordGroup(ownerID, groupName, groupID, batchID string) error {
	_, err := s.db.Exec(`
		INSERT INTO created_groups (owner_id, group_name, group_id, batch_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, group_name) DO UPDATE SET
			group_id = excluded.group_id,
			batch_id = excluded.batch_id,
			created_at = excluded.created_at
	`, ownerID, groupName, groupID, batchID, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("record group: %w", err)
	}
	return nil
}

// CountGroups returns how many groups the owner has created.
func (s *Service) CountGroups(ownerID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM created_groups WHERE owner_id = ?`, ownerID).Scan(&n)
	return n, err
}

// Snapshot renders the dedup store as a document keyed by owner, each value
// mapping group name to external group ID.
func (s *Service) Snapshot() (map[string]map[string]string, error) {
	rows, err := s.db.Query(`SELECT owner_id, group_name, group_id FROM created_groups ORDER BY owner_id, group_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	doc := map[string]map[string]string{}
	for rows.Next() {
		var owner, name, id string
		if err := rows.Scan(&owner, &name, &id); err != nil {
			return nil, err
		}
		if doc[owner] == nil {
			doc[owner] = map[string]string{}
		}
		doc[owner][name] = id
	}
	return doc, rows.Err()
}

// stateDocument mirrors the legacy state.json layout.
type stateDocument struct {
	CreatedGroups map[string]map[string]string `json:"createdGroups"`
}

// ImportState merges a legacy {"createdGroups": {owner: {group: id}}}
// document into the dedup store in one transaction. Existing records win.
// It returns the number of records added.
func (s *Service) ImportState(r io.Reader) (int, error) {
	var doc stateDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return 0, fmt.Errorf("decode state: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	added := 0
	now := formatTime(s.now())
	for owner, groups := range doc.CreatedGroups {
		owner = strings.TrimSpace(owner)
		if owner == "" {
			continue
		}
		for name, id := range groups {
			res, err := tx.Exec(`
				INSERT INTO created_groups (owner_id, group_name, group_id, batch_id, created_at)
				VALUES (?, ?, ?, '', ?)
				ON CONFLICT(owner_id, group_name) DO NOTHING
			`, owner, name, id, now)
			if err != nil {
				return 0, fmt.Errorf("import %s/%s: %w", owner, name, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				added++
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}
