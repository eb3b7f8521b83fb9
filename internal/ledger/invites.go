package ledger

import (
	"fmt"
	"time"

	"github.com/KafClaw/groupforge/internal/task"
)

const dayLayout = "2006-01-02"

// AppendInvite adds one entry to the invite log. A zero Timestamp is filled
// with the current time. The entry's ID is set on return.
func (s *Service) AppendInvite(entry *task.InviteLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	res, err := s.db.Exec(`
		INSERT INTO invite_log (owner_id, group_name, invite_link, status, detail, batch_id, day, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.OwnerID, entry.GroupName, entry.InviteLink, string(entry.Status), entry.Detail,
		entry.BatchID, entry.Timestamp.Local().Format(dayLayout), formatTime(entry.Timestamp))
	if err != nil {
		return fmt.Errorf("append invite: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// InviteFilter narrows ListInvites.
type InviteFilter struct {
	OwnerID string
	Day     string // YYYY-MM-DD local date; empty means all days
	BatchID string
	Limit   int
}

// ListInvites returns entries for an owner in insertion order.
func (s *Service) ListInvites(f InviteFilter) ([]task.InviteLogEntry, error) {
	query := `SELECT id, owner_id, group_name, invite_link, status, detail, batch_id, created_at
		FROM invite_log WHERE owner_id = ?`
	args := []any{f.OwnerID}
	if f.Day != "" {
		query += ` AND day = ?`
		args = append(args, f.Day)
	}
	if f.BatchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, f.BatchID)
	}
	query += ` ORDER BY id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()

	var out []task.InviteLogEntry
	for rows.Next() {
		var e task.InviteLogEntry
		var status, createdAt string
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.GroupName, &e.InviteLink, &status, &e.Detail, &e.BatchID, &createdAt); err != nil {
			return nil, err
		}
		e.Status = task.LogStatus(status)
		e.Timestamp = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListDays returns the days with log entries for an owner, newest first.
func (s *Service) ListDays(ownerID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT day FROM invite_log WHERE owner_id = ? ORDER BY day DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// ValidDay reports whether day is a YYYY-MM-DD date.
func ValidDay(day string) bool {
	_, err := time.Parse(dayLayout, day)
	return err == nil
}
