// Package intake turns uploaded CSV files and manual submissions into
// batches of tasks for the scheduler.
package intake

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/KafClaw/groupforge/internal/bus"
	"github.com/KafClaw/groupforge/internal/participants"
	"github.com/KafClaw/groupforge/internal/task"
)

// ErrEmptyUpload is returned for a CSV without a header row.
var ErrEmptyUpload = errors.New("csv has no header row")

// ValidationError rejects one submitted row before it is queued.
type ValidationError struct {
	Row    int    `json:"row"` // 1-based data row; 0 for manual entries
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
	}
	return e.Reason
}

// Batch is the result of building one submission.
type Batch struct {
	BatchID  string             `json:"batchId"`
	OwnerID  string             `json:"ownerId"`
	Rows     int                `json:"rows"`
	Tasks    []*task.Task       `json:"-"`
	Rejected []*ValidationError `json:"rejected,omitempty"`
	Dropped  int                `json:"droppedNumbers"`
}

// Queued returns the number of tasks that will be processed.
func (b *Batch) Queued() int { return len(b.Tasks) }

// Builder builds batches using a participant resolver.
type Builder struct {
	resolver *participants.Resolver
	newID    func() string
}

// NewBuilder creates a Builder.
func NewBuilder(resolver *participants.Resolver) *Builder {
	return &Builder{resolver: resolver, newID: uuid.NewString}
}

// Build classifies rows into tasks for owner. Rows without a group name are
// rejected; rows whose numbers all fail to resolve are still queued and fail
// during processing.
func (b *Builder) Build(owner string, rows []participants.Row) (*Batch, error) {
	if !task.ValidOwnerID(owner) {
		return nil, &ValidationError{Reason: fmt.Sprintf("invalid owner %q", owner)}
	}
	batch := &Batch{BatchID: b.newID(), OwnerID: owner, Rows: len(rows)}
	seen := map[string]int{}

	for i, row := range rows {
		c := b.resolver.Classify(row)
		batch.Dropped += len(c.Dropped)
		if c.GroupName == "" {
			batch.Rejected = append(batch.Rejected, &ValidationError{Row: i + 1, Reason: "missing group name"})
			continue
		}
		if prev, dup := seen[c.GroupName]; dup {
			slog.Warn("Duplicate group name in batch", "owner", owner, "group", c.GroupName, "row", i+1, "first_row", prev)
		} else {
			seen[c.GroupName] = i + 1
		}
		batch.Tasks = append(batch.Tasks, &task.Task{
			OwnerID:      owner,
			GroupName:    c.GroupName,
			Participants: c.Participants,
			InviteOnly:   c.InviteOnly,
			DesiredAdmin: c.DesiredAdmin,
			BatchID:      batch.BatchID,
		})
	}
	for i, t := range batch.Tasks {
		t.Sequence = i + 1
		t.BatchTotal = len(batch.Tasks)
	}
	return batch, nil
}

// ManualRow builds a row from the manual entry form. numbers are direct-add
// participants, contacts are invite-only.
func ManualRow(groupName, numbers, desiredAdmin, contacts string) (participants.Row, error) {
	if strings.TrimSpace(groupName) == "" || strings.TrimSpace(numbers) == "" {
		return nil, &ValidationError{Reason: "group name and numbers are required"}
	}
	return participants.Row{
		{Name: "group name", Value: groupName},
		{Name: "desired admin", Value: desiredAdmin},
		{Name: "participants", Value: numbers},
		{Name: "contact", Value: contacts},
	}, nil
}

// ReadCSV parses an upload. Header names are lowercased and trimmed; blank
// lines are skipped and short records are padded.
func ReadCSV(r io.Reader) ([]participants.Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyUpload
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var rows []participants.Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if blank(rec) {
			continue
		}
		row := make(participants.Row, len(header))
		for i, name := range header {
			row[i].Name = name
			if i < len(rec) {
				row[i].Value = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Enqueuer accepts tasks. *scheduler.Scheduler implements it.
type Enqueuer interface {
	Enqueue(tasks ...*task.Task)
}

// Submit hands the batch to the scheduler. When nothing could be queued it
// publishes the batch's completion itself, since no task will. Completion
// totals count queued tasks only; rejected rows appear in the acknowledgement.
func Submit(q Enqueuer, pub bus.Publisher, b *Batch) {
	slog.Info("Batch submitted", "owner", b.OwnerID, "batch", b.BatchID,
		"rows", b.Rows, "queued", b.Queued(), "rejected", len(b.Rejected))
	if b.Queued() > 0 {
		q.Enqueue(b.Tasks...)
		return
	}
	if pub != nil {
		pub.Publish(b.OwnerID, task.EventComplete, task.CompletePayload{BatchID: b.BatchID})
	}
}
