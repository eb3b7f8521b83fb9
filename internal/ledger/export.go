package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

var exportHeader = []string{"Timestamp", "Group Name", "Invite Link", "Status", "Detail", "Batch ID"}

// ExportFilename is the download name for an owner's log of one day.
func ExportFilename(ownerID, day string) string {
	return fmt.Sprintf("group_invite_log_%s_%s.csv", ownerID, day)
}

// ExportDay writes an owner's invite log for one day as CSV. It returns the
// number of entries written.
func (s *Service) ExportDay(w io.Writer, ownerID, day string) (int, error) {
	entries, err := s.ListInvites(InviteFilter{OwnerID: ownerID, Day: day})
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, err
	}
	for _, e := range entries {
		rec := []string{
			e.Timestamp.Local().Format(time.DateTime),
			e.GroupName,
			e.InviteLink,
			string(e.Status),
			e.Detail,
			e.BatchID,
		}
		if err := cw.Write(rec); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("export csv: %w", err)
	}
	return len(entries), nil
}
