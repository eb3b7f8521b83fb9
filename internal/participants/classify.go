package participants

import (
	"strings"

	"github.com/KafClaw/groupforge/internal/task"
)

// Column is one named cell of a submitted row. Names are compared
// case-insensitively.
type Column struct {
	Name  string
	Value string
}

// Row is an ordered list of columns, as read from one CSV line or built from
// a manual submission.
type Row []Column

// ColumnKind says how a column's numbers are treated.
type ColumnKind int

const (
	ColumnIgnored ColumnKind = iota
	ColumnGroupName
	ColumnDesiredAdmin
	ColumnInviteOnly
	ColumnDirect
)

// KindOf classifies a column header. Invite-only tags win over direct tags so
// that "contact number" is invite-only.
func KindOf(header string) ColumnKind {
	h := strings.ToLower(strings.TrimSpace(header))
	h = strings.ReplaceAll(h, "_", " ")
	switch h {
	case "group name", "groupname", "group", "name":
		return ColumnGroupName
	}
	if strings.Contains(h, "name") {
		return ColumnIgnored
	}
	if strings.Contains(h, "desired admin") || strings.Contains(h, "group admin") {
		return ColumnDesiredAdmin
	}
	if strings.Contains(h, "contact") || strings.Contains(h, "customer") {
		return ColumnInviteOnly
	}
	for _, tag := range []string{"admin", "member", "participant", "phone", "number"} {
		if strings.Contains(h, tag) {
			return ColumnDirect
		}
	}
	return ColumnIgnored
}

// Classified is the resolved content of one row.
type Classified struct {
	GroupName    string
	Participants []task.Address
	InviteOnly   []task.Address
	DesiredAdmin task.Address
	Dropped      []string // raw numbers that could not be resolved
}

// Classify partitions a row's number columns into deduplicated participants
// and the invite-only subset. A number that also appears in a direct-add
// column is treated as direct-add.
func (r *Resolver) Classify(row Row) Classified {
	var out Classified
	seen := map[task.Address]bool{}
	direct := map[task.Address]bool{}
	var inviteCandidates []task.Address

	add := func(raw string, kind ColumnKind) task.Address {
		addr, ok := r.Resolve(raw)
		if !ok {
			out.Dropped = append(out.Dropped, raw)
			return ""
		}
		if kind == ColumnInviteOnly {
			inviteCandidates = append(inviteCandidates, addr)
		} else {
			direct[addr] = true
		}
		if !seen[addr] {
			seen[addr] = true
			out.Participants = append(out.Participants, addr)
		}
		return addr
	}

	for _, col := range row {
		kind := KindOf(col.Name)
		switch kind {
		case ColumnGroupName:
			if out.GroupName == "" {
				out.GroupName = strings.TrimSpace(col.Value)
			}
		case ColumnDesiredAdmin:
			for _, raw := range SplitNumbers(col.Value) {
				if addr := add(raw, kind); addr != "" && out.DesiredAdmin == "" {
					out.DesiredAdmin = addr
				}
			}
		case ColumnInviteOnly, ColumnDirect:
			for _, raw := range SplitNumbers(col.Value) {
				add(raw, kind)
			}
		}
	}

	flagged := map[task.Address]bool{}
	for _, addr := range inviteCandidates {
		if direct[addr] || flagged[addr] {
			continue
		}
		flagged[addr] = true
		out.InviteOnly = append(out.InviteOnly, addr)
	}
	return out
}
