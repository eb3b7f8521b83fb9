package doctor

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
)

// CheckStatus represents the result of a diagnostic check.
type CheckStatus string

const (
	OK   CheckStatus = "OK"
	WARN CheckStatus = "WARN"
	FAIL CheckStatus = "FAIL"
	SKIP CheckStatus = "SKIP"
)

// Layer groups checks in the summary.
type Layer string

const (
	Storage Layer = "Storage"
	Session Layer = "Session"
	L3      Layer = "L3-Network"
	L4      Layer = "L4-TCP"
	L7      Layer = "L7-Protocol"
)

// Row is a single diagnostic check result.
type Row struct {
	Component string      `json:"component"`
	Target    string      `json:"target"`
	Layer     Layer       `json:"layer"`
	Status    CheckStatus `json:"status"`
	Detail    string      `json:"detail"`
	Hint      string      `json:"hint,omitempty"`
}

// CheckStats counts results per layer.
type CheckStats struct {
	OK   int `json:"ok"`
	WARN int `json:"warn"`
	FAIL int `json:"fail"`
	SKIP int `json:"skip"`
}

// Report collects all diagnostic results.
type Report struct {
	Rows       []Row                 `json:"rows"`
	Summary    map[string]CheckStats `json:"summary"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	HasFailed  bool                  `json:"-"`
}

func (r *Report) add(row Row) {
	if row.Status == FAIL {
		r.HasFailed = true
	}
	r.Rows = append(r.Rows, row)
}

func (r *Report) summarize() {
	r.Summary = map[string]CheckStats{}
	for _, row := range r.Rows {
		cs := r.Summary[string(row.Layer)]
		switch row.Status {
		case OK:
			cs.OK++
		case WARN:
			cs.WARN++
		case FAIL:
			cs.FAIL++
		case SKIP:
			cs.SKIP++
		}
		r.Summary[string(row.Layer)] = cs
	}
}

// Count returns the number of rows for component with the given status.
func (r *Report) Count(component string, status CheckStatus) int {
	n := 0
	for _, row := range r.Rows {
		if row.Component == component && row.Status == status {
			n++
		}
	}
	return n
}

// PrintPretty writes a colored table of the report.
func PrintPretty(w io.Writer, r *Report) {
	fmt.Fprintf(w, "\nGroupForge Health Report  (%s -> %s)\n",
		r.StartedAt.Format(time.RFC3339), r.FinishedAt.Format(time.RFC3339))
	fmt.Fprintln(w, strings.Repeat("-", 92))
	fmt.Fprintf(w, "%-5s %-10s %-28s %-12s %s\n", " ", "Component", "Target", "Layer", "Detail")
	fmt.Fprintln(w, strings.Repeat("-", 92))

	for _, row := range r.Rows {
		paint := fmt.Sprint
		switch row.Status {
		case OK:
			paint = color.New(color.FgGreen).Sprint
		case WARN:
			paint = color.New(color.FgYellow).Sprint
		case FAIL:
			paint = color.New(color.FgRed).Sprint
		}
		fmt.Fprintln(w, paint(fmt.Sprintf("%-5s %-10s %-28s %-12s %s",
			row.Status, row.Component, truncate(row.Target, 28), row.Layer, row.Detail)))
		if row.Hint != "" && row.Status != OK {
			fmt.Fprintf(w, "  %s\n", color.YellowString("-> Hint: %s", row.Hint))
		}
	}
	fmt.Fprintln(w, strings.Repeat("-", 92))

	layers := make([]string, 0, len(r.Summary))
	for layer := range r.Summary {
		layers = append(layers, layer)
	}
	sort.Strings(layers)
	for _, layer := range layers {
		s := r.Summary[layer]
		fmt.Fprintf(w, "%-12s  OK:%d  WARN:%d  FAIL:%d  SKIP:%d\n", layer, s.OK, s.WARN, s.FAIL, s.SKIP)
	}
	fmt.Fprintln(w)
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
