package scheduler

import "github.com/KafClaw/groupforge/internal/task"

// Tracker accumulates outcomes for one batch. Skipped tasks count as failed.
type Tracker struct {
	BatchID      string `json:"batchId"`
	OwnerID      string `json:"ownerId"`
	Total        int    `json:"total"`
	Processed    int    `json:"processed"`
	SuccessCount int    `json:"successCount"`
	FailedCount  int    `json:"failedCount"`
}

func newTracker(t *task.Task) *Tracker {
	total := t.BatchTotal
	if total < 1 {
		total = 1
	}
	return &Tracker{BatchID: t.BatchID, OwnerID: t.OwnerID, Total: total}
}

// Record folds one outcome in and reports whether the batch is complete.
func (tr *Tracker) Record(o task.Outcome) bool {
	if tr.Processed >= tr.Total {
		return true
	}
	tr.Processed++
	if o == task.OutcomeSuccess {
		tr.SuccessCount++
	} else {
		tr.FailedCount++
	}
	return tr.Processed == tr.Total
}

func (tr *Tracker) progress(group string, o task.Outcome) task.ProgressPayload {
	return task.ProgressPayload{
		BatchID:      tr.BatchID,
		Current:      tr.Processed,
		Total:        tr.Total,
		SuccessCount: tr.SuccessCount,
		FailedCount:  tr.FailedCount,
		CurrentGroup: group,
		Outcome:      o,
	}
}

func (tr *Tracker) completion() task.CompletePayload {
	return task.CompletePayload{
		BatchID:      tr.BatchID,
		SuccessCount: tr.SuccessCount,
		FailedCount:  tr.FailedCount,
		Total:        tr.Total,
	}
}
