package models

// Outcome is the result of processing one work item, reported back to the job.
// ItemID is the work item's external id; a job counts each item at most once.
type Outcome struct {
	JobID     string           `json:"job_id"`
	ItemID    string           `json:"item_id"`
	Processed int              `json:"processed"`
	Failed    int              `json:"failed"`
	Imported  []ImportedRecord `json:"imported"`
	Reason    string           `json:"reason,omitempty"`
}

// Succeeded builds a processed outcome. rec is nil when the item was already registered.
func Succeeded(jobID, itemID string, rec *ImportedRecord) Outcome {
	o := Outcome{JobID: jobID, ItemID: itemID, Processed: 1}
	if rec != nil {
		o.Imported = []ImportedRecord{*rec}
	}
	return o
}

// FailedWith builds a failed outcome carrying the failure reason.
func FailedWith(jobID, itemID, reason string) Outcome {
	return Outcome{JobID: jobID, ItemID: itemID, Failed: 1, Reason: reason}
}
