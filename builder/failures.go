package builder

// FailureStage names the phase of field handling a failure belongs to, so an
// offline retry pass knows how much work to redo.
type FailureStage string

const (
	StageAdd        FailureStage = "add"
	StageConfigure  FailureStage = "configure"
	StageProperties FailureStage = "properties"
	StageUnknown    FailureStage = "unknown"
)

// FailureRecord captures everything needed to retry or explain one failed
// field. Records accumulate on the BuildContext during a pass and are drained
// into the failures report or fed to a retry pass afterwards.
type FailureRecord struct {
	ActivityCode string         `json:"activity_code,omitempty"`
	Stage        FailureStage   `json:"stage"`
	Reason       string         `json:"reason"`
	Class        string         `json:"class"`
	Retryable    bool           `json:"retryable"`
	Kind         string         `json:"kind"`
	FieldKey     string         `json:"field_key,omitempty"`
	Title        string         `json:"title,omitempty"`
	SeqIndex     int            `json:"seq_index"`
	SectionID    string         `json:"section_id,omitempty"`
	SectionTitle string         `json:"section_title,omitempty"`
	SectionIndex int            `json:"section_index"`
	AnchorID     string         `json:"anchor_id,omitempty"`
	FieldID      string         `json:"field_id,omitempty"`
	Attempts     int            `json:"attempts"`
	LastError    string         `json:"last_error,omitempty"`
	Requested    map[string]any `json:"requested,omitempty"`
}

// FailureFromErr fills the error-derived slice of a record.
func FailureFromErr(rec FailureRecord, err error) FailureRecord {
	if err == nil {
		return rec
	}
	rec.Class = ClassOf(err).String()
	rec.Retryable = IsRetryable(err)
	rec.LastError = err.Error()
	return rec
}
