package messages

import "time"

// CaseChecked is published after every completed check, success or
// failure. The api consumes it to refresh the snapshot cache; downstream
// integrators can tail the topic.
type CaseChecked struct {
	ReceiptNumber string    `json:"receipt_number"`
	CheckedAt     time.Time `json:"checked_at"`

	StatusText   string     `json:"status_text,omitempty"`
	CaseCategory string     `json:"case_category,omitempty"`
	ObservedAt   *time.Time `json:"observed_at,omitempty"`

	AlertID   string `json:"alert_id,omitempty"`
	AlertType string `json:"alert_type,omitempty"`

	NextCheckAt time.Time `json:"next_check_at"`

	Error *string `json:"error,omitempty"`
}
