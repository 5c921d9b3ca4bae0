package models

import "time"

// Alert types, ordered here roughly by severity. The classification
// priority lives in the alerts service.
const (
	AlertStatusChange        = "status_change"
	AlertInterviewScheduled  = "interview_scheduled"
	AlertBiometricsScheduled = "biometrics_scheduled"
	AlertCardProduced        = "card_produced"
	AlertCaseApproved        = "case_approved"
	AlertCaseRejected        = "case_rejected"
	AlertRFEReceived         = "rfe_received"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

const (
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelWebhook = "webhook"
)

// Case categories inferred from status descriptions (or the issuer as a
// fallback).
const (
	CategoryAdjustment        = "adjustment_of_status"
	CategoryNaturalization    = "naturalization"
	CategoryFamilyPetition    = "family_petition"
	CategoryEmploymentPetition = "employment_petition"
	CategoryAsylum            = "asylum"
	CategoryWorkAuthorization = "work_authorization"
	CategoryTravelDocument    = "travel_document"
	CategoryGeneral           = "general"
)

// CategoryOptIns are the per-alert-category notification opt-ins.
type CategoryOptIns struct {
	StatusChange   bool `json:"statusChange"`
	ActionRequired bool `json:"actionRequired"`
	Deadline       bool `json:"deadline"`
	Interview      bool `json:"interview"`
	CardProduced   bool `json:"cardProduced"`
	Approved       bool `json:"approved"`
	Rejected       bool `json:"rejected"`
	Biometrics     bool `json:"biometrics"`
}

type NotificationPreferences struct {
	EmailEnabled   bool           `json:"emailEnabled"`
	SMSEnabled     bool           `json:"smsEnabled"`
	WebhookEnabled bool           `json:"webhookEnabled"`
	WebhookURL     string         `json:"webhookUrl,omitempty"`
	Categories     CategoryOptIns `json:"categories"`
}

// TrackingConfig is one tracked case, keyed by receipt number.
type TrackingConfig struct {
	ReceiptNumber        string                  `json:"receiptNumber"`
	OwnerUserID          string                  `json:"ownerUserId"`
	ContactEmail         *string                 `json:"contactEmail,omitempty"`
	ContactPhone         *string                 `json:"contactPhone,omitempty"`
	CheckIntervalMinutes int                     `json:"checkIntervalMinutes"`
	Preferences          NotificationPreferences `json:"preferences"`
	Enabled              bool                    `json:"enabled"`
	TotalChecks          int64                   `json:"totalChecks"`
	ConsecutiveFailures  int32                   `json:"consecutiveFailures"`
	LastCheckedAt        *time.Time              `json:"lastCheckedAt,omitempty"`
	NextCheckAt          time.Time               `json:"nextCheckAt"`
	LastError            *string                 `json:"lastError,omitempty"`
	CreatedAt            time.Time               `json:"createdAt"`
	UpdatedAt            time.Time               `json:"updatedAt"`
}

// StatusSnapshot is one immutable observation of a case's status.
// History never mutates or deletes snapshots.
type StatusSnapshot struct {
	ReceiptNumber    string     `json:"receiptNumber"`
	StatusText       string     `json:"statusText"`
	StatusDate       *time.Time `json:"statusDate,omitempty"`
	Description      string     `json:"description"`
	CaseCategory     string     `json:"caseCategory"`
	FormType         *string    `json:"formType,omitempty"`
	IssuingCenter    *string    `json:"issuingCenter,omitempty"`
	InterviewDate    *time.Time `json:"interviewDate,omitempty"`
	BiometricsDate   *time.Time `json:"biometricsDate,omitempty"`
	CardProducedDate *time.Time `json:"cardProducedDate,omitempty"`
	DecisionDate     *time.Time `json:"decisionDate,omitempty"`
	NextActionDate   *time.Time `json:"nextActionDate,omitempty"`
	ObservedAt       time.Time  `json:"observedAt"`
}

type AlertMetadata struct {
	PreviousStatus string `json:"previousStatus,omitempty"`
	NewStatus      string `json:"newStatus,omitempty"`
	CaseCategory   string `json:"caseCategory,omitempty"`
}

type Alert struct {
	ID            string        `json:"id"`
	ReceiptNumber string        `json:"receiptNumber"`
	AlertType     string        `json:"alertType"`
	Title         string        `json:"title"`
	Message       string        `json:"message"`
	Priority      string        `json:"priority"`
	Channels      []string      `json:"channels"`
	Metadata      AlertMetadata `json:"metadata"`
	CreatedAt     time.Time     `json:"createdAt"`
	SentAt        *time.Time    `json:"sentAt,omitempty"`
}

type TrackingStartInput struct {
	ReceiptNumber        string
	OwnerUserID          string
	ContactEmail         string
	ContactPhone         string
	CheckIntervalMinutes int
	Preferences          *NotificationPreferences
}

// TrackingPatch is a partial update; nil fields are left untouched.
type TrackingPatch struct {
	ContactEmail         *string
	ContactPhone         *string
	CheckIntervalMinutes *int
	Preferences          *NotificationPreferences
	Enabled              *bool
}
