package models

import "time"

// Credentials are the app-wide OAuth settings configured by an admin.
// Immutable after configuration; read from the token store on every cycle.
type Credentials struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
}

func (c Credentials) Complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.BaseURL != ""
}

type AlertKind string

const (
	KindCall    AlertKind = "call"
	KindMeeting AlertKind = "meeting"
)

// Alert is a SuiteCRM-side unread notice pointing at a Call or Meeting.
// Fetched fresh each poll, never persisted.
type Alert struct {
	ID             string    `json:"id"`
	AssignedUserID string    `json:"assigned_user_id"`
	IsRead         bool      `json:"is_read"`
	URLRedirect    string    `json:"url_redirect"`
	UpdatedAt      string    `json:"updated_at"`
	OwnerID        string    `json:"owner_id"`
	StateID        int       `json:"state_id"`
	DateStart      time.Time `json:"date_start"`
	Kind           AlertKind `json:"type"`
}

// Ticket is assembled by joining the search result against the state,
// priority and user lookups.
type Ticket struct {
	ID             string `json:"id"`
	Subject        string `json:"subject"`
	StateID        string `json:"state_id"`
	StateName      string `json:"state_name,omitempty"`
	PriorityID     string `json:"priority_id"`
	PriorityName   string `json:"priority_name,omitempty"`
	OwnerID        string `json:"owner_id"`
	AssignedUserID string `json:"assigned_user_id"`
	CustomerID     string `json:"customer_id"`
	UpdatedAt      string `json:"updated_at"`
	OwnerFirstname string `json:"u_firstname,omitempty"`
	OwnerLastname  string `json:"u_lastname,omitempty"`
	OwnerOrgID     string `json:"u_organization_id,omitempty"`
	OwnerImage     string `json:"u_image,omitempty"`
}

// NotificationEvent is what gets pushed to the host platform. One watermark
// advance yields at most one event per poll cycle.
type NotificationEvent struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	App       string         `json:"app"`
	Subject   string         `json:"subject"`
	Params    map[string]any `json:"params"`
	Timestamp time.Time      `json:"timestamp"`
}

const (
	AppID                 = "integration_suitecrm"
	SubjectNewOpenTickets = "new_open_tickets"
)

type RunStats struct {
	UsersChecked      int
	UsersSkipped      int
	AlertsSeen        int
	NotificationsSent int
	Errors            int
	Duration          time.Duration
}
