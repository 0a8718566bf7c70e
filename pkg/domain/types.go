package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type UserRole string

const (
	RoleAdmin      UserRole = "ADMIN"
	RoleTechnician UserRole = "TECNICO"
)

type ReportStatus string

const (
	ReportCompleted  ReportStatus = "COMPLETED"
	ReportInProgress ReportStatus = "IN_PROGRESS"
)

// Sender identifies who authored a chat message. The set is closed: System, User and AI.
type Sender int

const (
	SenderSystem Sender = iota + 1
	SenderUser
	SenderAI
)

// String returns the wire tag of the sender.
func (s Sender) String() string {
	switch s {
	case SenderSystem:
		return "SYSTEM"
	case SenderUser:
		return "USER"
	case SenderAI:
		return "AI"
	default:
		return fmt.Sprintf("Sender(%d)", int(s))
	}
}

// ParseSender maps a wire tag to a Sender.
func ParseSender(tag string) (Sender, error) {
	switch tag {
	case "SYSTEM":
		return SenderSystem, nil
	case "USER":
		return SenderUser, nil
	case "AI":
		return SenderAI, nil
	default:
		return 0, fmt.Errorf("unknown message sender %q", tag)
	}
}

func (s Sender) MarshalJSON() ([]byte, error) {
	switch s {
	case SenderSystem, SenderUser, SenderAI:
		return json.Marshal(s.String())
	default:
		return nil, fmt.Errorf("invalid message sender %d", int(s))
	}
}

func (s *Sender) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	parsed, err := ParseSender(tag)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type ChecklistItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type ChecklistTemplate struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Items       []ChecklistItem `json:"items"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// ChatMessage is one entry of an inspection transcript. Timestamp is
// serialized as Unix milliseconds.
type ChatMessage struct {
	ID        string
	Sender    Sender
	Text      string
	Timestamp time.Time
}

type chatMessageJSON struct {
	ID        string `json:"id"`
	Sender    Sender `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

func (m ChatMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(chatMessageJSON{
		ID:        m.ID,
		Sender:    m.Sender,
		Text:      m.Text,
		Timestamp: m.Timestamp.UnixMilli(),
	})
}

func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var raw chatMessageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = ChatMessage{
		ID:        raw.ID,
		Sender:    raw.Sender,
		Text:      raw.Text,
		Timestamp: time.UnixMilli(raw.Timestamp).UTC(),
	}
	return nil
}

type InspectionReport struct {
	ID             string        `json:"id"`
	TemplateID     string        `json:"templateId"`
	TemplateTitle  string        `json:"templateTitle"`
	TechnicianID   string        `json:"technicianId,omitempty"`
	TechnicianName string        `json:"technicianName"`
	Date           string        `json:"date"`
	ChatHistory    []ChatMessage `json:"chatHistory"`
	Summary        string        `json:"summary"`
	Status         ReportStatus  `json:"status"`
	IssuesFound    bool          `json:"issuesFound"`
}

// DateLayout is the ISO-8601 layout of InspectionReport.Date (UTC, millisecond precision).
const DateLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatDate renders t as a report date.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// DateTime parses the report date; the zero time is returned when it is malformed.
func (r InspectionReport) DateTime() time.Time {
	t, err := time.Parse(time.RFC3339Nano, r.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}

type User struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Email              string   `json:"email"`
	Password           string   `json:"password,omitempty"`
	Role               UserRole `json:"role"`
	MustChangePassword bool     `json:"mustChangePassword,omitempty"`
}

// Public returns a copy of the user without credentials.
func (u User) Public() User {
	u.Password = ""
	return u
}
