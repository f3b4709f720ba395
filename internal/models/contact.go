package models

import "time"

type ContactInfo struct {
	Name     string `json:"name,omitempty" validate:"omitempty,max=30"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	Phone    string `json:"phone,omitempty" validate:"omitempty,twmobile"`
	LineID   string `json:"line_id,omitempty" validate:"omitempty,max=20"`
	Telegram string `json:"telegram,omitempty" validate:"omitempty,max=32"`
}

// HasChannel reports whether any way to reach the person is present.
func (c ContactInfo) HasChannel() bool {
	return c.Email != "" || c.Phone != "" || c.LineID != "" || c.Telegram != ""
}

func (c ContactInfo) IsEmpty() bool {
	return c.Name == "" && !c.HasChannel()
}

type ContactSubmission struct {
	ID               int64
	SessionID        string
	OriginalQuestion string
	Contact          ContactInfo
	CreatedAt        time.Time
}
