package model

import "time"

// Template is an HTML email template. Read-only from the dispatcher's
// point of view; variables hold defaults merged under recipient-supplied
// variables at render time.
type Template struct {
	ID            int64                  `json:"id"`
	Name          string                 `json:"name"`
	HTMLContent   string                 `json:"html_content"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	LogoURL       string                 `json:"logo_url,omitempty"`
	BackgroundURL string                 `json:"background_url,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}
