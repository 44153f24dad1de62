package models

import "time"

// Channel is a publishing target. Jobs submitted for a channel share its
// admission ceiling and are uploaded into its Drive folder when one is set.
type Channel struct {
	ID             string    `db:"id"               json:"id"`
	Name           string    `db:"name"             json:"name"`
	BasePrompt     string    `db:"base_prompt"      json:"base_prompt"`
	PromptTemplate string    `db:"prompt_template"  json:"prompt_template"`
	DriveFolderID  *string   `db:"drive_folder_id"  json:"drive_folder_id,omitempty"`
	CreatedAt      time.Time `db:"created_at"       json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"       json:"updated_at"`
}
