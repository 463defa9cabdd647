package models

import "time"

const (
	SourceText = "text"
	SourceURL  = "url"
	SourcePDF  = "pdf"
)

// TrainingSource is the stored text a chatbot's index is rebuilt from. One per
// chatbot; retraining replaces it.
type TrainingSource struct {
	ChatbotID  string    `bson:"chatbot_id" json:"chatbot_id"`
	SourceType string    `bson:"source_type" json:"source_type"`
	SourceURL  string    `bson:"source_url,omitempty" json:"source_url,omitempty"`
	Filename   string    `bson:"filename,omitempty" json:"filename,omitempty"`
	Text       string    `bson:"text" json:"-"`
	CharCount  int       `bson:"char_count" json:"char_count"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}

type TrainRequest struct {
	Text  string `json:"text,omitempty" form:"text"`
	URL   string `json:"url,omitempty" form:"url" binding:"omitempty,max=2048"`
	Async bool   `json:"async,omitempty" form:"async"`
}

type TrainResponse struct {
	ChatbotID string `json:"chatbot_id"`
	Status    string `json:"status"`
	Passages  int    `json:"passages,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}
