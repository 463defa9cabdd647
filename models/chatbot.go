package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Chatbot is one tenant. Its hex ObjectID is the tenant id used by the
// retrieval core.
type Chatbot struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OwnerID      string             `bson:"owner_id" json:"owner_id"`
	Name         string             `bson:"name" json:"name"`
	WebsiteURL   string             `bson:"website_url,omitempty" json:"website_url,omitempty"`
	APIKeyDigest string             `bson:"api_key_digest" json:"-"`
	APIKeyHint   string             `bson:"api_key_hint" json:"api_key_hint"` // last 4 characters
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

// TenantID is the id the retrieval core keys indexes and sessions by.
func (c *Chatbot) TenantID() string {
	return c.ID.Hex()
}

type CreateChatbotRequest struct {
	Name         string `json:"name" binding:"required,min=2,max=100"`
	WebsiteURL   string `json:"website_url,omitempty" binding:"omitempty,max=2048"`
	TrainingText string `json:"training_text,omitempty"`
}

type CreateChatbotResponse struct {
	ChatbotID string `json:"chatbot_id"`
	APIKey    string `json:"api_key"`
	EmbedCode string `json:"embed_code"`
	Passages  int    `json:"passages"`

	// TrainingError is set when the chatbot was created but its first
	// ingestion failed. Retraining clears it.
	TrainingError string `json:"training_error,omitempty"`
}

type ChatbotStatus struct {
	ChatbotID string     `json:"chatbot_id"`
	State     string     `json:"state"`
	Passages  int        `json:"passages"`
	BuiltAt   *time.Time `json:"built_at,omitempty"`
}
