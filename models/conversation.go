package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation is one logged question/answer exchange.
type Conversation struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ChatbotID   string             `bson:"chatbot_id" json:"chatbot_id"`
	SessionID   string             `bson:"session_id" json:"session_id"`
	UserMessage string             `bson:"user_message" json:"user_message"`
	BotResponse string             `bson:"bot_response" json:"bot_response"`
	Timestamp   time.Time          `bson:"timestamp" json:"timestamp"`
}

type ChatRequest struct {
	Message       string `json:"message" binding:"required,min=1,max=2000"`
	ChatbotAPIKey string `json:"chatbot_api_key" binding:"required"`
	SessionID     string `json:"session_id,omitempty" binding:"omitempty,max=128"`
}

type ChatResponse struct {
	Response string `json:"response"`
}
