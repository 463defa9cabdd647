// Package database persists chatbots, their training text and conversation
// logs in MongoDB.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rag-chatbot-platform/internal/rag"
	"rag-chatbot-platform/models"
)

const DefaultConversationLimit = 100

var ErrNotFound = errors.New("not found")

type Store struct {
	chatbots      *mongo.Collection
	sources       *mongo.Collection
	conversations *mongo.Collection
}

func NewStore(db *mongo.Database) *Store {
	return &Store{
		chatbots:      db.Collection("chatbots"),
		sources:       db.Collection("training_sources"),
		conversations: db.Collection("conversations"),
	}
}

func (s *Store) CreateChatbot(ctx context.Context, bot *models.Chatbot) error {
	now := time.Now().UTC()
	if bot.ID.IsZero() {
		bot.ID = primitive.NewObjectID()
	}
	bot.CreatedAt = now
	bot.UpdatedAt = now

	if _, err := s.chatbots.InsertOne(ctx, bot); err != nil {
		return fmt.Errorf("insert chatbot: %w", err)
	}
	return nil
}

func (s *Store) ChatbotByID(ctx context.Context, id string) (*models.Chatbot, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.findChatbot(ctx, bson.M{"_id": oid})
}

func (s *Store) ChatbotByKeyDigest(ctx context.Context, digest string) (*models.Chatbot, error) {
	return s.findChatbot(ctx, bson.M{"api_key_digest": digest})
}

func (s *Store) findChatbot(ctx context.Context, filter bson.M) (*models.Chatbot, error) {
	var bot models.Chatbot
	err := s.chatbots.FindOne(ctx, filter).Decode(&bot)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find chatbot: %w", err)
	}
	return &bot, nil
}

// ChatbotsByOwner lists an owner's chatbots, newest first.
func (s *Store) ChatbotsByOwner(ctx context.Context, ownerID string) ([]models.Chatbot, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.chatbots.Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list chatbots: %w", err)
	}
	defer cursor.Close(ctx)

	bots := []models.Chatbot{}
	if err := cursor.All(ctx, &bots); err != nil {
		return nil, fmt.Errorf("decode chatbots: %w", err)
	}
	return bots, nil
}

// SaveTrainingText replaces the stored training text of a chatbot.
func (s *Store) SaveTrainingText(ctx context.Context, src models.TrainingSource) error {
	src.UpdatedAt = time.Now().UTC()
	src.CharCount = len([]rune(src.Text))

	_, err := s.sources.UpdateOne(ctx,
		bson.M{"chatbot_id": src.ChatbotID},
		bson.M{"$set": src},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save training text: %w", err)
	}
	return nil
}

func (s *Store) TrainingSource(ctx context.Context, chatbotID string) (*models.TrainingSource, error) {
	var src models.TrainingSource
	err := s.sources.FindOne(ctx, bson.M{"chatbot_id": chatbotID}).Decode(&src)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find training source: %w", err)
	}
	return &src, nil
}

// URLSources lists training sources that were scraped from a website, for
// periodic refresh.
func (s *Store) URLSources(ctx context.Context) ([]models.TrainingSource, error) {
	opts := options.Find().SetProjection(bson.M{"text": 0})
	cursor, err := s.sources.Find(ctx, bson.M{"source_type": models.SourceURL}, opts)
	if err != nil {
		return nil, fmt.Errorf("list url sources: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.TrainingSource
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode url sources: %w", err)
	}
	return out, nil
}

// Identity returns the persona a chatbot answers as.
func (s *Store) Identity(ctx context.Context, tenantID string) (rag.Identity, error) {
	bot, err := s.ChatbotByID(ctx, tenantID)
	if err != nil {
		return rag.Identity{}, err
	}
	return identityOf(bot), nil
}

// LoadSource returns what the registry needs to rebuild a tenant's index.
// Any miss wraps rag.ErrSourceFetchFailed.
func (s *Store) LoadSource(ctx context.Context, tenantID string) (rag.Source, error) {
	bot, err := s.ChatbotByID(ctx, tenantID)
	if err != nil {
		return rag.Source{}, fmt.Errorf("%w: chatbot %s: %w", rag.ErrSourceFetchFailed, tenantID, err)
	}
	src, err := s.TrainingSource(ctx, tenantID)
	if err != nil {
		return rag.Source{}, fmt.Errorf("%w: training text for %s: %w", rag.ErrSourceFetchFailed, tenantID, err)
	}

	return rag.Source{
		Identity: identityOf(bot),
		Documents: []rag.Document{{
			Text: src.Text,
			Metadata: map[string]any{
				"source_type": src.SourceType,
				"source_url":  src.SourceURL,
			},
		}},
	}, nil
}

func identityOf(bot *models.Chatbot) rag.Identity {
	origin := bot.WebsiteURL
	if origin == "" {
		origin = bot.Name
	}
	return rag.Identity{Name: bot.Name, Origin: origin}
}

// Record logs one exchange.
func (s *Store) Record(ctx context.Context, tenantID, sessionID, question, answer string) error {
	_, err := s.conversations.InsertOne(ctx, models.Conversation{
		ChatbotID:   tenantID,
		SessionID:   sessionID,
		UserMessage: question,
		BotResponse: answer,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("record conversation: %w", err)
	}
	return nil
}

// Conversations returns up to limit logged exchanges, newest first.
func (s *Store) Conversations(ctx context.Context, tenantID string, limit int) ([]models.Conversation, error) {
	if limit <= 0 || limit > DefaultConversationLimit {
		limit = DefaultConversationLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.conversations.Find(ctx, bson.M{"chatbot_id": tenantID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	convs := []models.Conversation{}
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return convs, nil
}
