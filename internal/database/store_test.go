package database

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rag-chatbot-platform/internal/config"
	"rag-chatbot-platform/internal/rag"
	"rag-chatbot-platform/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)

	db := client.Database(fmt.Sprintf("rag_test_%d", time.Now().UnixNano()))
	require.NoError(t, config.EnsureIndexes(ctx, db))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return NewStore(db)
}

func TestChatbotLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	bot := &models.Chatbot{OwnerID: "owner-1", Name: "Acme Bot", WebsiteURL: "https://acme.example", APIKeyDigest: "digest-1"}
	require.NoError(t, s.CreateChatbot(ctx, bot))
	require.False(t, bot.ID.IsZero())

	byKey, err := s.ChatbotByKeyDigest(ctx, "digest-1")
	require.NoError(t, err)
	assert.Equal(t, bot.ID, byKey.ID)

	_, err = s.ChatbotByKeyDigest(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ChatbotByID(ctx, "not-an-object-id")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CreateChatbot(ctx, &models.Chatbot{OwnerID: "owner-1", Name: "Second", APIKeyDigest: "digest-2"}))
	bots, err := s.ChatbotsByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, bots, 2)

	duplicate := &models.Chatbot{OwnerID: "owner-2", Name: "Dup", APIKeyDigest: "digest-1"}
	assert.Error(t, s.CreateChatbot(ctx, duplicate))
}

func TestLoadSource(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	bot := &models.Chatbot{OwnerID: "o", Name: "Helper", APIKeyDigest: "d"}
	require.NoError(t, s.CreateChatbot(ctx, bot))

	_, err := s.LoadSource(ctx, bot.TenantID())
	assert.ErrorIs(t, err, rag.ErrSourceFetchFailed)

	require.NoError(t, s.SaveTrainingText(ctx, models.TrainingSource{ChatbotID: bot.TenantID(), SourceType: models.SourceText, Text: "first"}))
	require.NoError(t, s.SaveTrainingText(ctx, models.TrainingSource{ChatbotID: bot.TenantID(), SourceType: models.SourceText, Text: "second"}))

	src, err := s.LoadSource(ctx, bot.TenantID())
	require.NoError(t, err)
	assert.Equal(t, rag.Identity{Name: "Helper", Origin: "Helper"}, src.Identity)
	require.Len(t, src.Documents, 1)
	assert.Equal(t, "second", src.Documents[0].Text)

	_, err = s.LoadSource(ctx, "64b7f0f0f0f0f0f0f0f0f0f0")
	assert.ErrorIs(t, err, rag.ErrSourceFetchFailed)
}

func TestConversationsNewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Record(ctx, "bot-1", "sess", fmt.Sprintf("q%d", i), "a"))
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, s.Record(ctx, "bot-2", "sess", "other", "a"))

	convs, err := s.Conversations(ctx, "bot-1", 0)
	require.NoError(t, err)
	require.Len(t, convs, 3)
	assert.Equal(t, "q2", convs[0].UserMessage)
	assert.Equal(t, "q0", convs[2].UserMessage)

	convs, err = s.Conversations(ctx, "bot-1", 2)
	require.NoError(t, err)
	assert.Len(t, convs, 2)
}

func TestURLSources(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTrainingText(ctx, models.TrainingSource{ChatbotID: "a", SourceType: models.SourceURL, SourceURL: "https://a.example", Text: "x"}))
	require.NoError(t, s.SaveTrainingText(ctx, models.TrainingSource{ChatbotID: "b", SourceType: models.SourceText, Text: "y"}))

	srcs, err := s.URLSources(ctx)
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	assert.Equal(t, "https://a.example", srcs[0].SourceURL)
	assert.Empty(t, srcs[0].Text)
}
