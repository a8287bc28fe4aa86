package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"flash-agent/internal/agent"
	"flash-agent/internal/models"
)

const (
	AddFlashcardTool = "add_flash_card"
	GetFlashcardTool = "get_flash_card"
)

// FlashcardStore is the subset of the store client used by the tools.
type FlashcardStore interface {
	Create(ctx context.Context, card models.NewFlashcard) (string, error)
	Fetch(ctx context.Context, id int64) (*models.Flashcard, error)
}

// addFlashcardTool persists a flashcard. Store failures come back as text so
// the model can read them and decide what to do.
type addFlashcardTool struct {
	store FlashcardStore
	log   logrus.FieldLogger
}

func NewAddFlashcardTool(store FlashcardStore, log logrus.FieldLogger) agent.Tool {
	return &addFlashcardTool{store: store, log: log}
}

func (t *addFlashcardTool) Name() string { return AddFlashcardTool }

func (t *addFlashcardTool) Description() string {
	return "Cria um novo flashcard no banco de flashcards com título, pergunta e resposta."
}

func (t *addFlashcardTool) Schema() *agent.JSONSchema {
	return &agent.JSONSchema{
		Type: "object",
		Properties: map[string]any{
			"title":    map[string]any{"type": "string", "description": "Título curto do flashcard"},
			"question": map[string]any{"type": "string", "description": "Pergunta da frente do cartão"},
			"answer":   map[string]any{"type": "string", "description": "Resposta do verso do cartão"},
		},
		Required: []string{"title", "question", "answer"},
	}
}

func (t *addFlashcardTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	card := models.NewFlashcard{
		Title:    strings.TrimSpace(stringArg(args, "title")),
		Question: strings.TrimSpace(stringArg(args, "question")),
		Answer:   strings.TrimSpace(stringArg(args, "answer")),
	}
	if card.Question == "" || card.Answer == "" {
		return "Error: question and answer must not be empty", nil
	}
	msg, err := t.store.Create(ctx, card)
	if err != nil {
		t.log.WithError(err).WithField("title", card.Title).Warn("add_flash_card failed")
		return fmt.Sprintf("Error creating flashcard: %v", err), nil
	}
	return msg, nil
}

// getFlashcardTool fetches a flashcard by id and returns it as JSON.
type getFlashcardTool struct {
	store FlashcardStore
	log   logrus.FieldLogger
}

func NewGetFlashcardTool(store FlashcardStore, log logrus.FieldLogger) agent.Tool {
	return &getFlashcardTool{store: store, log: log}
}

func (t *getFlashcardTool) Name() string { return GetFlashcardTool }

func (t *getFlashcardTool) Description() string {
	return "Busca um flashcard pelo id e retorna título, pergunta e resposta oficial."
}

func (t *getFlashcardTool) Schema() *agent.JSONSchema {
	return &agent.JSONSchema{
		Type: "object",
		Properties: map[string]any{
			"flashcard_id": map[string]any{"type": "integer", "description": "Id do flashcard"},
		},
		Required: []string{"flashcard_id"},
	}
}

func (t *getFlashcardTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	id, err := int64Arg(args, "flashcard_id")
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	card, err := t.store.Fetch(ctx, id)
	if err != nil {
		t.log.WithError(err).WithField("flashcard_id", id).Warn("get_flash_card failed")
		return fmt.Sprintf("Error fetching flashcard %d: %v", id, err), nil
	}
	return card, nil
}

// fetchedFlashcard returns the flashcard with the given id most recently
// returned by get_flash_card in a conversation.
func fetchedFlashcard(messages []agent.Message, id int64) (*models.Flashcard, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != agent.RoleTool || msg.Name != GetFlashcardTool {
			continue
		}
		var card models.Flashcard
		if err := json.Unmarshal([]byte(msg.Content), &card); err != nil || card.ID != id {
			continue
		}
		return &card, true
	}
	return nil, false
}

func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func int64Arg(args map[string]any, key string) (int64, error) {
	switch v := args[key].(type) {
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case json.Number:
		return v.Int64()
	default:
		return 0, fmt.Errorf("%s must be an integer", key)
	}
}
