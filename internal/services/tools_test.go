package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"flash-agent/internal/agent"
	"flash-agent/internal/models"
	"flash-agent/internal/store"
)

func TestAddFlashcardTool(t *testing.T) {
	log, _ := test.NewNullLogger()
	st := newFakeStore()
	tool := NewAddFlashcardTool(st, log)

	out, err := tool.Execute(context.Background(), map[string]any{"title": " Célula ", "question": "O que é?", "answer": "Unidade da vida"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "Flashcard criado com sucesso!" || st.created[0].Title != "Célula" {
		t.Fatalf("out = %v, created = %+v", out, st.created)
	}

	out, _ = tool.Execute(context.Background(), map[string]any{"title": "t", "question": "", "answer": "a"})
	if !strings.HasPrefix(out.(string), "Error") {
		t.Fatalf("empty question should be rejected, got %v", out)
	}
}

func TestAddFlashcardToolReportsStoreErrorsAsText(t *testing.T) {
	failures := []error{
		&store.RequestError{Op: "create", Status: 500, Err: errors.New("boom")},
		&store.RequestError{Op: "create", Err: errors.New("context deadline exceeded")},
	}
	for _, failure := range failures {
		log, _ := test.NewNullLogger()
		st := newFakeStore()
		st.fail = failure
		out, err := NewAddFlashcardTool(st, log).Execute(context.Background(), map[string]any{"title": "t", "question": "q", "answer": "a"})
		if err != nil {
			t.Fatalf("store errors must not be raised: %v", err)
		}
		if !strings.Contains(out.(string), "Error") {
			t.Fatalf("out = %v", out)
		}
	}
}

func TestGetFlashcardTool(t *testing.T) {
	log, _ := test.NewNullLogger()
	st := newFakeStore(models.Flashcard{ID: 7, Title: "t", Question: "q", Answer: "a"})
	tool := NewGetFlashcardTool(st, log)

	tests := []struct {
		name string
		args map[string]any
	}{
		{name: "float", args: map[string]any{"flashcard_id": float64(7)}},
		{name: "number", args: map[string]any{"flashcard_id": json.Number("7")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tool.Execute(context.Background(), tt.args)
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			card, ok := out.(*models.Flashcard)
			if !ok || card.Answer != "a" {
				t.Fatalf("out = %#v", out)
			}
		})
	}

	out, _ := tool.Execute(context.Background(), map[string]any{"flashcard_id": float64(8)})
	if s, ok := out.(string); !ok || !strings.Contains(s, "Error") {
		t.Fatalf("missing card should produce error text, got %#v", out)
	}
	for _, id := range []any{"7", "abc", true} {
		out, _ = tool.Execute(context.Background(), map[string]any{"flashcard_id": id})
		if s, ok := out.(string); !ok || !strings.HasPrefix(s, "Error") {
			t.Fatalf("id %#v should produce error text, got %#v", id, out)
		}
	}
}

func TestFetchedFlashcardMatchesRequestedID(t *testing.T) {
	messages := []agent.Message{
		{Role: agent.RoleTool, Name: GetFlashcardTool, Content: `{"id":1,"answer":"first"}`},
		{Role: agent.RoleTool, Name: GetFlashcardTool, Content: `{"id":2,"answer":"second"}`},
		{Role: agent.RoleTool, Name: GetFlashcardTool, Content: "Error fetching flashcard 1: boom"},
		{Role: agent.RoleTool, Name: AddFlashcardTool, Content: `{"id":1,"answer":"other tool"}`},
	}
	card, ok := fetchedFlashcard(messages, 1)
	if !ok || card.Answer != "first" {
		t.Fatalf("card = %+v", card)
	}
	if _, ok := fetchedFlashcard(messages, 3); ok {
		t.Fatal("no card with id 3 was fetched")
	}
}
