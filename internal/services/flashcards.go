package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"flash-agent/internal/agent"
	"flash-agent/internal/models"
	"flash-agent/internal/workflow"
)

// Node names of the flashcard workflows.
const (
	AnalyzerNode      = "analyzer_agent"
	CardGeneratorNode = "card_generator_agent"
	CheckerNode       = "checker_agent"
)

var (
	// ErrResponseParse is returned when a final agent answer is not the JSON
	// object it was asked for.
	ErrResponseParse = errors.New("agent response is not valid json")
	// ErrNoText is returned when a PDF has no extractable text at all.
	ErrNoText = errors.New("document has no extractable text")
)

// Workflow is a compiled agent pipeline.
type Workflow interface {
	Invoke(ctx context.Context, initial []agent.Message) (workflow.State, error)
}

// DocumentRecorder stores processed uploads.
type DocumentRecorder interface {
	Record(ctx context.Context, doc models.Document) (*models.Document, error)
}

// ReviewRecorder schedules the next review from a graded answer.
type ReviewRecorder interface {
	Record(ctx context.Context, flashcardID int64, status models.CheckStatus) (*models.ReviewCard, *models.ReviewLog, error)
}

// GenerationResult summarises one upload-and-generate run.
type GenerationResult struct {
	Filename      string
	Response      string
	Pages         int
	PagesWithText int
	Truncated     bool
	CardsCreated  int
	DocumentID    int64
}

// NewCreationWorkflow builds analyzer_agent -> card_generator_agent.
func NewCreationWorkflow(model agent.Model, store FlashcardStore, maxTurns int, log logrus.FieldLogger) (*workflow.Pipeline, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	analyzer, err := agent.New(agent.Config{
		Name:     AnalyzerNode,
		Prompt:   analyzerPrompt,
		Model:    model,
		MaxTurns: maxTurns,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	generator, err := agent.New(agent.Config{
		Name:     CardGeneratorNode,
		Prompt:   cardGeneratorPrompt,
		Model:    model,
		Tools:    []agent.Tool{NewAddFlashcardTool(store, log)},
		MaxTurns: maxTurns,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	return workflow.NewGraph().
		AddNode(AnalyzerNode, workflow.AgentNode{Agent: analyzer}).
		AddNode(CardGeneratorNode, workflow.AgentNode{Agent: generator}).
		AddEdge(workflow.Start, AnalyzerNode).
		AddEdge(AnalyzerNode, CardGeneratorNode).
		AddEdge(CardGeneratorNode, workflow.End).
		Compile(log.WithField("workflow", "creation"))
}

// NewCheckWorkflow builds the single checker_agent graph.
func NewCheckWorkflow(model agent.Model, store FlashcardStore, maxTurns int, log logrus.FieldLogger) (*workflow.Pipeline, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	checker, err := agent.New(agent.Config{
		Name:     CheckerNode,
		Prompt:   checkerPrompt,
		Model:    model,
		Tools:    []agent.Tool{NewGetFlashcardTool(store, log)},
		MaxTurns: maxTurns,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	return workflow.NewGraph().
		AddNode(CheckerNode, workflow.AgentNode{Agent: checker}).
		AddEdge(workflow.Start, CheckerNode).
		AddEdge(CheckerNode, workflow.End).
		Compile(log.WithField("workflow", "check"))
}

// FlashcardService runs the creation and check workflows.
type FlashcardService struct {
	pdf       *PDFService
	budget    *TextBudget
	creation  Workflow
	checking  Workflow
	documents DocumentRecorder
	reviews   ReviewRecorder
	log       logrus.FieldLogger
}

type FlashcardServiceConfig struct {
	PDF       *PDFService
	Budget    *TextBudget
	Creation  Workflow
	Checking  Workflow
	Documents DocumentRecorder // optional
	Reviews   ReviewRecorder   // optional
	Logger    logrus.FieldLogger
}

func NewFlashcardService(cfg FlashcardServiceConfig) (*FlashcardService, error) {
	if cfg.Creation == nil || cfg.Checking == nil {
		return nil, errors.New("creation and check workflows are required")
	}
	pdfService := cfg.PDF
	if pdfService == nil {
		pdfService = NewPDFService()
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FlashcardService{
		pdf:       pdfService,
		budget:    cfg.Budget,
		creation:  cfg.Creation,
		checking:  cfg.Checking,
		documents: cfg.Documents,
		reviews:   cfg.Reviews,
		log:       log,
	}, nil
}

// GenerateFromPDF extracts the document text and runs the creation workflow
// on it. The final assistant message is returned as the response.
func (s *FlashcardService) GenerateFromPDF(ctx context.Context, filename string, data []byte) (*GenerationResult, error) {
	log := s.log.WithField("filename", filename)
	doc := models.Document{Filename: filename, SizeBytes: int64(len(data))}

	result, err := s.generate(ctx, filename, data)
	if result != nil {
		doc.PageCount = result.Pages
		doc.PagesWithText = result.PagesWithText
		doc.Truncated = result.Truncated
		doc.Response = result.Response
	}
	if err != nil {
		doc.Status = models.DocumentFailed
		doc.Error = err.Error()
	} else {
		doc.Status = models.DocumentCompleted
	}
	if recorded := s.recordDocument(ctx, doc); recorded != nil && result != nil {
		result.DocumentID = recorded.ID
	}

	if err != nil {
		log.WithError(err).Error("flashcard generation failed")
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"pages":         result.Pages,
		"cards_created": result.CardsCreated,
		"truncated":     result.Truncated,
	}).Info("flashcard generation completed")
	return result, nil
}

func (s *FlashcardService) generate(ctx context.Context, filename string, data []byte) (*GenerationResult, error) {
	extraction, err := s.pdf.ExtractText(data)
	if err != nil {
		return nil, err
	}
	result := &GenerationResult{
		Filename:      filename,
		Pages:         extraction.Pages,
		PagesWithText: extraction.PagesWithText,
	}
	if strings.TrimSpace(extraction.Text) == "" {
		return result, &ExtractionError{Err: ErrNoText}
	}

	text := extraction.Text
	if s.budget != nil {
		text, result.Truncated = s.budget.Truncate(text)
	}

	state, err := s.creation.Invoke(ctx, []agent.Message{BuildUploadMessage(filename, text)})
	if err != nil {
		return result, fmt.Errorf("run creation workflow: %w", err)
	}
	last, ok := state.Last()
	if !ok {
		return result, errors.New("creation workflow produced no messages")
	}
	result.Response = last.Content
	result.CardsCreated = countCreated(state.Messages)
	return result, nil
}

// CheckAnswer grades a user answer against a stored flashcard. An unparsable
// agent answer yields the fallback result rather than an error.
func (s *FlashcardService) CheckAnswer(ctx context.Context, flashcardID int64, userAnswer string) (*models.CheckResult, error) {
	log := s.log.WithField("flashcard_id", flashcardID)

	state, err := s.checking.Invoke(ctx, []agent.Message{BuildCheckMessage(flashcardID, userAnswer)})
	if err != nil {
		log.WithError(err).Error("check workflow failed")
		return nil, fmt.Errorf("run check workflow: %w", err)
	}
	last, _ := state.Last()

	result, err := ParseCheckResult(last.Content)
	if err != nil {
		log.WithError(err).WithField("raw", last.Content).Warn("unparsable checker response")
		return FallbackCheckResult(), nil
	}

	if result.Status == models.StatusError {
		if result.OfficialAnswer == "" {
			result.OfficialAnswer = unavailableAnswer
		}
		return result, nil
	}

	card, ok := fetchedFlashcard(state.Messages, flashcardID)
	if !ok {
		log.WithField("raw", last.Content).Warn("checker graded without fetching the flashcard")
		return FallbackCheckResult(), nil
	}
	if result.OfficialAnswer != card.Answer {
		log.Debug("replacing model-reported official answer with stored answer")
	}
	result.OfficialAnswer = card.Answer

	if s.reviews != nil {
		reviewCard, _, err := s.reviews.Record(ctx, flashcardID, result.Status)
		switch {
		case err != nil:
			log.WithError(err).Warn("record review failed")
		case reviewCard.Due.Valid:
			due := reviewCard.Due.Time
			result.NextReview = &due
		}
	}

	log.WithField("status", result.Status).Info("answer checked")
	return result, nil
}

func (s *FlashcardService) recordDocument(ctx context.Context, doc models.Document) *models.Document {
	if s.documents == nil {
		return nil
	}
	recorded, err := s.documents.Record(ctx, doc)
	if err != nil {
		s.log.WithError(err).WithField("filename", doc.Filename).Warn("record document failed")
		return nil
	}
	return recorded
}

// FallbackCheckResult is returned when the checker answer cannot be used.
func FallbackCheckResult() *models.CheckResult {
	return &models.CheckResult{
		Status:         models.StatusError,
		Feedback:       fallbackFeedback,
		OfficialAnswer: unavailableAnswer,
	}
}

// ParseCheckResult decodes the checker's final text, tolerating Markdown code
// fences around the JSON object.
func ParseCheckResult(raw string) (*models.CheckResult, error) {
	var payload struct {
		Status         string `json:"status"`
		Feedback       string `json:"feedback"`
		OfficialAnswer string `json:"official_answer"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseParse, err)
	}
	status, ok := NormalizeStatus(payload.Status)
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrResponseParse, payload.Status)
	}
	return &models.CheckResult{
		Status:         status,
		Feedback:       strings.TrimSpace(payload.Feedback),
		OfficialAnswer: payload.OfficialAnswer,
	}, nil
}

// NormalizeStatus maps a status reported by the model onto the accepted set.
func NormalizeStatus(raw string) (models.CheckStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "correto", "correta", "correct":
		return models.StatusCorrect, true
	case "parcial", "parcialmente correto", "parcialmente correta", "partial", "partially correct":
		return models.StatusPartial, true
	case "incorreto", "incorreta", "incorrect", "wrong":
		return models.StatusIncorrect, true
	case "erro", "error":
		return models.StatusError, true
	default:
		return "", false
	}
}

const codeFence = "```"

// stripCodeFence removes one leading fence line (with its optional language
// tag) and one trailing fence. Nothing else around the payload is touched.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if rest, ok := strings.CutPrefix(content, codeFence); ok {
		// A fence with no newline has no payload line.
		_, content, _ = strings.Cut(rest, "\n")
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), codeFence)
	return strings.TrimSpace(content)
}

func countCreated(messages []agent.Message) int {
	n := 0
	for _, msg := range messages {
		if msg.Role == agent.RoleTool && msg.Name == AddFlashcardTool && !strings.HasPrefix(msg.Content, "Error") {
			n++
		}
	}
	return n
}
