package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"flash-agent/internal/agent"
	"flash-agent/internal/api"
	"flash-agent/internal/config"
	"flash-agent/internal/db"
	"flash-agent/internal/services"
	"flash-agent/internal/store"
)

// App holds the wired services shared by the server and the CLI.
type App struct {
	Config     config.Config
	Log        *logrus.Logger
	DB         *sql.DB
	Store      *store.Client
	Flashcards *services.FlashcardService
	Documents  *services.DocumentService
	Reviews    *services.ReviewService
}

// New builds every dependency from cfg. The returned App must be closed.
func New(cfg config.Config, log *logrus.Logger) (*App, error) {
	for _, warning := range cfg.Warnings {
		log.Warn(warning)
	}

	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	storeClient, err := store.NewClient(store.Config{
		BaseURL: cfg.StoreBaseURL,
		Timeout: cfg.StoreTimeout,
		Logger:  log,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}

	model, err := agent.NewOpenAIModel(agent.OpenAIConfig{
		APIKey:            cfg.LLMKey,
		BaseURL:           cfg.LLMBaseURL,
		Model:             cfg.LLMModel,
		Temperature:       cfg.LLMTemperature,
		Timeout:           cfg.LLMTimeout,
		MaxRetries:        cfg.LLMMaxRetries,
		RequestsPerSecond: cfg.LLMRequestsPerSecond,
		Logger:            log,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("configure llm: %w", err)
	}

	creation, err := services.NewCreationWorkflow(model, storeClient, cfg.AgentMaxTurns, log)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("build creation workflow: %w", err)
	}
	checking, err := services.NewCheckWorkflow(model, storeClient, cfg.AgentMaxTurns, log)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("build check workflow: %w", err)
	}

	documents := services.NewDocumentService(conn)
	reviews := services.NewReviewService(conn)
	flashcards, err := services.NewFlashcardService(services.FlashcardServiceConfig{
		PDF:       services.NewPDFService(),
		Budget:    services.NewTextBudget(cfg.MaxDocumentTokens, log),
		Creation:  creation,
		Checking:  checking,
		Documents: documents,
		Reviews:   reviews,
		Logger:    log,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"llm_model":      cfg.LLMModel,
		"store":          cfg.StoreBaseURL,
		"database":       cfg.Database,
		"creation_nodes": creation.Nodes(),
		"check_nodes":    checking.Nodes(),
	}).Info("services initialised")

	return &App{
		Config:     cfg,
		Log:        log,
		DB:         conn,
		Store:      storeClient,
		Flashcards: flashcards,
		Documents:  documents,
		Reviews:    reviews,
	}, nil
}

// Server returns the HTTP API bound to the app's services. Background
// upload jobs stop when ctx is cancelled.
func (a *App) Server(ctx context.Context) *api.Server {
	return api.NewServer(api.Config{
		Flashcards:     a.Flashcards,
		Documents:      a.Documents,
		MaxUploadBytes: a.Config.MaxUploadBytes,
		Logger:         a.Log,
		BaseContext:    ctx,
	})
}

func (a *App) Close() error {
	return a.DB.Close()
}
