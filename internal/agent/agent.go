package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultMaxTurns = 8

var (
	// ErrToolNotFound is matched by every ToolNotFoundError.
	ErrToolNotFound = errors.New("tool not found")
	// ErrMaxTurns is returned when the model keeps requesting tools past the
	// configured turn ceiling.
	ErrMaxTurns = errors.New("agent exceeded max turns")
)

// ToolNotFoundError reports a model request for an unregistered tool.
type ToolNotFoundError struct {
	Name      string
	Available []string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

func (e *ToolNotFoundError) Is(target error) bool {
	return target == ErrToolNotFound
}

// Config binds a model, an instruction prompt and a tool set.
type Config struct {
	Name     string
	Prompt   string
	Model    Model
	Tools    []Tool
	MaxTurns int
	Logger   logrus.FieldLogger
}

// Agent runs the tool-calling loop for a single prompt. It holds no state
// between runs and is safe for concurrent use.
type Agent struct {
	name     string
	prompt   string
	model    Model
	tools    *Registry
	maxTurns int
	log      logrus.FieldLogger
}

// RunResult captures the outcome of a single agent run.
type RunResult struct {
	Output    string
	Messages  []Message // messages produced by this run, in order
	ToolCalls []ToolCallRecord
	Turns     int
}

// ToolCallRecord records a single tool invocation.
type ToolCallRecord struct {
	ID        string
	Name      string
	Arguments map[string]any
	Output    string
	Error     string
	Duration  time.Duration
}

// Failed reports whether the tool invocation produced an error.
func (c ToolCallRecord) Failed() bool {
	return c.Error != ""
}

func New(cfg Config) (*Agent, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New("agent name is required")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("agent %s: model is nil", cfg.Name)
	}
	registry, err := NewRegistry(cfg.Tools...)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", cfg.Name, err)
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Agent{
		name:     cfg.Name,
		prompt:   cfg.Prompt,
		model:    cfg.Model,
		tools:    registry,
		maxTurns: maxTurns,
		log:      log.WithField("agent", cfg.Name),
	}, nil
}

type loopState int

const (
	awaitingModel loopState = iota
	awaitingToolResults
	done
)

// Run alternates between model inference and tool execution until the model
// answers without requesting tools.
func (a *Agent) Run(ctx context.Context, conversation []Message) (*RunResult, error) {
	if ctx == nil {
		return nil, errors.New("context is nil")
	}

	history := slices.Clone(conversation)
	result := &RunResult{}
	specs := a.tools.Specs()

	var pending []ToolCall
	state := awaitingModel
	for state != done {
		switch state {
		case awaitingModel:
			if result.Turns >= a.maxTurns {
				return result, fmt.Errorf("agent %s: %w (%d)", a.name, ErrMaxTurns, a.maxTurns)
			}
			if err := ctx.Err(); err != nil {
				return result, err
			}
			result.Turns++

			reply, err := a.model.Generate(ctx, Request{
				System:   a.prompt,
				Messages: history,
				Tools:    specs,
			})
			if err != nil {
				return result, fmt.Errorf("agent %s turn %d: %w", a.name, result.Turns, err)
			}
			reply.Role = RoleAssistant
			reply.ToolCalls = withCallIDs(reply.ToolCalls)
			history = append(history, reply)
			result.Messages = append(result.Messages, reply)

			if !reply.HasToolCalls() {
				result.Output = reply.Content
				state = done
				continue
			}

			// Resolve every requested tool before running any of them.
			for _, call := range reply.ToolCalls {
				if _, err := a.tools.Get(call.Name); err != nil {
					a.log.WithField("tool", call.Name).Error("model requested unknown tool")
					return result, fmt.Errorf("agent %s turn %d: %w", a.name, result.Turns, err)
				}
			}
			pending = reply.ToolCalls
			state = awaitingToolResults

		case awaitingToolResults:
			for _, call := range pending {
				record := a.invoke(ctx, call)
				result.ToolCalls = append(result.ToolCalls, record)
				msg := Message{
					Role:       RoleTool,
					Content:    record.Output,
					ToolCallID: call.ID,
					Name:       call.Name,
				}
				history = append(history, msg)
				result.Messages = append(result.Messages, msg)
			}
			pending = nil
			state = awaitingModel
		}
	}

	a.log.WithFields(logrus.Fields{
		"turns":      result.Turns,
		"tool_calls": len(result.ToolCalls),
	}).Debug("agent run completed")
	return result, nil
}

func (a *Agent) invoke(ctx context.Context, call ToolCall) ToolCallRecord {
	record := ToolCallRecord{ID: call.ID, Name: call.Name}
	log := a.log.WithFields(logrus.Fields{"tool": call.Name, "call_id": call.ID})

	args, err := decodeArguments(call.Arguments)
	if err != nil {
		record.Error = err.Error()
		record.Output = fmt.Sprintf("Error: invalid arguments for %s: %v", call.Name, err)
		log.WithError(err).Warn("tool arguments rejected")
		return record
	}
	record.Arguments = args

	started := time.Now()
	output, err := a.tools.Execute(ctx, call.Name, args)
	record.Duration = time.Since(started)
	if err != nil {
		record.Error = err.Error()
		record.Output = "Error: " + err.Error()
		log.WithError(err).Warn("tool call failed")
		return record
	}
	record.Output = stringify(output)
	log.WithField("duration", record.Duration).Info("tool call completed")
	return record
}

func decodeArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("parse tool arguments: %w", err)
	}
	return args, nil
}

// withCallIDs synthesizes ids for providers that omit them so results can
// always be matched to their call.
func withCallIDs(calls []ToolCall) []ToolCall {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = "call_" + uuid.NewString()
		}
	}
	return calls
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case []byte:
		return string(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
