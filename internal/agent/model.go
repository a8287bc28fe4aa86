package agent

import "context"

// Model produces the next assistant message for a conversation. A reply that
// carries tool calls asks the agent to run them and call Generate again.
type Model interface {
	Generate(ctx context.Context, req Request) (Message, error)
}

// Request is one model invocation: the agent's instruction prompt, the
// conversation so far and the tools the model may call.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolSpec
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(ctx context.Context, req Request) (Message, error)

func (f ModelFunc) Generate(ctx context.Context, req Request) (Message, error) {
	return f(ctx, req)
}
