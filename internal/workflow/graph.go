package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"flash-agent/internal/agent"
)

// Sentinel node names marking the entry and terminal points of a graph.
const (
	Start = "__start__"
	End   = "__end__"
)

// State is the conversation threaded between nodes.
type State struct {
	Messages []agent.Message
}

// Last returns the final message of the conversation.
func (s State) Last() (agent.Message, bool) {
	if len(s.Messages) == 0 {
		return agent.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Node is one stage of a workflow.
type Node interface {
	Invoke(ctx context.Context, state State) (State, error)
}

// NodeFunc adapts a function to the Node interface.
type NodeFunc func(ctx context.Context, state State) (State, error)

func (f NodeFunc) Invoke(ctx context.Context, state State) (State, error) {
	return f(ctx, state)
}

// AgentNode runs an agent on the accumulated conversation and appends the
// messages the run produced.
type AgentNode struct {
	Agent *agent.Agent
}

func (n AgentNode) Invoke(ctx context.Context, state State) (State, error) {
	res, err := n.Agent.Run(ctx, state.Messages)
	if err != nil {
		return state, err
	}
	next := State{Messages: make([]agent.Message, 0, len(state.Messages)+len(res.Messages))}
	next.Messages = append(next.Messages, state.Messages...)
	next.Messages = append(next.Messages, res.Messages...)
	return next, nil
}

// Graph collects nodes and unconditional edges before compilation.
type Graph struct {
	nodes map[string]Node
	order []string
	edges map[string]string
	err   error
}

func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]Node),
		edges: make(map[string]string),
	}
}

// AddNode registers a named node. The first error encountered while building
// is reported by Compile.
func (g *Graph) AddNode(name string, node Node) *Graph {
	switch {
	case g.err != nil:
	case name == "" || name == Start || name == End:
		g.err = fmt.Errorf("invalid node name %q", name)
	case node == nil:
		g.err = fmt.Errorf("node %s is nil", name)
	default:
		if _, exists := g.nodes[name]; exists {
			g.err = fmt.Errorf("node %s already added", name)
			break
		}
		g.nodes[name] = node
		g.order = append(g.order, name)
	}
	return g
}

// AddEdge sequences to after from. Each node has at most one outgoing edge.
func (g *Graph) AddEdge(from, to string) *Graph {
	if g.err != nil {
		return g
	}
	if from == End {
		g.err = errors.New("end node cannot have outgoing edges")
		return g
	}
	if to == Start {
		g.err = errors.New("start node cannot have incoming edges")
		return g
	}
	if existing, ok := g.edges[from]; ok {
		g.err = fmt.Errorf("node %s already has an edge to %s", from, existing)
		return g
	}
	g.edges[from] = to
	return g
}

// Compile validates the graph and resolves it into an ordered pipeline.
func (g *Graph) Compile(log logrus.FieldLogger) (*Pipeline, error) {
	if g.err != nil {
		return nil, g.err
	}
	if len(g.nodes) == 0 {
		return nil, errors.New("graph has no nodes")
	}
	for from, to := range g.edges {
		if from != Start {
			if _, ok := g.nodes[from]; !ok {
				return nil, fmt.Errorf("edge from unknown node %s", from)
			}
		}
		if to != End {
			if _, ok := g.nodes[to]; !ok {
				return nil, fmt.Errorf("edge to unknown node %s", to)
			}
		}
	}

	var steps []step
	visited := make(map[string]bool, len(g.nodes))
	current := Start
	for {
		next, ok := g.edges[current]
		if !ok {
			return nil, fmt.Errorf("node %s has no path to end", current)
		}
		if next == End {
			break
		}
		if visited[next] {
			return nil, fmt.Errorf("cycle detected at node %s", next)
		}
		visited[next] = true
		steps = append(steps, step{name: next, node: g.nodes[next]})
		current = next
	}

	for _, name := range g.order {
		if !visited[name] {
			return nil, fmt.Errorf("node %s is unreachable", name)
		}
	}

	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{steps: steps, log: log}, nil
}

type step struct {
	name string
	node Node
}

// Pipeline is a compiled, immutable graph. Concurrent invocations share no
// state.
type Pipeline struct {
	steps []step
	log   logrus.FieldLogger
}

// Nodes lists node names in execution order.
func (p *Pipeline) Nodes() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.name
	}
	return names
}

// Invoke runs every node in order, feeding each the state produced by the
// previous one.
func (p *Pipeline) Invoke(ctx context.Context, initial []agent.Message) (State, error) {
	state := State{Messages: slices.Clone(initial)}
	for _, s := range p.steps {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		started := time.Now()
		next, err := s.node.Invoke(ctx, state)
		if err != nil {
			p.log.WithError(err).WithField("node", s.name).Error("workflow node failed")
			return state, fmt.Errorf("node %s: %w", s.name, err)
		}
		p.log.WithFields(logrus.Fields{
			"node":     s.name,
			"messages": len(next.Messages),
			"duration": time.Since(started).String(),
		}).Info("workflow node completed")
		state = next
	}
	return state, nil
}
