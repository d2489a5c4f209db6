// Package tracetree implements the per-turn TraceTree (§3, §9: "a small
// span interface: startChild, setAttr, end") directly on top of
// go.opentelemetry.io/otel/trace.Span, and renders the recorded tree to JSON
// for persistence into ChatTrace.Tree (§6, GET /chat/trace).
package tracetree

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "ragchat-core/tracetree"

// Node is one span in the rendered tree: persisted verbatim into
// ChatTrace.Tree as jsonb.
type Node struct {
	Name      string         `json:"name"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
	Children  []*Node        `json:"children,omitempty"`
}

// Span is the small span interface the orchestrator threads through the
// router, retrieval, context-build, and streaming steps.
type Span struct {
	otel  trace.Span
	node  *Node
	mu    *sync.Mutex
	ended bool
}

// Root starts the turn-level root span and returns the context carrying it
// plus the root Span; Render(ctx) at the end of the turn produces the
// persisted tree.
func Root(ctx context.Context, name string, attrs map[string]any) (context.Context, *Span) {
	tracer := otel.Tracer(tracerName)
	ctx, otelSpan := tracer.Start(ctx, name)
	node := &Node{Name: name, StartedAt: time.Now().UTC(), Attrs: attrs}
	setOtelAttrs(otelSpan, attrs)
	ctx = context.WithValue(ctx, nodeKey{}, node)
	return ctx, &Span{otel: otelSpan, node: node, mu: &sync.Mutex{}}
}

type nodeKey struct{}

// StartChild opens a child span under whatever root/child is stored in ctx
// (or a detached node if none, so callers never nil-check).
func StartChild(ctx context.Context, name string, attrs map[string]any) (context.Context, *Span) {
	tracer := otel.Tracer(tracerName)
	ctx, otelSpan := tracer.Start(ctx, name)
	setOtelAttrs(otelSpan, attrs)
	child := &Node{Name: name, StartedAt: time.Now().UTC(), Attrs: attrs}

	if parent, ok := ctx.Value(nodeKey{}).(*Node); ok && parent != nil {
		parent.Children = append(parent.Children, child)
	}
	ctx = context.WithValue(ctx, nodeKey{}, child)
	return ctx, &Span{otel: otelSpan, node: child, mu: &sync.Mutex{}}
}

// SetAttr records an attribute on both the otel span and the persisted node.
func (s *Span) SetAttr(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.node.Attrs == nil {
		s.node.Attrs = map[string]any{}
	}
	s.node.Attrs[key] = value
	setOtelAttrs(s.otel, map[string]any{key: value})
}

// End closes the span; safe to call more than once.
func (s *Span) End() {
	if s == nil || s.ended {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	now := time.Now().UTC()
	s.node.EndedAt = &now
	s.otel.End()
	s.ended = true
}

// Node exposes the underlying persisted node, e.g. for Render at the root.
func (s *Span) Node() *Node {
	if s == nil {
		return nil
	}
	return s.node
}

// Render serializes a tree rooted at n to the jsonb shape ChatTrace.Tree
// stores; a nil root renders an empty object rather than null.
func Render(n *Node) []byte {
	if n == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(n)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func setOtelAttrs(span trace.Span, attrs map[string]any) {
	if span == nil || len(attrs) == 0 {
		return
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch t := v.(type) {
		case string:
			kvs = append(kvs, attribute.String(k, t))
		case int:
			kvs = append(kvs, attribute.Int(k, t))
		case int64:
			kvs = append(kvs, attribute.Int64(k, t))
		case float64:
			kvs = append(kvs, attribute.Float64(k, t))
		case bool:
			kvs = append(kvs, attribute.Bool(k, t))
		default:
			if b, err := json.Marshal(t); err == nil {
				kvs = append(kvs, attribute.String(k, string(b)))
			}
		}
	}
	span.SetAttributes(kvs...)
}
