package steps

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	chat "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
	"github.com/fenwick-ai/ragchat-core/internal/platform/llm"
)

func resolveChatRouteModel() string {
	return strings.TrimSpace(os.Getenv("CHAT_ROUTE_MODEL"))
}

func resolveChatRouteTimeout() time.Duration {
	return 8 * time.Second
}

// RouteChatMessage is C4: a single structured-output LLM call classifying
// the user's turn into one of the four retrieval strategies (or a
// non-retrieval shortcut), per §3 RouterClassification / §4.4.
func RouteChatMessage(ctx context.Context, ai llm.Client, userText string, recent string, prevRoute *chat.RouterClassification) (chat.RouterClassification, error) {
	out := chat.RouterClassification{Route: chat.RouteDirect, Confidence: 0}
	userText = strings.TrimSpace(userText)
	if ai == nil || userText == "" {
		return out, nil
	}

	system := strings.TrimSpace(strings.Join([]string{
		"You route a user's chat message to a retrieval strategy.",
		"Routes:",
		"- smalltalk: off-topic or casual chat, no retrieval needed.",
		"- direct: answerable from the recent conversation alone, no retrieval needed.",
		"- metadata_get: user wants a specific, countable set of items (\"show me the last 5 messages about X\").",
		"- filtered_search: user asks a topical question best answered by a relevance search, optionally scoped by filters.",
		"- temporal_expansion: user asks what came before/after a point in the conversation (\"what did we discuss before that\").",
		"- iterative_rewrite: default fallback for open-ended questions needing broad search with query rewriting.",
		"Set is_follow_up=true when the user is continuing the previous turn's topic (e.g. \"show more\", \"what about the rest\").",
		"Set answer when the question is fully answerable from RECENT_MESSAGES alone; when answer is set, retrieval is skipped entirely.",
		"Set filter_query to the exact string a filtered_search round should search with, if different from the user's raw text.",
		"filters.count/filters.offset paginate a result set; leave both at 0 unless the user named a count or is asking for \"more\".",
		"filters.mail_participants holds participant NAMES as written by the user, not resolved addresses.",
		"Return ONLY JSON matching the schema.",
	}, "\n"))

	prevJSON := "(none)"
	if prevRoute != nil {
		if b, err := json.Marshal(prevRoute); err == nil {
			prevJSON = string(b)
		}
	}

	user := strings.TrimSpace(strings.Join([]string{
		"RECENT_MESSAGES:",
		defaultString(recent, "(none)"),
		"",
		"PREVIOUS_CLASSIFICATION:",
		prevJSON,
		"",
		"USER_MESSAGE:",
		userText,
	}, "\n"))

	mailParticipantsSchema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"from": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"to":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"cc":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"bcc":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}

	filtersSchema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"apps":              map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"entities":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"start_time":        map[string]any{"type": "string"},
			"end_time":          map[string]any{"type": "string"},
			"sort_direction":    map[string]any{"type": "string", "enum": []any{"asc", "desc"}},
			"count":             map[string]any{"type": "integer", "minimum": 0},
			"offset":            map[string]any{"type": "integer", "minimum": 0},
			"mail_participants": mailParticipantsSchema,
		},
	}

	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"route": map[string]any{
				"type": "string",
				"enum": []any{"smalltalk", "direct", "metadata_get", "filtered_search", "temporal_expansion", "iterative_rewrite"},
			},
			"temporal_direction": map[string]any{
				"type": "string",
				"enum": []any{"none", "before", "after"},
			},
			"filters":         filtersSchema,
			"rewritten_query": map[string]any{"type": "string"},
			"filter_query":    map[string]any{"type": "string"},
			"is_follow_up":    map[string]any{"type": "boolean"},
			"answer":          map[string]any{"type": "string"},
			"confidence":      map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
		"required": []any{"route", "temporal_direction", "filters", "rewritten_query", "filter_query", "is_follow_up", "answer", "confidence"},
	}

	model := resolveChatRouteModel()
	client := ai
	if model != "" {
		client = llm.WithModel(ai, model)
	}

	routeCtx, cancel := context.WithTimeout(ctx, resolveChatRouteTimeout())
	defer cancel()
	obj, err := client.GenerateJSON(routeCtx, system, user, "chat_route_v1", schema)
	if err != nil {
		return out, err
	}
	b, _ := json.Marshal(obj)
	_ = json.Unmarshal(b, &out)
	out.Route = chat.Route(strings.ToLower(strings.TrimSpace(string(out.Route))))
	if out.Route == "" {
		out.Route = chat.RouteDirect
	}
	applyFollowUp(&out, prevRoute)
	return out, nil
}

// applyFollowUp implements §4.4's follow-up inheritance rule and §8's U2
// testable property: a "show more"-style follow-up advances the offset by
// the previous turn's count rather than restarting pagination at 0, and
// inherits app/entity/participant scope the new classification left empty.
func applyFollowUp(out *chat.RouterClassification, prev *chat.RouterClassification) {
	if !out.IsFollowUp || prev == nil {
		return
	}
	if out.Filters.Offset == 0 {
		out.Filters.Offset = prev.Filters.Offset + prev.Filters.Count
	}
	if len(out.Filters.Apps) == 0 {
		out.Filters.Apps = prev.Filters.Apps
	}
	if len(out.Filters.Entities) == 0 {
		out.Filters.Entities = prev.Filters.Entities
	}
	if out.Filters.MailParticipants == nil {
		out.Filters.MailParticipants = prev.Filters.MailParticipants
	}
	if out.Filters.Count == 0 {
		out.Filters.Count = prev.Filters.Count
	}
}

func defaultString(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
