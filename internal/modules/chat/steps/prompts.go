package steps

import (
	"fmt"
	"strings"
)

// promptContextualizeChunk builds the prompt for deriving
// RetrievalDoc.ContextualText from raw message content so chunks stand
// alone for retrieval (§3 RetrievalDoc, §4.3 search). The indexing path in
// maintain.go does not call it; rows it writes keep ContextualText empty.
func promptContextualizeChunk(chatTitle string, role string, chunkText string, recent string) (system string, user string) {
	system = `ROLE: Retrieval contextualizer.
TASK: Rewrite a chat chunk so it stands alone for future search.
OUTPUT: Return ONLY JSON matching the schema (no extra keys).
RULES: Be concise, factual, and retrieval-friendly. Do not invent details.`
	user = "Chat title: " + chatTitle + "\n" +
		"Role: " + role + "\n" +
		"Recent context:\n" + recent + "\n\n" +
		"Chunk:\n" + chunkText + "\n\n" +
		"Task: produce a contextualized version of the chunk that stands alone for retrieval. Include key entities, goals, constraints, decisions, and identifiers."
	return system, user
}

func schemaContextualizeChunk() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"contextual_text": map[string]any{"type": "string"},
			"keywords": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"salience": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
		"required":             []any{"contextual_text", "keywords", "salience"},
		"additionalProperties": false,
	}
}

// promptContextualizeQuery backs iterative-rewrite-RAG (§4.4/§4.5): the
// router's RewrittenQuery is a cheap single-pass rewrite; this is the
// heavier, conversation-grounded rewrite the strategy runs once, at page
// iterativeRewriteMaxPage/2, when the pages so far have come back thin.
func promptContextualizeQuery(chatSummary string, recent string, query string) (system string, user string) {
	system = `ROLE: Retrieval query rewriter.
TASK: Rewrite the user query into a standalone query for search.
OUTPUT: Return ONLY JSON matching the schema (no extra keys).
RULES: Be concise; preserve identifiers; do not add new facts.`
	user = "Chat summary:\n" + chatSummary + "\n\nRecent messages:\n" + recent + "\n\nUser query:\n" + query + "\n\nTask: rewrite the query so it stands alone and includes any needed context."
	return system, user
}

func schemaContextualizeQuery() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"contextual_query": map[string]any{"type": "string"},
		},
		"required":             []any{"contextual_query"},
		"additionalProperties": false,
	}
}

// promptRerank builds a 0-100 relevance-scoring prompt over candidate hits.
// No strategy calls it: filtered-search ranks by blended vector/lexical
// score and MMR.
func promptRerank(query string, items string) (system string, user string) {
	system = `ROLE: Reranker.
TASK: Score each item for relevance to the query.
OUTPUT: Return ONLY JSON matching the schema (no extra keys).
RULES: Use 0-100; be strict; high scores only for direct relevance.`
	user = "Query:\n" + query + "\n\nItems:\n" + items
	return system, user
}

func schemaRerank() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"results": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":    map[string]any{"type": "string"},
						"score": map[string]any{"type": "number", "minimum": 0, "maximum": 100},
					},
					"required":             []any{"id", "score"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []any{"results"},
		"additionalProperties": false,
	}
}

// promptSummarizeNode feeds the chat_maintain workflow's hierarchical
// SummaryNode rollup (§3 TraceTree-adjacent persisted state).
func promptSummarizeNode(level int, childSummaries string) (system string, user string) {
	system = `ROLE: Conversation summarizer.
TASK: Build a hierarchical summary node for long conversations.
OUTPUT: Return ONLY JSON matching the schema (no extra keys).
RULES: Use markdown bullets; preserve identifiers, decisions, TODOs, and open questions.`
	user = fmt.Sprintf("Level: %d\n\nChild summaries:\n%s", level, childSummaries)
	return system, user
}

func schemaSummarizeNode() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary_md": map[string]any{"type": "string"},
		},
		"required":             []any{"summary_md"},
		"additionalProperties": false,
	}
}

// promptTitle generates a short chat title from the first exchange, used
// by the chat_title workflow (POST /chat/title, §6).
func promptTitle(userText string, assistantText string) (system string, user string) {
	system = `ROLE: Title generator.
TASK: Produce a short title (3-7 words) summarizing what this chat is about.
OUTPUT: Return ONLY JSON matching the schema (no extra keys).
RULES: No trailing punctuation; no quotes around the title.`
	user = "User message:\n" + trimToChars(userText, 800) + "\n\nAssistant reply:\n" + trimToChars(assistantText, 800)
	return system, user
}

func schemaTitle() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
		},
		"required":             []any{"title"},
		"additionalProperties": false,
	}
}

// promptMailAnswer is metadata_get's mail-flavored answer prompt (§4.5.1):
// when the router scoped retrieval to the mail app, the answer prompt frames
// results as an inbox digest (sender/subject/thread) rather than generic
// chat chunks.
func promptMailAnswer(contextText string, recent string, query string) (system string, user string) {
	system = strings.TrimSpace(strings.Join([]string{
		"ROLE: Retrieval-augmented mail assistant.",
		"OUTPUT FORMAT: respond with a single JSON object of the shape {\"answer\": \"...\"}.",
		"You may optionally prefix your response with a reasoning preamble wrapped in " + startThinkingToken + " ... " + endThinkingToken + " before the JSON object.",
		"CONTEXT is a list of mail messages. Summarize by sender and subject; note thread/date when relevant.",
		"CITATIONS: cite evidence inline using [n] where n is the Index number shown in the context block. Only cite indices that appear in the context.",
		"Do not fabricate senders, subjects, or dates that are not in the context.",
	}, "\n"))
	user = strings.TrimSpace(strings.Join([]string{
		"MAIL_CONTEXT:",
		defaultString(contextText, "(no retrieved mail)"),
		"",
		"RECENT_MESSAGES:",
		defaultString(recent, "(none)"),
		"",
		"USER_MESSAGE:",
		query,
	}, "\n"))
	return system, user
}

// promptFollowupQuestions backs POST /chat/followup-questions (§6): three
// suggested next questions grounded in the just-completed exchange.
func promptFollowupQuestions(recent string, lastAnswer string) (system string, user string) {
	system = `ROLE: Follow-up question suggester.
TASK: Given the tail of a conversation, propose exactly 3 short follow-up questions the user might ask next.
OUTPUT: Return ONLY JSON matching the schema (no extra keys).
RULES: Questions must be answerable from the same chat's context; no duplicates; no numbering.`
	user = "Recent messages:\n" + recent + "\n\nLast answer:\n" + trimToChars(lastAnswer, 1500)
	return system, user
}

func schemaFollowupQuestions() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questions": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"minItems": 3,
				"maxItems": 3,
			},
		},
		"required":             []any{"questions"},
		"additionalProperties": false,
	}
}
