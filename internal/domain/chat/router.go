package chat

// Route is C4's classification of a user message into one of the four
// retrieval strategies (plus the two non-retrieval shortcuts), driving which
// C5 strategy the orchestrator invokes.
type Route string

const (
	RouteMetadataGet       Route = "metadata_get"
	RouteFilteredSearch    Route = "filtered_search"
	RouteTemporalExpansion Route = "temporal_expansion"
	RouteIterativeRewrite  Route = "iterative_rewrite"
	RouteSmalltalk         Route = "smalltalk"
	RouteDirect            Route = "direct"
)

// TemporalDirection qualifies RouteTemporalExpansion: whether the user is
// asking about what came before or after an anchor point in the chat.
type TemporalDirection string

const (
	TemporalNone   TemporalDirection = "none"
	TemporalBefore TemporalDirection = "before"
	TemporalAfter  TemporalDirection = "after"
)

// MailParticipants names the participants a mail-scoped request is about;
// the router emits names (not addresses). Nothing in this module resolves
// them to addresses, and no retrieval strategy filters on them; only the
// follow-up carry-forward in steps/router.go reads this field.
type MailParticipants struct {
	From []string `json:"from,omitempty"`
	To   []string `json:"to,omitempty"`
	Cc   []string `json:"cc,omitempty"`
	Bcc  []string `json:"bcc,omitempty"`
}

// RouterFilters is the structured filter payload the router attaches to a
// classification (§3 RouterClassification.filters).
type RouterFilters struct {
	Apps             []string          `json:"apps,omitempty"`
	Entities         []string          `json:"entities,omitempty"`
	StartTime        *string           `json:"start_time,omitempty"`
	EndTime          *string           `json:"end_time,omitempty"`
	SortDirection    string            `json:"sort_direction,omitempty"`
	Count            int               `json:"count,omitempty"`
	Offset           int               `json:"offset,omitempty"`
	MailParticipants *MailParticipants `json:"mail_participants,omitempty"`
}

// RouterClassification is C4's structured-output decision for a single
// turn: which strategy to run, what filters/direction to apply, whether the
// turn continues the previous one's topic, and how confident the classifier
// was (§3, §4.4).
type RouterClassification struct {
	Route             Route             `json:"route"`
	TemporalDirection TemporalDirection `json:"temporal_direction"`
	Filters           RouterFilters     `json:"filters"`
	RewrittenQuery    string            `json:"rewritten_query,omitempty"`
	Confidence        float64           `json:"confidence"`

	// IsFollowUp marks this turn as continuing the previous user turn's
	// topic; when true the orchestrator carries forward app/entity scope
	// and advances Filters.Offset by the previous turn's Count (§4.4, §8
	// "follow-up pagination").
	IsFollowUp bool `json:"is_follow_up"`

	// Answer is set when the router decides the turn can be answered
	// straight from conversation history; a non-empty Answer means no
	// retrieval runs at all (§4.4 "Output policies").
	Answer string `json:"answer,omitempty"`

	// FilterQuery is the query string a filtered_search round searches
	// with, distinct from RewrittenQuery (§4.5.2).
	FilterQuery string `json:"filter_query,omitempty"`
}
