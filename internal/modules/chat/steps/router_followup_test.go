package steps

import (
	"testing"

	chat "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
)

// TestApplyFollowUpAdvancesOffsetByPreviousCount exercises §8's U2 testable
// property directly: a "show more" follow-up classification with offset=0
// advances to the previous turn's offset+count instead of restarting
// pagination.
func TestApplyFollowUpAdvancesOffsetByPreviousCount(t *testing.T) {
	prev := &chat.RouterClassification{
		Route:   chat.RouteMetadataGet,
		Filters: chat.RouterFilters{Count: 10, Offset: 0, Apps: []string{"mail"}},
	}
	out := chat.RouterClassification{
		Route:      chat.RouteMetadataGet,
		IsFollowUp: true,
		Filters:    chat.RouterFilters{},
	}
	applyFollowUp(&out, prev)

	if out.Filters.Offset != 10 {
		t.Fatalf("expected carried-forward offset 10, got %d", out.Filters.Offset)
	}
	if out.Filters.Count != 10 {
		t.Fatalf("expected carried-forward count 10, got %d", out.Filters.Count)
	}
	if len(out.Filters.Apps) != 1 || out.Filters.Apps[0] != "mail" {
		t.Fatalf("expected inherited app scope, got %v", out.Filters.Apps)
	}
}

func TestApplyFollowUpLeavesExplicitOffsetAlone(t *testing.T) {
	prev := &chat.RouterClassification{Filters: chat.RouterFilters{Count: 10, Offset: 10}}
	out := chat.RouterClassification{
		IsFollowUp: true,
		Filters:    chat.RouterFilters{Offset: 5},
	}
	applyFollowUp(&out, prev)

	if out.Filters.Offset != 5 {
		t.Fatalf("expected explicit offset to win, got %d", out.Filters.Offset)
	}
}

func TestApplyFollowUpNoopWhenNotFollowUp(t *testing.T) {
	prev := &chat.RouterClassification{Filters: chat.RouterFilters{Count: 10, Offset: 10}}
	out := chat.RouterClassification{Filters: chat.RouterFilters{}}
	applyFollowUp(&out, prev)

	if out.Filters.Offset != 0 {
		t.Fatalf("expected no carry-forward without is_follow_up, got %d", out.Filters.Offset)
	}
}
