package jobs

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

func defaultRetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    time.Minute,
		MaximumAttempts:    5,
	}
}

// MaintainChatWorkflow runs chat_maintain: a single activity, retried with
// backoff, that indexes any new messages and rolls up a summary node.
// Respond does not start it; it runs only when a caller outside this module
// starts the workflow.
func MaintainChatWorkflow(ctx workflow.Context, in ChatJobInput) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy:         defaultRetryPolicy(),
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *Activities
	return workflow.ExecuteActivity(ctx, a.MaintainChatActivity, in).Get(ctx, nil)
}

// TitleChatWorkflow runs chat_title: generate and persist a short title for
// a new chat, backing POST /chat/title.
func TitleChatWorkflow(ctx workflow.Context, in ChatJobInput) (string, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         defaultRetryPolicy(),
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *Activities
	var title string
	err := workflow.ExecuteActivity(ctx, a.TitleChatActivity, in).Get(ctx, &title)
	return title, err
}
