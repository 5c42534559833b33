package types

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	triggerKey   contextKey = "poll_trigger"
)

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// PollTrigger records what started a poll cycle. It is carried in the context
// so log lines emitted deep inside the cycle can say whether the ticker, an
// admin call or a Lambda invocation caused them.
type PollTrigger string

const (
	TriggerTimer   PollTrigger = "timer"
	TriggerStartup PollTrigger = "startup"
	TriggerAdmin   PollTrigger = "admin"
	TriggerLambda  PollTrigger = "lambda"
)

// WithPollTrigger stores the trigger in the context.
func WithPollTrigger(ctx context.Context, t PollTrigger) context.Context {
	return context.WithValue(ctx, triggerKey, t)
}

// GetPollTrigger returns the trigger, or "unknown" if none was set.
func GetPollTrigger(ctx context.Context) PollTrigger {
	if t, ok := ctx.Value(triggerKey).(PollTrigger); ok {
		return t
	}
	return "unknown"
}
