package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within
// a context. Fields flow through context enrichment so every statement during
// the processing of one webhook action carries the action's identity.
type LogFields struct {
	EventID    *string // Trello action id (idempotency key)
	CardID     *string // Subject card id
	ActionType *string // e.g. "createCard", "updateCard"
	UpdateID   *string // Pending-operation id during queue drain
	Component  string  // e.g. "orderflow.publisher", "orderflow.store.drain"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking
// precedence. Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.EventID != nil {
		result.EventID = next.EventID
	}
	if next.CardID != nil {
		result.CardID = next.CardID
	}
	if next.ActionType != nil {
		result.ActionType = next.ActionType
	}
	if next.UpdateID != nil {
		result.UpdateID = next.UpdateID
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if
// truncated. Useful for logging card descriptions and error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
