package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	userEmailKey  contextKey = "user_email"
	workflowIDKey contextKey = "workflow_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithUserEmail adds the acting user's email to the context.
func WithUserEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, userEmailKey, email)
}

// UserEmailFromContext retrieves the acting user's email from context.
// Returns empty string if not present.
func UserEmailFromContext(ctx context.Context) string {
	if v := ctx.Value(userEmailKey); v != nil {
		if email, ok := v.(string); ok {
			return email
		}
	}
	return ""
}

// WithWorkflowID adds a workflow ID to the context.
func WithWorkflowID(ctx context.Context, workflowID string) context.Context {
	return context.WithValue(ctx, workflowIDKey, workflowID)
}

// WorkflowIDFromContext retrieves the workflow ID from context.
// Returns empty string if not present.
func WorkflowIDFromContext(ctx context.Context) string {
	if v := ctx.Value(workflowIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// RequestContext contains all the per-request context data.
type RequestContext struct {
	RequestID  string
	UserEmail  string
	WorkflowID string
}

// WithRequestContextFull adds all request context to the context.
func WithRequestContextFull(ctx context.Context, rc RequestContext) context.Context {
	if rc.RequestID != "" {
		ctx = WithRequestID(ctx, rc.RequestID)
	}
	if rc.UserEmail != "" {
		ctx = WithUserEmail(ctx, rc.UserEmail)
	}
	if rc.WorkflowID != "" {
		ctx = WithWorkflowID(ctx, rc.WorkflowID)
	}
	return ctx
}

// RequestContextFromContext extracts all request context from the context.
func RequestContextFromContext(ctx context.Context) RequestContext {
	return RequestContext{
		RequestID:  RequestIDFromContext(ctx),
		UserEmail:  UserEmailFromContext(ctx),
		WorkflowID: WorkflowIDFromContext(ctx),
	}
}
