package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
}

func TestUserEmailRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, UserEmailFromContext(ctx))

	ctx = WithUserEmail(ctx, "user@example.com")
	assert.Equal(t, "user@example.com", UserEmailFromContext(ctx))
}

func TestWorkflowIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, WorkflowIDFromContext(ctx))

	ctx = WithWorkflowID(ctx, "wf-1")
	assert.Equal(t, "wf-1", WorkflowIDFromContext(ctx))
}

func TestRequestContextFull(t *testing.T) {
	rc := RequestContext{
		RequestID:  "req-1",
		UserEmail:  "user@example.com",
		WorkflowID: "wf-1",
	}

	ctx := WithRequestContextFull(context.Background(), rc)
	got := RequestContextFromContext(ctx)

	assert.Equal(t, rc, got)
}

func TestRequestContextFullSkipsEmptyFields(t *testing.T) {
	ctx := WithRequestContextFull(context.Background(), RequestContext{})
	got := RequestContextFromContext(ctx)

	assert.Empty(t, got.RequestID)
	assert.Empty(t, got.UserEmail)
	assert.Empty(t, got.WorkflowID)
}
