// Package adminqueue implements the admin verification queue: the list of
// workflows whose payment claims await manual verification, and the approve
// and reject decisions over them. Approval drives the analysis pipeline to
// completion; rejection routes the owner back to the payment step.
package adminqueue

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/osteoscope/screening-service/internal/domain"
	"github.com/osteoscope/screening-service/internal/notify"
	"github.com/osteoscope/screening-service/internal/observability"
	"github.com/osteoscope/screening-service/internal/store"
)

// workflowCollection mirrors the workflow service's collection name.
const workflowCollection = "Workflow"

// Transitions is the slice of the workflow state machine the queue drives.
type Transitions interface {
	BeginAnalysis(ctx context.Context, id string) (*domain.Workflow, error)
	CompleteAnalysis(ctx context.Context, id, analysisID string) (*domain.Workflow, error)
	FailAnalysis(ctx context.Context, id, message string) (*domain.Workflow, error)
	RejectPayment(ctx context.Context, id string) (*domain.Workflow, error)
}

// Runner executes the analysis pipeline for an approved workflow.
type Runner interface {
	Run(ctx context.Context, wf *domain.Workflow) (*domain.XRayAnalysis, error)
}

// Queue lists pending verifications and applies admin decisions.
type Queue struct {
	workflows *store.Collection[domain.Workflow]
	machine   Transitions
	pipeline  Runner
	notifier  notify.Notifier
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// New creates a Queue.
func New(st *store.Store, machine Transitions, pipeline Runner, notifier notify.Notifier, metrics *observability.Metrics, logger zerolog.Logger) *Queue {
	return &Queue{
		workflows: store.NewCollection[domain.Workflow](st, workflowCollection),
		machine:   machine,
		pipeline:  pipeline,
		notifier:  notifier,
		metrics:   metrics,
		logger:    logger.With().Str("component", "adminqueue").Logger(),
	}
}

// Pending returns the workflows eligible for verification, newest first.
// A workflow qualifies when its payment awaits verification, it carries every
// field the pipeline needs, and it has not already failed analysis.
func (q *Queue) Pending(ctx context.Context) ([]domain.Workflow, error) {
	candidates, err := q.workflows.Filter(ctx, store.Record{
		"payment_status": string(domain.PaymentAwaitingVerification),
	}, "-created_date", 0)
	if err != nil {
		return nil, err
	}

	eligible := make([]domain.Workflow, 0, len(candidates))
	for _, wf := range candidates {
		if !wf.HasAnalysisPrerequisites() {
			continue
		}
		if wf.WorkflowStep == domain.StepAnalysisFailed {
			continue
		}
		eligible = append(eligible, wf)
	}
	return eligible, nil
}

// Approve verifies the payment and runs the analysis pipeline to completion.
// A pipeline failure marks the workflow analysis_failed with the error
// message, creates no analysis record, and propagates the error.
func (q *Queue) Approve(ctx context.Context, id string) (*domain.Workflow, error) {
	wf, err := q.workflows.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.PaymentStatus != domain.PaymentAwaitingVerification {
		return nil, &domain.InvalidStateError{
			WorkflowID: wf.ID,
			Step:       wf.WorkflowStep,
			Message:    fmt.Sprintf("payment status %q is not awaiting verification", wf.PaymentStatus),
		}
	}
	if !wf.HasAnalysisPrerequisites() {
		return nil, &domain.InvalidStateError{
			WorkflowID: wf.ID,
			Step:       wf.WorkflowStep,
			Message:    "incomplete workflow data, cannot start analysis",
		}
	}

	q.notifyBestEffort(ctx, notify.Email{
		To:      wf.UserEmail,
		Subject: "Payment Verified: Your X-ray Analysis has Started",
		Body: fmt.Sprintf(
			"Hi,\n\nYour payment for X-ray analysis has been verified successfully!\n\n"+
				"Analysis Details:\n- Patient: %s\n- Request ID: #%s\n- Amount: ₹%d\n- Status: Analysis in progress\n\n"+
				"Your results will be ready shortly.",
			wf.PatientName, shortID(wf.ID), wf.PaymentAmountINR),
	})

	inProgress, err := q.machine.BeginAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}

	created, err := q.pipeline.Run(ctx, inProgress)
	if err != nil {
		if _, failErr := q.machine.FailAnalysis(ctx, id, err.Error()); failErr != nil {
			q.logger.Error().Err(failErr).Str("workflow_id", id).
				Msg("failed to record analysis failure")
		}
		return nil, err
	}

	completed, err := q.machine.CompleteAnalysis(ctx, id, created.ID)
	if err != nil {
		return nil, err
	}

	q.metrics.RecordAdminApproval()
	wfLog := observability.WithWorkflowContext(q.logger, id, string(completed.WorkflowStep))
	wfLog.Info().Str("analysis_id", created.ID).Msg("payment approved, analysis completed")
	return completed, nil
}

// Reject marks the payment as failed. The workflow step is left untouched so
// the derived step routes the owner back to payment.
func (q *Queue) Reject(ctx context.Context, id string) (*domain.Workflow, error) {
	rejected, err := q.machine.RejectPayment(ctx, id)
	if err != nil {
		return nil, err
	}

	q.metrics.RecordAdminRejection()
	wfLog := observability.WithWorkflowContext(q.logger, id, string(rejected.WorkflowStep))
	wfLog.Info().Msg("payment rejected")
	return rejected, nil
}

func (q *Queue) notifyBestEffort(ctx context.Context, email notify.Email) {
	if q.notifier == nil {
		return
	}
	if err := q.notifier.SendEmail(ctx, email); err != nil {
		q.logger.Warn().Err(err).Str("to", email.To).Msg("notification failed")
	}
}

func shortID(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[len(id)-6:]
}
