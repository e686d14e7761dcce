package application

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"sync"

	"github.com/juju/clock"
	"github.com/oklog/ulid"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
	"github.com/ericfisherdev/vendorvault/internal/domain/port/driven"
)

// systemActor is recorded when an operation has no caller identity.
const systemActor = "system"

// AuditRecorder stamps audit entries with an id and timestamp and appends
// them to every configured sink. A failing sink is logged and does not fail
// the audited operation.
type AuditRecorder struct {
	sinks  []driven.AuditSink
	clock  clock.Clock
	logger *slog.Logger

	// entropy is a monotonic reader; it is not safe for concurrent use.
	mu      sync.Mutex
	entropy io.Reader
}

// NewAuditRecorder creates an AuditRecorder writing to sinks.
func NewAuditRecorder(clk clock.Clock, logger *slog.Logger, sinks ...driven.AuditSink) *AuditRecorder {
	return &AuditRecorder{
		sinks:   sinks,
		clock:   clk,
		logger:  logger,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Record appends entry to all sinks and returns the stamped entry. Appends
// run on a context detached from the caller's cancellation so an operation
// that completed is recorded even if the caller stopped waiting.
func (r *AuditRecorder) Record(ctx context.Context, entry model.AuditEntry) model.AuditEntry {
	now := r.clock.Now().UTC()

	r.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), r.entropy)
	r.mu.Unlock()
	if err != nil {
		r.logger.Error("audit id generation failed", "error", err)
		id = ulid.MustNew(ulid.Timestamp(now), rand.Reader)
	}

	entry.ID = id.String()
	entry.Timestamp = now
	if entry.Actor == "" {
		entry.Actor = systemActor
	}

	ctx = context.WithoutCancel(ctx)
	for _, sink := range r.sinks {
		if err := sink.Append(ctx, entry); err != nil {
			r.logger.Error("audit append failed",
				"audit_id", entry.ID,
				"vendor_id", entry.VendorID,
				"scope", entry.Scope.String(),
				"action", entry.Action,
				"error", err,
			)
		}
	}

	return entry
}

// outcomeFor maps an operation error to the audit outcome.
func outcomeFor(err error) model.AuditOutcome {
	if err != nil {
		return model.AuditOutcomeFailure
	}
	return model.AuditOutcomeSuccess
}
