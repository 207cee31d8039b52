package abuse

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mailplane/mailplane/internal/metrics"
	"github.com/mailplane/mailplane/internal/model"
	"github.com/mailplane/mailplane/internal/repository"
	"github.com/mailplane/mailplane/internal/util"
)

// Deactivator is the engine's only mutating path into the mail backend:
// the control API's active-flag write.
type Deactivator interface {
	SetActive(ctx context.Context, email string, enabled bool) error
}

// Engine runs one collection/enforcement pass: collect lines from every
// enabled source, parse, dedup-insert, and escalate per mailbox:
// ACTIVE -> WARNING on the first event inside the rolling window,
// WARNING -> DISABLED on any further event. DISABLED is terminal until the
// manual re-enable.
type Engine struct {
	sources []Source
	parser  *Parser
	events  repository.EventsRepository
	state   repository.StateRepository
	audit   repository.AuditRecorder
	control Deactivator
	window  time.Duration
	log     *zap.Logger

	now func() time.Time // test seam
}

func NewEngine(
	sources []Source,
	parser *Parser,
	eventsRepo repository.EventsRepository,
	stateRepo repository.StateRepository,
	audit repository.AuditRecorder,
	control Deactivator,
	window time.Duration,
	log *zap.Logger,
) *Engine {
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	return &Engine{
		sources: sources,
		parser:  parser,
		events:  eventsRepo,
		state:   stateRepo,
		audit:   audit,
		control: control,
		window:  window,
		log:     log,
		now:     time.Now,
	}
}

// Run executes one pass. Per-source and per-event failures are logged and
// skipped, never returned: the next tick re-reads the same log tail and the
// event hash guarantees nothing already recorded is processed twice.
func (e *Engine) Run(ctx context.Context) error {
	for _, src := range e.sources {
		lines, err := src.Collect(ctx)
		if err != nil {
			e.log.Warn("log source failed", zap.String("source", src.Name()), zap.Error(err))
			continue
		}

		for _, line := range lines {
			parsed, ok := e.parser.Parse(line, e.now())
			if !ok {
				continue
			}
			metrics.EventsTotal.WithLabelValues("parsed").Inc()

			ev := model.RateLimitEvent{
				EventHash: EventHash(parsed.Email, parsed.Bucket, parsed.Action, parsed.MessageID, parsed.QueueID, parsed.EventTime),
				Email:     parsed.Email,
				Bucket:    parsed.Bucket,
				Action:    parsed.Action,
				QueueID:   parsed.QueueID,
				MessageID: parsed.MessageID,
				Source:    src.Name(),
				EventTime: parsed.EventTime,
				Raw:       parsed.Raw,
			}

			inserted, err := e.events.InsertDedup(ctx, ev)
			if err != nil {
				e.log.Error("insert event failed", zap.String("email", ev.Email), zap.Error(err))
				continue
			}
			if !inserted {
				metrics.EventsTotal.WithLabelValues("duplicate").Inc()
				continue
			}
			metrics.EventsTotal.WithLabelValues("inserted").Inc()

			e.enforce(ctx, ev)
		}
	}
	return nil
}

// enforce applies the escalation decision for one newly recorded event.
func (e *Engine) enforce(ctx context.Context, ev model.RateLimitEvent) {
	now := e.now().UTC()

	st, err := e.state.Get(ctx, ev.Email)
	if err != nil {
		e.log.Error("load abuse state failed", zap.String("email", ev.Email), zap.Error(err))
		return
	}
	if st != nil && st.Status == model.AbuseDisabled {
		// Terminal: record the event, take no further action.
		return
	}

	count, err := e.events.CountWindow(ctx, ev.Email, now.Add(-e.window))
	if err != nil {
		e.log.Error("count window failed", zap.String("email", ev.Email), zap.Error(err))
		return
	}

	if count <= 1 {
		e.warn(ctx, ev, now)
		return
	}
	e.disable(ctx, ev, now)
}

func (e *Engine) warn(ctx context.Context, ev model.RateLimitEvent, now time.Time) {
	if err := e.state.MarkWarned(ctx, ev.Email, now); err != nil {
		e.log.Error("mark warned failed", zap.String("email", ev.Email), zap.Error(err))
		return
	}
	if err := e.events.StampWarned(ctx, ev.EventHash, now); err != nil {
		e.log.Error("stamp warned failed", zap.String("hash", ev.EventHash), zap.Error(err))
	}
	metrics.EnforcementsTotal.WithLabelValues("warned").Inc()

	e.record(ctx, model.AuditEvent{
		ID:        util.New(),
		Kind:      model.AuditMailboxWarned,
		Email:     ev.Email,
		Bucket:    ev.Bucket,
		EventHash: ev.EventHash,
		Success:   true,
		CreatedAt: now,
	})
	e.log.Info("mailbox warned", zap.String("email", ev.Email), zap.String("bucket", ev.Bucket))
}

// disable marks the mailbox disabled even when the control-API call fails:
// the internal record reflects "known to be in violation" under backend
// unavailability, and the failure is captured in the audit trail instead of
// retried.
func (e *Engine) disable(ctx context.Context, ev model.RateLimitEvent, now time.Time) {
	callErr := e.control.SetActive(ctx, ev.Email, false)

	if err := e.state.MarkDisabled(ctx, ev.Email, now); err != nil {
		e.log.Error("mark disabled failed", zap.String("email", ev.Email), zap.Error(err))
		return
	}
	if err := e.events.StampDisabled(ctx, ev.EventHash, now); err != nil {
		e.log.Error("stamp disabled failed", zap.String("hash", ev.EventHash), zap.Error(err))
	}

	audit := model.AuditEvent{
		ID:        util.New(),
		Kind:      model.AuditMailboxDisabled,
		Email:     ev.Email,
		Bucket:    ev.Bucket,
		EventHash: ev.EventHash,
		Success:   callErr == nil,
		CreatedAt: now,
	}
	if callErr != nil {
		audit.Error = callErr.Error()
		metrics.EnforcementsTotal.WithLabelValues("disable_failed").Inc()
		e.log.Error("mailbox deactivation call failed; state marked disabled anyway",
			zap.String("email", ev.Email), zap.Error(callErr))
	} else {
		metrics.EnforcementsTotal.WithLabelValues("disabled").Inc()
		e.log.Info("mailbox disabled", zap.String("email", ev.Email), zap.String("bucket", ev.Bucket))
	}
	e.record(ctx, audit)
}

func (e *Engine) record(ctx context.Context, ev model.AuditEvent) {
	if err := e.audit.Record(ctx, ev); err != nil {
		e.log.Error("record audit event failed", zap.String("email", ev.Email), zap.Error(err))
	}
}
