package abuse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailplane/mailplane/internal/model"
)

// ---- fakes ----

type fakeSource struct {
	name  string
	lines []string
	err   error
}

func (s *fakeSource) Name() string                              { return s.name }
func (s *fakeSource) Collect(context.Context) ([]string, error) { return s.lines, s.err }

type fakeEvents struct {
	rows map[string]model.RateLimitEvent
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{rows: map[string]model.RateLimitEvent{}}
}

func (f *fakeEvents) InsertDedup(_ context.Context, e model.RateLimitEvent) (bool, error) {
	if _, dup := f.rows[e.EventHash]; dup {
		return false, nil
	}
	f.rows[e.EventHash] = e
	return true, nil
}

func (f *fakeEvents) CountWindow(_ context.Context, email string, since time.Time) (int, error) {
	n := 0
	for _, e := range f.rows {
		if e.Email == email && !e.EventTime.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeEvents) StampWarned(_ context.Context, hash string, at time.Time) error {
	if e, ok := f.rows[hash]; ok {
		e.WarnedAt = &at
		f.rows[hash] = e
	}
	return nil
}

func (f *fakeEvents) StampDisabled(_ context.Context, hash string, at time.Time) error {
	if e, ok := f.rows[hash]; ok {
		e.DisabledAt = &at
		f.rows[hash] = e
	}
	return nil
}

func (f *fakeEvents) ListRecent(_ context.Context, email string, _ int) ([]model.RateLimitEvent, error) {
	var out []model.RateLimitEvent
	for _, e := range f.rows {
		if e.Email == email {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeState struct {
	rows map[string]*model.MailboxState
}

func newFakeState() *fakeState {
	return &fakeState{rows: map[string]*model.MailboxState{}}
}

func (f *fakeState) Get(_ context.Context, email string) (*model.MailboxState, error) {
	st, ok := f.rows[email]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (f *fakeState) MarkWarned(_ context.Context, email string, at time.Time) error {
	st, ok := f.rows[email]
	if !ok {
		st = &model.MailboxState{Email: email}
		f.rows[email] = st
	}
	st.Status = model.AbuseWarning
	st.WarnCount++
	st.LastWarnAt = &at
	return nil
}

func (f *fakeState) MarkDisabled(_ context.Context, email string, at time.Time) error {
	st, ok := f.rows[email]
	if !ok {
		st = &model.MailboxState{Email: email}
		f.rows[email] = st
	}
	st.Status = model.AbuseDisabled
	st.DisabledAt = &at
	return nil
}

func (f *fakeState) Reset(_ context.Context, email string) error {
	f.rows[email] = &model.MailboxState{Email: email, Status: model.AbuseActive}
	return nil
}

type fakeAudit struct {
	records []model.AuditEvent
}

func (f *fakeAudit) Record(_ context.Context, ev model.AuditEvent) error {
	f.records = append(f.records, ev)
	return nil
}

type fakeControl struct {
	calls []string
	err   error
}

func (f *fakeControl) SetActive(_ context.Context, email string, enabled bool) error {
	f.calls = append(f.calls, email)
	if enabled {
		return errors.New("unexpected enable")
	}
	return f.err
}

// ---- harness ----

type harness struct {
	source  *fakeSource
	events  *fakeEvents
	state   *fakeState
	audit   *fakeAudit
	control *fakeControl
	engine  *Engine
	clock   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		source:  &fakeSource{name: "file:/var/log/mail.log"},
		events:  newFakeEvents(),
		state:   newFakeState(),
		audit:   &fakeAudit{},
		control: &fakeControl{},
		clock:   time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	h.engine = NewEngine(
		[]Source{h.source},
		NewParser(nil),
		h.events,
		h.state,
		h.audit,
		h.control,
		7*24*time.Hour,
		zap.NewNop(),
	)
	h.engine.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) run(t *testing.T, lines ...string) {
	t.Helper()
	h.source.lines = lines
	require.NoError(t, h.engine.Run(context.Background()))
}

// ---- tests ----

func TestFirstEventWarns(t *testing.T) {
	h := newHarness(t)

	h.run(t, "2025-06-01T09:59:00Z rate limit exceeded for ops@example.com queue-id=AAAA111122")

	st, _ := h.state.Get(context.Background(), "ops@example.com")
	require.NotNil(t, st)
	require.Equal(t, model.AbuseWarning, st.Status)
	require.Equal(t, 1, st.WarnCount)
	require.NotNil(t, st.LastWarnAt)

	require.Empty(t, h.control.calls)

	require.Len(t, h.audit.records, 1)
	require.Equal(t, model.AuditMailboxWarned, h.audit.records[0].Kind)
	require.True(t, h.audit.records[0].Success)

	// the event row carries the warn stamp
	evs, _ := h.events.ListRecent(context.Background(), "ops@example.com", 10)
	require.Len(t, evs, 1)
	require.NotNil(t, evs[0].WarnedAt)
}

func TestSecondEventDisables(t *testing.T) {
	h := newHarness(t)

	h.run(t, "2025-06-01T09:58:00Z rate limit exceeded for ops@example.com queue-id=AAAA111122")
	h.run(t, "2025-06-01T09:59:00Z rate limit exceeded for ops@example.com queue-id=BBBB333344")

	st, _ := h.state.Get(context.Background(), "ops@example.com")
	require.Equal(t, model.AbuseDisabled, st.Status)
	require.Equal(t, 1, st.WarnCount)
	require.NotNil(t, st.DisabledAt)

	require.Equal(t, []string{"ops@example.com"}, h.control.calls)

	require.Len(t, h.audit.records, 2)
	require.Equal(t, model.AuditMailboxDisabled, h.audit.records[1].Kind)
	require.True(t, h.audit.records[1].Success)

	evs, _ := h.events.ListRecent(context.Background(), "ops@example.com", 10)
	require.Len(t, evs, 2)
}

func TestDuplicateLinesAreIgnored(t *testing.T) {
	h := newHarness(t)
	line := "2025-06-01T09:59:00Z rate limit exceeded for ops@example.com queue-id=AAAA111122"

	// same tail re-read across three ticks
	h.run(t, line)
	h.run(t, line)
	h.run(t, line)

	st, _ := h.state.Get(context.Background(), "ops@example.com")
	require.Equal(t, model.AbuseWarning, st.Status)
	require.Equal(t, 1, st.WarnCount)
	require.Len(t, h.audit.records, 1)

	evs, _ := h.events.ListRecent(context.Background(), "ops@example.com", 10)
	require.Len(t, evs, 1)
}

func TestDisabledIsTerminal(t *testing.T) {
	h := newHarness(t)

	h.run(t, "2025-06-01T09:57:00Z rate limit exceeded for ops@example.com queue-id=AAAA111122")
	h.run(t, "2025-06-01T09:58:00Z rate limit exceeded for ops@example.com queue-id=BBBB333344")
	h.run(t, "2025-06-01T09:59:00Z rate limit exceeded for ops@example.com queue-id=CCCC555566")

	// third event is recorded but triggers no further action
	evs, _ := h.events.ListRecent(context.Background(), "ops@example.com", 10)
	require.Len(t, evs, 3)
	require.Len(t, h.control.calls, 1)
	require.Len(t, h.audit.records, 2)
}

func TestDisableMarksStateEvenWhenControlFails(t *testing.T) {
	h := newHarness(t)
	h.control.err = errors.New("backend unavailable")

	h.run(t, "2025-06-01T09:58:00Z rate limit exceeded for ops@example.com queue-id=AAAA111122")
	h.run(t, "2025-06-01T09:59:00Z rate limit exceeded for ops@example.com queue-id=BBBB333344")

	st, _ := h.state.Get(context.Background(), "ops@example.com")
	require.Equal(t, model.AbuseDisabled, st.Status)

	require.Len(t, h.audit.records, 2)
	disabled := h.audit.records[1]
	require.Equal(t, model.AuditMailboxDisabled, disabled.Kind)
	require.False(t, disabled.Success)
	require.Contains(t, disabled.Error, "backend unavailable")
}

func TestIndependentMailboxesTrackedSeparately(t *testing.T) {
	h := newHarness(t)

	h.run(t,
		"2025-06-01T09:58:00Z rate limit exceeded for ops@example.com queue-id=AAAA111122",
		"2025-06-01T09:58:30Z rate limit exceeded for sales@example.com queue-id=BBBB333344",
	)

	opsState, _ := h.state.Get(context.Background(), "ops@example.com")
	salesState, _ := h.state.Get(context.Background(), "sales@example.com")
	require.Equal(t, model.AbuseWarning, opsState.Status)
	require.Equal(t, model.AbuseWarning, salesState.Status)
	require.Empty(t, h.control.calls)
}

func TestSourceFailureDoesNotAbortRun(t *testing.T) {
	h := newHarness(t)
	broken := &fakeSource{name: "journal:rspamd.service", err: errors.New("journalctl missing")}
	h.engine.sources = []Source{broken, h.source}

	h.run(t, "2025-06-01T09:59:00Z rate limit exceeded for ops@example.com queue-id=AAAA111122")

	st, _ := h.state.Get(context.Background(), "ops@example.com")
	require.NotNil(t, st)
	require.Equal(t, model.AbuseWarning, st.Status)
}
