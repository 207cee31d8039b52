package backend

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mailplane/mailplane/internal/command"
	"github.com/mailplane/mailplane/internal/config"
	"github.com/mailplane/mailplane/internal/keys"
	"github.com/mailplane/mailplane/internal/model"
)

// ---- fakes ----

type fakeDomains struct {
	rows map[string]*model.Domain
}

func newFakeDomains() *fakeDomains { return &fakeDomains{rows: map[string]*model.Domain{}} }

func (f *fakeDomains) Upsert(_ context.Context, d model.Domain) error {
	if existing, ok := f.rows[d.Name]; ok {
		d.ID = existing.ID
		d.CreatedAt = existing.CreatedAt
	} else {
		d.ID = int64(len(f.rows) + 1)
		d.CreatedAt = time.Now()
	}
	d.Active = true
	d.DeletedAt = nil
	f.rows[d.Name] = &d
	return nil
}

func (f *fakeDomains) GetByName(_ context.Context, name string) (*model.Domain, error) {
	d, ok := f.rows[name]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDomains) ListSummaries(_ context.Context) ([]model.DomainSummary, error) {
	var out []model.DomainSummary
	for _, d := range f.rows {
		if d.DeletedAt == nil {
			out = append(out, model.DomainSummary{Domain: *d})
		}
	}
	return out, nil
}

func (f *fakeDomains) SoftDelete(_ context.Context, _ *sqlx.Tx, name string) (bool, error) {
	d, ok := f.rows[name]
	if !ok {
		return false, nil
	}
	now := time.Now()
	d.Active = false
	d.DeletedAt = &now
	return true, nil
}

type fakeMailboxes struct {
	rows map[string]*model.Mailbox
}

func newFakeMailboxes() *fakeMailboxes { return &fakeMailboxes{rows: map[string]*model.Mailbox{}} }

func (f *fakeMailboxes) Upsert(_ context.Context, m model.Mailbox) error {
	m.Active = true
	m.DisabledAt = nil
	f.rows[m.Email] = &m
	return nil
}

func (f *fakeMailboxes) GetByEmail(_ context.Context, email string) (*model.Mailbox, error) {
	m, ok := f.rows[email]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMailboxes) List(_ context.Context, domain string) ([]model.Mailbox, error) {
	var out []model.Mailbox
	for _, m := range f.rows {
		if domain == "" || m.Domain == domain {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeMailboxes) Delete(_ context.Context, email string) (bool, error) {
	if _, ok := f.rows[email]; !ok {
		return false, nil
	}
	delete(f.rows, email)
	return true, nil
}

func (f *fakeMailboxes) DeleteByDomain(_ context.Context, _ *sqlx.Tx, domain string) (int64, error) {
	var n int64
	for email, m := range f.rows {
		if m.Domain == domain {
			delete(f.rows, email)
			n++
		}
	}
	return n, nil
}

func (f *fakeMailboxes) SetQuota(_ context.Context, email string, quotaMB int) (bool, error) {
	m, ok := f.rows[email]
	if !ok {
		return false, nil
	}
	m.QuotaMB = quotaMB
	return true, nil
}

func (f *fakeMailboxes) SetPasswordHash(_ context.Context, email, hash string) (bool, error) {
	m, ok := f.rows[email]
	if !ok {
		return false, nil
	}
	m.PasswordHash = hash
	return true, nil
}

func (f *fakeMailboxes) SetActive(_ context.Context, email string, active bool) (bool, error) {
	m, ok := f.rows[email]
	if !ok {
		return false, nil
	}
	m.Active = active
	if active {
		m.DisabledAt = nil
	} else {
		now := time.Now()
		m.DisabledAt = &now
	}
	return true, nil
}

type fakeState struct {
	rows map[string]*model.MailboxState
}

func newFakeState() *fakeState { return &fakeState{rows: map[string]*model.MailboxState{}} }

func (f *fakeState) Get(_ context.Context, email string) (*model.MailboxState, error) {
	st, ok := f.rows[email]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (f *fakeState) MarkWarned(_ context.Context, email string, at time.Time) error {
	f.rows[email] = &model.MailboxState{Email: email, Status: model.AbuseWarning, WarnCount: 1, LastWarnAt: &at}
	return nil
}

func (f *fakeState) MarkDisabled(_ context.Context, email string, at time.Time) error {
	f.rows[email] = &model.MailboxState{Email: email, Status: model.AbuseDisabled, DisabledAt: &at}
	return nil
}

func (f *fakeState) Reset(_ context.Context, email string) error {
	f.rows[email] = &model.MailboxState{Email: email, Status: model.AbuseActive}
	return nil
}

type fakeRunner struct {
	cmds []string
}

func (f *fakeRunner) Run(_ context.Context, cmd string, _ time.Duration) (command.Result, error) {
	f.cmds = append(f.cmds, cmd)
	return command.Result{}, nil
}

// ---- harness ----

type harness struct {
	svc       *Service
	domains   *fakeDomains
	mailboxes *fakeMailboxes
	state     *fakeState
	runner    *fakeRunner
	keys      *keys.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		domains:   newFakeDomains(),
		mailboxes: newFakeMailboxes(),
		state:     newFakeState(),
		runner:    &fakeRunner{},
	}
	h.keys = keys.NewManager(config.DKIMConfig{
		KeyDir:        filepath.Join(dir, "dkim"),
		Selector:      "mail",
		SelectorMap:   filepath.Join(dir, "dkim", "selectors.map"),
		ReloadCmd:     "systemctl reload rspamd",
		ReloadTimeout: time.Second,
	}, h.runner)
	h.svc = New(h.domains, h.mailboxes, h.state, h.keys, "mail", zap.NewNop())
	return h
}

func (h *harness) mustCreateDomain(t *testing.T, name string) *model.Domain {
	t.Helper()
	d, err := h.svc.CreateDomain(context.Background(), name, "")
	require.NoError(t, err)
	return d
}

func (h *harness) mustCreateMailbox(t *testing.T, local, domain string) *model.Mailbox {
	t.Helper()
	m, err := h.svc.CreateMailbox(context.Background(), CreateMailboxInput{
		LocalPart: local,
		Domain:    domain,
		Password:  "correct horse battery",
		QuotaMB:   1024,
	})
	require.NoError(t, err)
	return m
}

// ---- domain tests ----

func TestCreateDomain(t *testing.T) {
	h := newHarness(t)

	d := h.mustCreateDomain(t, "  Example.COM.  ")
	require.Equal(t, "example.com", d.Name)
	require.True(t, d.Active)
	require.Equal(t, "mail", d.DKIMSelector)
	require.True(t, strings.HasPrefix(d.DKIMTxtValue, "v=DKIM1; k=rsa; p="))
	require.NotEmpty(t, d.DKIMKeyPath)

	// selector map registered and daemon reloaded
	require.Equal(t, []string{"systemctl reload rspamd"}, h.runner.cmds)
}

func TestCreateDomainInvalidName(t *testing.T) {
	h := newHarness(t)
	for _, bad := range []string{"", "nodot", "-bad.example.com", "exa mple.com"} {
		_, err := h.svc.CreateDomain(context.Background(), bad, "")
		require.ErrorIs(t, err, ErrInvalidDomain, "name %q", bad)
	}
}

func TestCreateDomainKeepsKeyOnRecreate(t *testing.T) {
	h := newHarness(t)

	first := h.mustCreateDomain(t, "example.com")
	require.NoError(t, h.svc.DeleteDomain(context.Background(), "example.com"))
	second := h.mustCreateDomain(t, "example.com")

	// key material survives the delete/re-add cycle
	require.Equal(t, first.DKIMTxtValue, second.DKIMTxtValue)
	require.True(t, second.Active)
	require.False(t, second.Deleted())
}

func TestDeleteDomainCascades(t *testing.T) {
	h := newHarness(t)
	h.mustCreateDomain(t, "example.com")
	h.mustCreateMailbox(t, "ops", "example.com")
	h.mustCreateMailbox(t, "sales", "example.com")

	require.NoError(t, h.svc.DeleteDomain(context.Background(), "example.com"))

	require.Empty(t, h.mailboxes.rows)
	d, _ := h.domains.GetByName(context.Background(), "example.com")
	require.True(t, d.Deleted())

	// soft-deleted domains are not-found through the read paths
	_, err := h.svc.GetDKIMRecord(context.Background(), "example.com")
	require.ErrorIs(t, err, ErrDomainNotFound)
}

func TestDeleteDomainNotFound(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.svc.DeleteDomain(context.Background(), "ghost.example"), ErrDomainNotFound)
}

func TestGetDKIMRecord(t *testing.T) {
	h := newHarness(t)
	d := h.mustCreateDomain(t, "example.com")

	rec, err := h.svc.GetDKIMRecord(context.Background(), "EXAMPLE.com")
	require.NoError(t, err)
	require.Equal(t, "example.com", rec.Domain)
	require.Equal(t, "mail", rec.Selector)
	require.Equal(t, d.DKIMTxtValue, rec.TxtValue)
}

// ---- mailbox tests ----

func TestCreateMailbox(t *testing.T) {
	h := newHarness(t)
	h.mustCreateDomain(t, "example.com")

	m, err := h.svc.CreateMailbox(context.Background(), CreateMailboxInput{
		LocalPart:   "OPS",
		Domain:      "Example.com",
		DisplayName: "Operations",
		Password:    "s3cret-pass",
		QuotaMB:     2048,
	})
	require.NoError(t, err)
	require.Equal(t, "ops@example.com", m.Email)
	require.Equal(t, 2048, m.QuotaMB)
	require.True(t, m.Active)

	// stored hash verifies against the plaintext and is not the plaintext
	require.NotEqual(t, "s3cret-pass", m.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte("s3cret-pass")))
}

func TestCreateMailboxValidation(t *testing.T) {
	h := newHarness(t)
	h.mustCreateDomain(t, "example.com")

	_, err := h.svc.CreateMailbox(context.Background(), CreateMailboxInput{
		LocalPart: ".bad", Domain: "example.com", Password: "long-enough", QuotaMB: 100,
	})
	require.ErrorIs(t, err, ErrInvalidEmail)

	_, err = h.svc.CreateMailbox(context.Background(), CreateMailboxInput{
		LocalPart: "ops", Domain: "example.com", Password: "short", QuotaMB: 100,
	})
	require.ErrorIs(t, err, ErrWeakPassword)

	_, err = h.svc.CreateMailbox(context.Background(), CreateMailboxInput{
		LocalPart: "ops", Domain: "example.com", Password: "long-enough", QuotaMB: 0,
	})
	require.ErrorIs(t, err, ErrInvalidQuota)
}

func TestCreateMailboxRequiresLiveDomain(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CreateMailbox(context.Background(), CreateMailboxInput{
		LocalPart: "ops", Domain: "ghost.example", Password: "long-enough", QuotaMB: 100,
	})
	require.ErrorIs(t, err, ErrDomainNotFound)

	h.mustCreateDomain(t, "example.com")
	require.NoError(t, h.svc.DeleteDomain(context.Background(), "example.com"))
	_, err = h.svc.CreateMailbox(context.Background(), CreateMailboxInput{
		LocalPart: "ops", Domain: "example.com", Password: "long-enough", QuotaMB: 100,
	})
	require.ErrorIs(t, err, ErrDomainNotFound)
}

func TestMailboxUpdates(t *testing.T) {
	h := newHarness(t)
	h.mustCreateDomain(t, "example.com")
	h.mustCreateMailbox(t, "ops", "example.com")

	require.NoError(t, h.svc.SetQuota(context.Background(), "ops@example.com", 4096))
	m, _ := h.svc.GetMailbox(context.Background(), "ops@example.com")
	require.Equal(t, 4096, m.QuotaMB)

	oldHash := m.PasswordHash
	require.NoError(t, h.svc.ResetPassword(context.Background(), "ops@example.com", "new-password"))
	m, _ = h.svc.GetMailbox(context.Background(), "ops@example.com")
	require.NotEqual(t, oldHash, m.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte("new-password")))

	require.ErrorIs(t, h.svc.SetQuota(context.Background(), "ghost@example.com", 100), ErrMailboxNotFound)
	require.ErrorIs(t, h.svc.SetQuota(context.Background(), "ops@example.com", -1), ErrInvalidQuota)
}

func TestSetActiveStampsDisabledAt(t *testing.T) {
	h := newHarness(t)
	h.mustCreateDomain(t, "example.com")
	h.mustCreateMailbox(t, "ops", "example.com")

	require.NoError(t, h.svc.SetActive(context.Background(), "ops@example.com", false))
	m, _ := h.svc.GetMailbox(context.Background(), "ops@example.com")
	require.False(t, m.Active)
	require.NotNil(t, m.DisabledAt)

	require.NoError(t, h.svc.SetActive(context.Background(), "ops@example.com", true))
	m, _ = h.svc.GetMailbox(context.Background(), "ops@example.com")
	require.True(t, m.Active)
	require.Nil(t, m.DisabledAt)
}

func TestEnableMailboxResetsAbuseState(t *testing.T) {
	h := newHarness(t)
	h.mustCreateDomain(t, "example.com")
	h.mustCreateMailbox(t, "ops", "example.com")

	// simulate the worker having disabled it
	require.NoError(t, h.state.MarkDisabled(context.Background(), "ops@example.com", time.Now()))
	_, err := h.mailboxes.SetActive(context.Background(), "ops@example.com", false)
	require.NoError(t, err)

	require.NoError(t, h.svc.EnableMailbox(context.Background(), "ops@example.com"))

	m, _ := h.svc.GetMailbox(context.Background(), "ops@example.com")
	require.True(t, m.Active)

	st, err := h.svc.GetAbuseState(context.Background(), "ops@example.com")
	require.NoError(t, err)
	require.Equal(t, model.AbuseActive, st.Status)
	require.Zero(t, st.WarnCount)
}

func TestGetAbuseStateSynthesizesActive(t *testing.T) {
	h := newHarness(t)

	st, err := h.svc.GetAbuseState(context.Background(), "fresh@example.com")
	require.NoError(t, err)
	require.Equal(t, model.AbuseActive, st.Status)
	require.Zero(t, st.WarnCount)
}

func TestDeleteMailbox(t *testing.T) {
	h := newHarness(t)
	h.mustCreateDomain(t, "example.com")
	h.mustCreateMailbox(t, "ops", "example.com")

	require.NoError(t, h.svc.DeleteMailbox(context.Background(), "ops@example.com"))
	_, err := h.svc.GetMailbox(context.Background(), "ops@example.com")
	require.ErrorIs(t, err, ErrMailboxNotFound)

	require.ErrorIs(t, h.svc.DeleteMailbox(context.Background(), "ops@example.com"), ErrMailboxNotFound)
}
