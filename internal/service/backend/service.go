package backend

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mailplane/mailplane/internal/keys"
	"github.com/mailplane/mailplane/internal/metrics"
	"github.com/mailplane/mailplane/internal/model"
	"github.com/mailplane/mailplane/internal/repository"
	"github.com/mailplane/mailplane/internal/util"
)

// bcryptCost is the adaptive hash cost for mailbox passwords.
const bcryptCost = 12

// Validation errors: rejected before any mutation.
var (
	ErrInvalidDomain = errors.New("invalid domain name")
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrWeakPassword  = errors.New("password must be at least 8 characters")
	ErrInvalidQuota  = errors.New("quota must be positive")
)

// Not-found errors: the target entity does not exist (or is soft-deleted).
var (
	ErrDomainNotFound  = errors.New("domain not found")
	ErrMailboxNotFound = errors.New("mailbox not found")
)

// Service is the mail backend control API: the authoritative write path for
// domains, mailboxes, and their key material. It has no internal
// concurrency; callers serialize conflicting domain/mailbox mutations.
type Service struct {
	domains   repository.DomainsRepository
	mailboxes repository.MailboxesRepository
	state     repository.StateRepository
	keys      *keys.Manager
	selector  string
	log       *zap.Logger
}

func New(
	domainsRepo repository.DomainsRepository,
	mailboxesRepo repository.MailboxesRepository,
	stateRepo repository.StateRepository,
	keyManager *keys.Manager,
	selector string,
	log *zap.Logger,
) *Service {
	return &Service{
		domains:   domainsRepo,
		mailboxes: mailboxesRepo,
		state:     stateRepo,
		keys:      keyManager,
		selector:  selector,
		log:       log,
	}
}

// ListDomains returns all non-deleted domains with live mailbox aggregates.
func (s *Service) ListDomains(ctx context.Context) ([]model.DomainSummary, error) {
	return s.domains.ListSummaries(ctx)
}

// CreateDomain validates the name, ensures key material exists, upserts the
// domain row (reviving a soft-deleted one), registers the selector-map entry,
// and reloads the filtering daemon. Key material is secured before the DB
// write so a failure cannot leave a domain row pointing at a missing key.
func (s *Service) CreateDomain(ctx context.Context, name, description string) (*model.Domain, error) {
	name = util.NormalizeDomain(name)
	if !util.ValidDomain(name) {
		return nil, ErrInvalidDomain
	}

	mat, err := s.keys.EnsureKey(name, s.selector)
	if err != nil {
		metrics.DomainOpsTotal.WithLabelValues("create", "error").Inc()
		return nil, fmt.Errorf("ensure key material: %w", err)
	}

	d := model.Domain{
		Name:         name,
		Description:  description,
		Active:       true,
		DKIMSelector: s.selector,
		DKIMTxtValue: mat.TxtValue,
		DKIMKeyPath:  mat.PrivateKeyPath,
	}
	if err := s.domains.Upsert(ctx, d); err != nil {
		metrics.DomainOpsTotal.WithLabelValues("create", "error").Inc()
		return nil, fmt.Errorf("upsert domain: %w", err)
	}

	if err := s.keys.UpdateSelectorMap(name, s.selector, true); err != nil {
		metrics.DomainOpsTotal.WithLabelValues("create", "error").Inc()
		return nil, err
	}
	if err := s.keys.ReloadFilterDaemon(ctx); err != nil {
		metrics.DomainOpsTotal.WithLabelValues("create", "error").Inc()
		return nil, err
	}

	metrics.DomainOpsTotal.WithLabelValues("create", "ok").Inc()
	s.log.Info("domain created", zap.String("domain", name), zap.String("selector", s.selector))

	created, err := s.domains.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteDomain removes every mailbox under the domain, soft-deletes the
// domain row, drops its selector-map entry, and reloads the filter daemon.
func (s *Service) DeleteDomain(ctx context.Context, name string) error {
	name = util.NormalizeDomain(name)
	if !util.ValidDomain(name) {
		return ErrInvalidDomain
	}

	existing, err := s.domains.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrDomainNotFound
	}

	removed, err := s.mailboxes.DeleteByDomain(ctx, nil, name)
	if err != nil {
		metrics.DomainOpsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("delete mailboxes for %s: %w", name, err)
	}
	if _, err := s.domains.SoftDelete(ctx, nil, name); err != nil {
		metrics.DomainOpsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("soft delete domain %s: %w", name, err)
	}

	if err := s.keys.UpdateSelectorMap(name, s.selector, false); err != nil {
		metrics.DomainOpsTotal.WithLabelValues("delete", "error").Inc()
		return err
	}
	if err := s.keys.ReloadFilterDaemon(ctx); err != nil {
		metrics.DomainOpsTotal.WithLabelValues("delete", "error").Inc()
		return err
	}

	metrics.DomainOpsTotal.WithLabelValues("delete", "ok").Inc()
	s.log.Info("domain deleted", zap.String("domain", name), zap.Int64("mailboxes_removed", removed))
	return nil
}

// GetDKIMRecord returns the cached selector and TXT value for DNS
// publication. Unknown and soft-deleted domains are not-found.
func (s *Service) GetDKIMRecord(ctx context.Context, name string) (*model.DKIMRecord, error) {
	name = util.NormalizeDomain(name)
	d, err := s.domains.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if d == nil || d.Deleted() {
		return nil, ErrDomainNotFound
	}
	return &model.DKIMRecord{Domain: d.Name, Selector: d.DKIMSelector, TxtValue: d.DKIMTxtValue}, nil
}

// CreateMailboxInput defines creation parameters for a mailbox.
type CreateMailboxInput struct {
	LocalPart   string
	Domain      string
	DisplayName string
	Password    string
	QuotaMB     int
}

// ListMailboxes returns mailboxes, optionally filtered by owning domain.
func (s *Service) ListMailboxes(ctx context.Context, domain string) ([]model.Mailbox, error) {
	return s.mailboxes.List(ctx, util.NormalizeDomain(domain))
}

// CreateMailbox validates its input, requires an active non-deleted owning
// domain, hashes the password, and upserts the mailbox (reactivating a
// previously deleted/disabled identity).
func (s *Service) CreateMailbox(ctx context.Context, in CreateMailboxInput) (*model.Mailbox, error) {
	local := util.NormalizeEmail(in.LocalPart)
	domain := util.NormalizeDomain(in.Domain)
	email := local + "@" + domain

	if !util.ValidLocalPart(local) || !util.ValidDomain(domain) || !util.ValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if len(in.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if in.QuotaMB <= 0 {
		return nil, ErrInvalidQuota
	}

	d, err := s.domains.GetByName(ctx, domain)
	if err != nil {
		return nil, err
	}
	if d == nil || d.Deleted() || !d.Active {
		return nil, ErrDomainNotFound
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	m := model.Mailbox{
		Email:        email,
		Domain:       domain,
		LocalPart:    local,
		DisplayName:  in.DisplayName,
		PasswordHash: string(hash),
		QuotaMB:      in.QuotaMB,
		Active:       true,
	}
	if err := s.mailboxes.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("upsert mailbox: %w", err)
	}

	s.log.Info("mailbox created", zap.String("email", email), zap.Int("quota_mb", in.QuotaMB))
	return s.mailboxes.GetByEmail(ctx, email)
}

// GetMailbox fetches one mailbox by address.
func (s *Service) GetMailbox(ctx context.Context, email string) (*model.Mailbox, error) {
	email = util.NormalizeEmail(email)
	if !util.ValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	m, err := s.mailboxes.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMailboxNotFound
	}
	return m, nil
}

// DeleteMailbox removes the mailbox row.
func (s *Service) DeleteMailbox(ctx context.Context, email string) error {
	email = util.NormalizeEmail(email)
	if !util.ValidEmail(email) {
		return ErrInvalidEmail
	}
	found, err := s.mailboxes.Delete(ctx, email)
	if err != nil {
		return err
	}
	if !found {
		return ErrMailboxNotFound
	}
	return nil
}

// SetQuota updates the mailbox quota.
func (s *Service) SetQuota(ctx context.Context, email string, quotaMB int) error {
	email = util.NormalizeEmail(email)
	if !util.ValidEmail(email) {
		return ErrInvalidEmail
	}
	if quotaMB <= 0 {
		return ErrInvalidQuota
	}
	found, err := s.mailboxes.SetQuota(ctx, email, quotaMB)
	if err != nil {
		return err
	}
	if !found {
		return ErrMailboxNotFound
	}
	return nil
}

// ResetPassword rehashes and stores a new mailbox password.
func (s *Service) ResetPassword(ctx context.Context, email, password string) error {
	email = util.NormalizeEmail(email)
	if !util.ValidEmail(email) {
		return ErrInvalidEmail
	}
	if len(password) < 8 {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	found, err := s.mailboxes.SetPasswordHash(ctx, email, string(hash))
	if err != nil {
		return err
	}
	if !found {
		return ErrMailboxNotFound
	}
	return nil
}

// SetActive flips the mailbox active flag. Disabling stamps disabled_at;
// enabling clears it. This is the only write path into mailbox active state
// and is what the abuse worker calls to contain an offender.
func (s *Service) SetActive(ctx context.Context, email string, enabled bool) error {
	email = util.NormalizeEmail(email)
	if !util.ValidEmail(email) {
		return ErrInvalidEmail
	}
	found, err := s.mailboxes.SetActive(ctx, email, enabled)
	if err != nil {
		return err
	}
	if !found {
		return ErrMailboxNotFound
	}
	return nil
}

// EnableMailbox is the explicit manual re-enable boundary: it reactivates
// the mailbox and resets its abuse state to active with warn_count=0.
func (s *Service) EnableMailbox(ctx context.Context, email string) error {
	if err := s.SetActive(ctx, email, true); err != nil {
		return err
	}
	if err := s.state.Reset(ctx, util.NormalizeEmail(email)); err != nil {
		return fmt.Errorf("reset abuse state: %w", err)
	}
	s.log.Info("mailbox re-enabled", zap.String("email", util.NormalizeEmail(email)))
	return nil
}

// GetAbuseState returns the worker's per-mailbox state plus recent events.
func (s *Service) GetAbuseState(ctx context.Context, email string) (*model.MailboxState, error) {
	email = util.NormalizeEmail(email)
	if !util.ValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	st, err := s.state.Get(ctx, email)
	if err != nil {
		return nil, err
	}
	if st == nil {
		// No events yet: synthesize the implicit active state.
		return &model.MailboxState{Email: email, Status: model.AbuseActive}, nil
	}
	return st, nil
}
