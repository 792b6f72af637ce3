package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/TheMichaelB/pwvault/internal/config"
	"github.com/TheMichaelB/pwvault/internal/creds"
	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
	"github.com/TheMichaelB/pwvault/internal/vault"
)

// Operations is the contract a UI layer programs against, on any runtime.
type Operations interface {
	Status(ctx context.Context) (*Status, error)
	Unlock(ctx context.Context, password string) (*Session, error)
	Lock(sess *Session)
	List(sess *Session) ([]models.PasswordEntry, error)
	Add(ctx context.Context, sess *Session, entry models.PasswordEntry) (*models.PasswordEntry, error)
	Update(ctx context.Context, sess *Session, entry models.PasswordEntry) (*models.PasswordEntry, error)
	Remove(ctx context.Context, sess *Session, id string) error
	ExportEncrypted(sess *Session) ([]byte, error)
	ImportEncrypted(ctx context.Context, sess *Session, data []byte, password string) error

	SaveSession(ctx context.Context, token string) error
	CurrentSession(ctx context.Context) (*models.Subscription, error)
	Logout(ctx context.Context) error
}

// Vault is the vault surface the bridge drives. *vault.Store implements it.
type Vault interface {
	creds.VaultSlot

	Unlock(ctx context.Context, password string) (*vault.UnlockResult, error)
	Lock()
	Status(ctx context.Context) (*vault.Status, error)
	ListEntries() ([]models.PasswordEntry, error)
	AddEntryLimited(ctx context.Context, entry models.PasswordEntry, limit int) (*models.PasswordEntry, error)
	UpdateEntry(ctx context.Context, entry models.PasswordEntry) (*models.PasswordEntry, error)
	RemoveEntry(ctx context.Context, id string) error
	ExportEncrypted() ([]byte, error)
	ImportEncrypted(ctx context.Context, data []byte, password string) error
}

// Licensing resolves the subscription behind a session credential.
// *license.Service implements it.
type Licensing interface {
	SetToken(token string) (*models.TokenInfo, error)
	CurrentSession(ctx context.Context) (*models.Subscription, error)
	Subscription() *models.Subscription
	Watch(ctx context.Context, fn func(models.SubscriptionEvent)) error
	Clear()
}

// Status is what the UI shows before and after unlock.
type Status struct {
	Runtime         string               `json:"runtime"`
	CredentialStore string               `json:"credentialStore"`
	Vault           *vault.Status        `json:"vault"`
	Subscription    *models.Subscription `json:"subscription,omitempty"`
	EntryLimit      int                  `json:"entryLimit,omitempty"`
}

// Options configures a Bridge.
type Options struct {
	Config  config.SessionConfig
	Vault   Vault
	License Licensing // optional; without it every vault is on the free tier

	// Candidates overrides the credential stores derived from Config.
	Candidates []creds.Store

	Logger *events.Logger
	Now    func() time.Time
}

// Bridge implements Operations.
type Bridge struct {
	runtime    string
	vault      Vault
	license    Licensing
	store      creds.Store
	limiter    *rate.Limiter
	entryLimit int
	logger     *events.Logger
	now        func() time.Time

	mu      sync.Mutex
	current *Session
}

var _ Operations = (*Bridge)(nil)

// New builds a bridge and selects its credential store. The choice is made
// once and kept for the bridge's lifetime.
func New(ctx context.Context, opts Options) (*Bridge, error) {
	if opts.Vault == nil {
		return nil, fmt.Errorf("%w: session bridge needs a vault", models.ErrInvalidConfig)
	}

	logger := opts.Logger
	if logger == nil {
		logger = events.Nop()
	}
	logger = logger.WithField("component", "session_bridge")

	candidates := opts.Candidates
	if candidates == nil {
		candidates = Candidates(ctx, opts.Config, opts.Vault, logger)
	}
	store, err := creds.Select(ctx, candidates, logger)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if opts.Config.UnlockRate > 0 {
		limit = rate.Limit(opts.Config.UnlockRate)
	}
	burst := opts.Config.UnlockBurst
	if burst <= 0 {
		burst = 1
	}

	b := &Bridge{
		runtime:    opts.Config.Runtime,
		vault:      opts.Vault,
		license:    opts.License,
		store:      store,
		limiter:    rate.NewLimiter(limit, burst),
		entryLimit: opts.Config.FreeEntryLimit,
		logger:     logger,
		now:        opts.Now,
	}
	if b.now == nil {
		b.now = time.Now
	}

	logger.WithFields(map[string]interface{}{
		"runtime": b.runtime,
		"store":   store.Name(),
	}).Info("Session bridge ready")
	return b, nil
}

// Candidates lists the credential stores for a runtime in preference order.
// Desktop tries the OS keyring, then Secrets Manager when a secret is
// configured, then the vault itself. Restricted runtimes use the vault only.
func Candidates(ctx context.Context, cfg config.SessionConfig, slot creds.VaultSlot, logger *events.Logger) []creds.Store {
	var out []creds.Store

	if cfg.Runtime == config.RuntimeDesktop {
		out = append(out, creds.NewKeyringStore(cfg.KeyringService))

		if cfg.SecretID != "" {
			client, err := creds.NewSecretsClient(ctx)
			if err != nil {
				logger.WithError(err).Warn("Secrets Manager unavailable")
			} else {
				out = append(out, creds.NewSecretsManagerStore(client, cfg.SecretID))
			}
		}
	}

	return append(out, creds.NewVaultStore(slot))
}

// CredentialStore names the selected credential store.
func (b *Bridge) CredentialStore() string {
	return b.store.Name()
}

// Status reports vault and subscription state.
func (b *Bridge) Status(ctx context.Context) (*Status, error) {
	vs, err := b.vault.Status(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{
		Runtime:         b.runtime,
		CredentialStore: b.store.Name(),
		Vault:           vs,
	}
	if b.license != nil {
		st.Subscription = b.license.Subscription()
	}
	if !b.premium() {
		st.EntryLimit = b.entryLimit
	}
	return st, nil
}

// Unlock opens the vault and returns a new session. Any previous session
// ends. Attempts are rate limited.
func (b *Bridge) Unlock(ctx context.Context, password string) (*Session, error) {
	if !b.limiter.Allow() {
		b.logger.Warn("Unlock attempt throttled")
		return nil, models.ErrRateLimited
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.current.end()
	b.current = nil

	res, err := b.vault.Unlock(ctx, password)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		id:        uuid.NewString(),
		vaultID:   res.VaultID,
		isNew:     res.IsNew,
		createdAt: b.now(),
	}
	b.current = sess

	b.restoreSession(ctx)
	return sess, nil
}

// restoreSession loads a stored credential into the licence client.
func (b *Bridge) restoreSession(ctx context.Context) {
	if b.license == nil {
		return
	}
	token, err := b.store.Get(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrNoSession) {
			b.logger.WithError(err).Debug("No stored session")
		}
		return
	}
	if _, err := b.license.SetToken(token); err != nil {
		b.logger.WithError(err).Debug("Stored session not usable")
	}
}

// Lock ends sess and locks the vault. The stored credential is kept. A
// session that is no longer current is ended without touching the vault.
func (b *Bridge) Lock(sess *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sess != b.current {
		sess.end()
		return
	}
	b.current.end()
	b.current = nil
	b.vault.Lock()
}

// List returns the entries.
func (b *Bridge) List(sess *Session) ([]models.PasswordEntry, error) {
	if err := b.check(sess, "list"); err != nil {
		return nil, err
	}
	return b.vault.ListEntries()
}

// Add inserts an entry. On the free tier the number of entries is capped.
func (b *Bridge) Add(ctx context.Context, sess *Session, entry models.PasswordEntry) (*models.PasswordEntry, error) {
	if err := b.check(sess, "add"); err != nil {
		return nil, err
	}

	limit := 0
	if !b.premium() {
		limit = b.entryLimit
	}
	return b.vault.AddEntryLimited(ctx, entry, limit)
}

// Update replaces an entry.
func (b *Bridge) Update(ctx context.Context, sess *Session, entry models.PasswordEntry) (*models.PasswordEntry, error) {
	if err := b.check(sess, "update"); err != nil {
		return nil, err
	}
	return b.vault.UpdateEntry(ctx, entry)
}

// Remove deletes an entry.
func (b *Bridge) Remove(ctx context.Context, sess *Session, id string) error {
	if err := b.check(sess, "remove"); err != nil {
		return err
	}
	return b.vault.RemoveEntry(ctx, id)
}

// ExportEncrypted returns the encrypted container.
func (b *Bridge) ExportEncrypted(sess *Session) ([]byte, error) {
	if err := b.check(sess, "export"); err != nil {
		return nil, err
	}
	return b.vault.ExportEncrypted()
}

// ImportEncrypted replaces the vault contents with an exported container.
func (b *Bridge) ImportEncrypted(ctx context.Context, sess *Session, data []byte, password string) error {
	if err := b.check(sess, "import"); err != nil {
		return err
	}
	return b.vault.ImportEncrypted(ctx, data, password)
}

// SaveSession stores the application-account credential. With the vault
// fallback this needs an unlocked vault.
func (b *Bridge) SaveSession(ctx context.Context, token string) error {
	if b.license != nil {
		if _, err := b.license.SetToken(token); err != nil {
			return err
		}
	} else if token == "" {
		return models.ErrNoSession
	}

	if err := b.store.Set(ctx, token); err != nil {
		return fmt.Errorf("save session to %s: %w", b.store.Name(), err)
	}

	b.logger.WithField("store", b.store.Name()).Info("Session saved")
	return nil
}

// CurrentSession validates the stored credential against the licence
// service. A credential the service rejects is removed.
func (b *Bridge) CurrentSession(ctx context.Context) (*models.Subscription, error) {
	if b.license == nil {
		return nil, fmt.Errorf("%w: no licence service", models.ErrNotConfigured)
	}

	token, err := b.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := b.license.SetToken(token); err != nil {
		if errors.Is(err, models.ErrSessionExpired) {
			b.dropCredential(ctx)
		}
		return nil, err
	}

	sub, err := b.license.CurrentSession(ctx)
	if errors.Is(err, models.ErrSessionExpired) {
		b.dropCredential(ctx)
	}
	return sub, err
}

// Logout forgets the credential everywhere. The vault stays as it is.
func (b *Bridge) Logout(ctx context.Context) error {
	if b.license != nil {
		b.license.Clear()
	}
	if err := b.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session from %s: %w", b.store.Name(), err)
	}
	b.logger.Info("Logged out")
	return nil
}

// Watch applies subscription events until ctx is done. A revoked session
// is removed from the credential store.
func (b *Bridge) Watch(ctx context.Context) error {
	if b.license == nil {
		return fmt.Errorf("%w: no licence service", models.ErrNotConfigured)
	}
	return b.license.Watch(ctx, func(event models.SubscriptionEvent) {
		if event.Type == models.SessionRevoked {
			b.dropCredential(ctx)
		}
	})
}

func (b *Bridge) dropCredential(ctx context.Context) {
	if b.license != nil {
		b.license.Clear()
	}
	if err := b.store.Clear(ctx); err != nil {
		b.logger.WithError(err).Warn("Failed to clear rejected session")
		return
	}
	b.logger.Info("Removed rejected session")
}

// check verifies sess is the live session.
func (b *Bridge) check(sess *Session, op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !sess.Valid() || sess != b.current {
		return &models.LockedError{Op: op}
	}
	return nil
}

func (b *Bridge) premium() bool {
	if b.license == nil {
		return false
	}
	return b.license.Subscription().Active(b.now())
}
