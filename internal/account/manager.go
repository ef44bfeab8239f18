package account

import (
	"context"
	"sync"
	"time"

	verrors "github.com/valorwatch/valorwatch/internal/errors"
	"github.com/valorwatch/valorwatch/internal/logging"
	"github.com/valorwatch/valorwatch/internal/models"
	"github.com/valorwatch/valorwatch/internal/riot"
	"github.com/valorwatch/valorwatch/internal/secret"
	"github.com/valorwatch/valorwatch/internal/store"
)

// Service builds per-interaction account managers and owns the
// encrypt-then-persist path shared by hydration and interactive linking.
// One Service exists per process; managers are throwaway.
type Service struct {
	store   store.Store
	secrets *secret.Store
	client  *riot.Client
	logger  *logging.Logger
}

// NewService creates the account service.
func NewService(s store.Store, secrets *secret.Store, client *riot.Client, logger *logging.Logger) *Service {
	return &Service{
		store:   s,
		secrets: secrets,
		client:  client,
		logger:  logger,
	}
}

// NewSession creates an unauthenticated session for an interactive login
// started by ownerID.
func (svc *Service) NewSession(ownerID int64, region string) *riot.Session {
	return riot.NewSession(svc.client, ownerID, region, svc.logger)
}

// Manager is the per-interaction aggregate of one user's sessions. It is
// never shared across concurrent interactions; cross-instance consistency
// comes from the credential store alone.
type Manager struct {
	userID int64

	mu       sync.RWMutex
	sessions map[string]*riot.Session
	order    []string
	main     string
	failed   map[string]error

	ready chan struct{}
}

// Load hydrates every credential record belonging to userID into a
// session, eagerly reauthorizing any that have expired. Hydration runs in
// the background; WaitUntilReady gates access.
func (svc *Service) Load(ctx context.Context, userID int64) *Manager {
	m := &Manager{
		userID:   userID,
		sessions: make(map[string]*riot.Session),
		failed:   make(map[string]error),
		ready:    make(chan struct{}),
	}
	go svc.hydrate(ctx, m)
	return m
}

func (svc *Service) hydrate(ctx context.Context, m *Manager) {
	defer close(m.ready)

	user, err := svc.store.GetUser(ctx, m.userID)
	if err != nil {
		if svc.logger != nil {
			svc.logger.ErrorCtx(ctx, "failed to load user", "user_id", m.userID, "error", err.Error())
		}
		return
	}

	recs, err := svc.store.ListCredentials(ctx, m.userID)
	if err != nil {
		if svc.logger != nil {
			svc.logger.ErrorCtx(ctx, "failed to list credentials", "user_id", m.userID, "error", err.Error())
		}
		return
	}

	now := time.Now()
	var wg sync.WaitGroup
	for _, rec := range recs {
		plain, err := svc.decryptRecord(rec)
		if err != nil {
			// Undecryptable records mean the account must be relinked;
			// never fatal for the process.
			m.failed[rec.PUUID] = err
			if svc.logger != nil {
				svc.logger.WarnCtx(ctx, "credential record not decryptable, relink required",
					"puuid", rec.PUUID, "user_id", m.userID)
			}
			continue
		}

		session := riot.NewSessionFromRecord(svc.client, plain, svc.logger)
		session.AttachOnRefresh(svc.PersistRefresh)
		m.sessions[session.PUUID()] = session
		m.order = append(m.order, session.PUUID())

		if session.Expired(now) {
			// Different accounts refresh independently and concurrently;
			// a failed refresh keeps the session listed, flagged unavailable.
			wg.Add(1)
			go func(s *riot.Session) {
				defer wg.Done()
				if err := s.Reauthorize(ctx); err != nil {
					if svc.logger != nil {
						svc.logger.WarnCtx(ctx, "eager reauthorization failed",
							"puuid", s.PUUID(), "error", err.Error())
					}
				}
			}(session)
		}
	}
	wg.Wait()

	m.main = ""
	if user != nil && user.MainPUUID != "" {
		if _, ok := m.sessions[user.MainPUUID]; ok {
			m.main = user.MainPUUID
		}
	}
	if m.main == "" && len(m.order) > 0 {
		m.main = m.order[0]
	}
}

// WaitUntilReady blocks until hydration, including eager reauthorization,
// has completed. Safe to call from any number of goroutines.
func (m *Manager) WaitUntilReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the session for puuid, or nil.
func (m *Manager) Get(puuid string) *riot.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[puuid]
}

// All returns every session in ascending link-creation order.
func (m *Manager) All() []*riot.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*riot.Session, 0, len(m.order))
	for _, puuid := range m.order {
		out = append(out, m.sessions[puuid])
	}
	return out
}

// First returns the main session: the explicit override when set,
// otherwise the oldest linked account. Nil when nothing is linked.
func (m *Manager) First() *riot.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.main == "" {
		return nil
	}
	return m.sessions[m.main]
}

// Failed maps PUUIDs whose stored records could not be hydrated (broken
// ciphertext) to the underlying error.
func (m *Manager) Failed() map[string]error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]error, len(m.failed))
	for k, v := range m.failed {
		out[k] = v
	}
	return out
}

// PersistRefresh is the write-through hook attached to every session: new
// tokens are encrypted and stored before the refreshing call returns.
func (svc *Service) PersistRefresh(ctx context.Context, rec *models.CredentialRecord) error {
	enc, err := svc.encryptRecord(rec)
	if err != nil {
		return err
	}
	ok, err := svc.store.UpdateCredential(ctx, enc)
	if err != nil {
		return err
	}
	if !ok {
		return &verrors.ErrCredentialNotFound{PUUID: rec.PUUID, OwnerID: rec.OwnerID}
	}
	return nil
}

// SaveNewSession persists a freshly authorized session as a new credential
// record and attaches the write-through hook. The owning user row is
// created on first interaction.
func (svc *Service) SaveNewSession(ctx context.Context, session *riot.Session) error {
	if _, err := svc.store.CreateUser(ctx, session.OwnerID(), ""); err != nil {
		return err
	}

	enc, err := svc.encryptRecord(session.Record())
	if err != nil {
		return err
	}
	if err := svc.store.CreateCredential(ctx, enc); err != nil {
		return err
	}
	session.AttachOnRefresh(svc.PersistRefresh)
	return nil
}

// Relink replaces the credential record of a previously linked account
// with the tokens of a fresh interactive login. The old record is
// superseded, not resurrected.
func (svc *Service) Relink(ctx context.Context, session *riot.Session) error {
	enc, err := svc.encryptRecord(session.Record())
	if err != nil {
		return err
	}
	ok, err := svc.store.UpdateCredential(ctx, enc)
	if err != nil {
		return err
	}
	if !ok {
		return svc.store.CreateCredential(ctx, enc)
	}
	session.AttachOnRefresh(svc.PersistRefresh)
	return nil
}

// Unlink removes a linked account.
func (svc *Service) Unlink(ctx context.Context, userID int64, puuid string) (bool, error) {
	return svc.store.DeleteCredential(ctx, puuid, userID)
}

func (svc *Service) encryptRecord(rec *models.CredentialRecord) (*models.CredentialRecord, error) {
	enc := *rec
	var err error
	if enc.AccessToken, err = svc.secrets.Encrypt(rec.AccessToken); err != nil {
		return nil, err
	}
	if enc.IDToken, err = svc.secrets.Encrypt(rec.IDToken); err != nil {
		return nil, err
	}
	if enc.EntitlementToken, err = svc.secrets.Encrypt(rec.EntitlementToken); err != nil {
		return nil, err
	}
	if enc.SSIDCookie, err = svc.secrets.Encrypt(rec.SSIDCookie); err != nil {
		return nil, err
	}
	return &enc, nil
}

func (svc *Service) decryptRecord(rec *models.CredentialRecord) (*models.CredentialRecord, error) {
	plain := *rec
	var err error
	if plain.AccessToken, err = svc.secrets.Decrypt(rec.AccessToken); err != nil {
		return nil, err
	}
	if plain.IDToken, err = svc.secrets.Decrypt(rec.IDToken); err != nil {
		return nil, err
	}
	if plain.EntitlementToken, err = svc.secrets.Decrypt(rec.EntitlementToken); err != nil {
		return nil, err
	}
	if plain.SSIDCookie, err = svc.secrets.Decrypt(rec.SSIDCookie); err != nil {
		return nil, err
	}
	return &plain, nil
}
