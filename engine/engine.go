// SPDX-License-Identifier: GPL-3.0-or-later
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/CrawX/go-imap-mirror/domain"
	"github.com/CrawX/go-imap-mirror/events"
	"github.com/CrawX/go-imap-mirror/log"
	"github.com/CrawX/go-imap-mirror/scheduler"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DiscoveryConcurrency bounds how many accounts list their folders at once.
const DiscoveryConcurrency = 4

// Engine is the registry of accounts and their schedulers. It is the only
// entry point of the consumer.
type Engine struct {
	persistence domain.Persistence
	sessions    domain.SessionFactory
	bridge      *events.Bridge
	watcher     domain.Watcher

	schedulerConfig []scheduler.ConfigFunc

	mu       sync.Mutex
	accounts map[string]*registration
	closed   bool

	l *logrus.Logger
}

type registration struct {
	account   *domain.Account
	scheduler *scheduler.Scheduler
}

// AccountSetup is an account to add together with the folders to sync right
// away.
type AccountSetup struct {
	Account *domain.Account
	Folders []string
}

func NewEngine(persistence domain.Persistence, sessions domain.SessionFactory, bridge *events.Bridge, watcher domain.Watcher, schedulerConfig ...scheduler.ConfigFunc) *Engine {
	return &Engine{
		persistence:     persistence,
		sessions:        sessions,
		bridge:          bridge,
		watcher:         watcher,
		schedulerConfig: schedulerConfig,
		accounts:        map[string]*registration{},
		l:               log.Logger(log.LOG_ENGINE),
	}
}

// Start registers every stored account without contacting any server.
func (e *Engine) Start(ctx context.Context) error {
	accounts, err := e.persistence.Accounts(ctx)
	if err != nil {
		return fmt.Errorf("could not load accounts: %w", err)
	}

	for _, account := range accounts {
		if _, err := e.register(account); err != nil {
			return err
		}
	}
	e.l.WithField("accounts", len(accounts)).Info("Engine started")
	return nil
}

// AddAccounts adds several accounts concurrently. Every account is attempted;
// the first error is returned.
func (e *Engine) AddAccounts(ctx context.Context, setups []AccountSetup) error {
	var g errgroup.Group
	g.SetLimit(DiscoveryConcurrency)

	for _, setup := range setups {
		setup := setup
		g.Go(func() error {
			_, err := e.AddAccount(ctx, setup.Account, setup.Folders)
			return err
		})
	}
	return g.Wait()
}

// AddAccount stores account, discovers its folders and starts a background
// sync of every folder in syncPaths. An account without id gets a random one.
func (e *Engine) AddAccount(ctx context.Context, account *domain.Account, syncPaths []string) ([]*domain.Folder, error) {
	if account.Id == "" {
		account.Id = uuid.NewString()
	}
	l := e.l.WithFields(logrus.Fields{"account": account.Id, "email": account.Email})

	if err := e.persistence.SaveAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("could not save account: %w", err)
	}

	folders, err := e.discover(ctx, account)
	if err != nil {
		l.WithField("error", err).Error("Folder discovery failed")
		perr := e.bridge.Publish(ctx, domain.ErrorEvent{Account: account.Id, Kind: domain.KindOf(err), Err: err})
		if perr != nil {
			l.WithField("error", perr).Warn("Could not publish error event")
		}
		return nil, err
	}
	l.WithField("folders", len(folders)).Info("Discovered folders")

	reg, err := e.register(account)
	if err != nil {
		return nil, err
	}

	byPath := map[string]*domain.Folder{}
	for _, f := range folders {
		byPath[f.Path] = f
	}
	for _, path := range syncPaths {
		f, ok := byPath[path]
		if !ok {
			l.WithField("folder", path).Warn("Configured folder does not exist on the server")
			continue
		}
		reg.scheduler.RequestSync(f.Id, scheduler.Background)
	}

	return folders, nil
}

func (e *Engine) discover(ctx context.Context, account *domain.Account) ([]*domain.Folder, error) {
	session, err := e.sessions.Open(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("could not open session: %w", err)
	}
	defer session.Logout()

	infos, err := session.ListFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list folders: %w", err)
	}

	folders, err := e.persistence.SaveFolders(ctx, account.Id, infos)
	if err != nil {
		return nil, fmt.Errorf("could not save folders: %w", err)
	}
	return folders, nil
}

func (e *Engine) register(account *domain.Account) (*registration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, domain.NewError(domain.KindCancelled, "register account", context.Canceled)
	}
	if reg, ok := e.accounts[account.Id]; ok {
		return reg, nil
	}

	s, err := scheduler.NewScheduler(account, e.sessions, e.persistence, e.bridge, e.watcher, e.schedulerConfig...)
	if err != nil {
		return nil, fmt.Errorf("could not create scheduler: %w", err)
	}
	reg := &registration{account: account, scheduler: s}
	e.accounts[account.Id] = reg
	return reg, nil
}

func (e *Engine) registration(accountId string) (*registration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reg, ok := e.accounts[accountId]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountId, domain.ErrNoSuchAccount)
	}
	return reg, nil
}

// lookup resolves the folder and the registration of its account.
func (e *Engine) lookup(ctx context.Context, id domain.FolderID) (*domain.Folder, *registration, error) {
	folder, err := e.persistence.GetFolder(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	reg, err := e.registration(folder.AccountId)
	if err != nil {
		return nil, nil, err
	}
	return folder, reg, nil
}

// RemoveAccount stops every job of the account and deletes its cache.
func (e *Engine) RemoveAccount(ctx context.Context, accountId string) error {
	e.mu.Lock()
	reg, ok := e.accounts[accountId]
	delete(e.accounts, accountId)
	e.mu.Unlock()

	if ok {
		reg.scheduler.Close()
	}

	if err := e.persistence.DeleteAccount(ctx, accountId); err != nil {
		return fmt.Errorf("could not delete account: %w", err)
	}
	e.l.WithField("account", accountId).Info("Removed account")
	return nil
}

// ClearAccountCache stops the account's jobs, drops every cached message
// and restarts the scheduler with an empty cache.
func (e *Engine) ClearAccountCache(ctx context.Context, accountId string) error {
	e.mu.Lock()
	reg, ok := e.accounts[accountId]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("account %s: %w", accountId, domain.ErrNoSuchAccount)
	}

	reg.scheduler.Close()
	err := e.persistence.ClearAccountCache(ctx, accountId)

	s, serr := scheduler.NewScheduler(reg.account, e.sessions, e.persistence, e.bridge, e.watcher, e.schedulerConfig...)
	if serr != nil {
		return fmt.Errorf("could not create scheduler: %w", serr)
	}
	e.mu.Lock()
	if e.accounts[accountId] == reg {
		e.accounts[accountId] = &registration{account: reg.account, scheduler: s}
	} else {
		s.Close()
	}
	e.mu.Unlock()

	if err != nil {
		return fmt.Errorf("could not clear cache: %w", err)
	}
	e.l.WithField("account", accountId).Info("Cleared cache")
	return nil
}

func (e *Engine) Accounts(ctx context.Context) ([]*domain.Account, error) {
	return e.persistence.Accounts(ctx)
}

func (e *Engine) Folders(ctx context.Context, accountId string) ([]*domain.Folder, error) {
	return e.persistence.Folders(ctx, accountId)
}

func (e *Engine) Headers(ctx context.Context, folder domain.FolderID, r domain.Range) ([]*domain.MessageHeader, error) {
	return e.persistence.GetHeaderRange(ctx, folder, r)
}

func (e *Engine) Search(ctx context.Context, accountId string, query string, limit int) ([]*domain.SearchResult, error) {
	return e.persistence.Search(ctx, accountId, query, limit)
}

// Subscribe returns the ordered event stream of folder. Folder zero carries
// account level errors.
func (e *Engine) Subscribe(folder domain.FolderID) *events.Subscription {
	return e.bridge.Subscribe(folder)
}

// RequestSync starts or joins the sync job of folder. See
// scheduler.Scheduler.RequestSync for the result.
func (e *Engine) RequestSync(ctx context.Context, folder domain.FolderID, mode scheduler.Mode) <-chan error {
	_, reg, err := e.lookup(ctx, folder)
	if err != nil {
		done := make(chan error, 1)
		done <- err
		return done
	}
	return reg.scheduler.RequestSync(folder, mode)
}

func (e *Engine) CancelSync(ctx context.Context, folder domain.FolderID) error {
	_, reg, err := e.lookup(ctx, folder)
	if err != nil {
		return err
	}
	reg.scheduler.CancelSync(folder)
	return nil
}

func (e *Engine) State(ctx context.Context, folder domain.FolderID) (scheduler.State, error) {
	_, reg, err := e.lookup(ctx, folder)
	if err != nil {
		return scheduler.StateIdle, err
	}
	return reg.scheduler.State(folder), nil
}

// FetchBody returns the full message, from the cache when it was fetched
// before.
func (e *Engine) FetchBody(ctx context.Context, folder domain.FolderID, uid uint32) ([]byte, error) {
	body, err := e.persistence.GetBody(ctx, folder, uid)
	if err != nil {
		return nil, err
	}
	if body != nil {
		return body, nil
	}

	f, reg, err := e.lookup(ctx, folder)
	if err != nil {
		return nil, err
	}

	err = e.withSession(ctx, reg.account, f.Path, func(session domain.MailSession) error {
		body, err = session.FetchBody(ctx, uid)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("could not fetch body of %d: %w", uid, err)
	}

	if err := e.persistence.SaveBody(ctx, folder, uid, body); err != nil {
		return nil, err
	}
	return body, nil
}

// StoreFlags changes flags on the server. The cache follows through the
// folder's own sync job.
func (e *Engine) StoreFlags(ctx context.Context, folder domain.FolderID, uid uint32, add []string, remove []string) error {
	f, reg, err := e.lookup(ctx, folder)
	if err != nil {
		return err
	}

	err = e.withSession(ctx, reg.account, f.Path, func(session domain.MailSession) error {
		return session.StoreFlags(ctx, uid, add, remove)
	})
	if err != nil {
		return fmt.Errorf("could not store flags of %d: %w", uid, err)
	}

	reg.scheduler.RequestSync(folder, scheduler.Background)
	return nil
}

// withSession runs f on a short-lived session with path selected.
func (e *Engine) withSession(ctx context.Context, account *domain.Account, path string, f func(domain.MailSession) error) error {
	session, err := e.sessions.Open(ctx, account)
	if err != nil {
		return err
	}
	defer session.Logout()

	if _, err := session.Select(ctx, path); err != nil {
		return err
	}
	return f(session)
}

// Shutdown cancels every job, waits for them and ends all subscriptions.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	e.closed = true
	regs := make([]*registration, 0, len(e.accounts))
	for _, reg := range e.accounts {
		regs = append(regs, reg)
	}
	e.mu.Unlock()

	var g errgroup.Group
	for _, reg := range regs {
		reg := reg
		g.Go(func() error {
			reg.scheduler.Close()
			return nil
		})
	}
	err := g.Wait()

	e.bridge.Close()
	e.l.Info("Engine stopped")
	return err
}

// IsNotFound reports whether err is about an unknown account or folder.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNoSuchAccount) || errors.Is(err, domain.ErrNoSuchFolder)
}
