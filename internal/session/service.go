package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"igharvest/internal/workpool"
	errs "igharvest/pkg/errors"
	"igharvest/pkg/logger"
	"igharvest/pkg/models"
)

// Observer receives call and state-change events. internal/metrics
// implements it.
type Observer interface {
	ObserveCall(op string, duration time.Duration, err error)
	ObserveState(state State)
}

type nopObserver struct{}

func (nopObserver) ObserveCall(string, time.Duration, error) {}
func (nopObserver) ObserveState(State)                       {}

// Options configures a Service
type Options struct {
	Factory LoaderFactory
	// Workers bounds the number of concurrent upstream calls
	Workers int
	// CallTimeout bounds every dispatched call
	CallTimeout time.Duration
	Savers      []SessionSaver
	Observer    Observer
	Logger      logger.Logger
}

// Service owns the single account session and runs every blocking fetch
// on a bounded worker pool. Transitions (login, code submission, logout,
// restore) are serialized; reads run concurrently and never take the
// transition lock.
type Service struct {
	factory     LoaderFactory
	pool        *workpool.Pool
	callTimeout time.Duration
	savers      []SessionSaver
	observer    Observer
	logger      logger.Logger

	mu      sync.Mutex
	current atomic.Pointer[authState]
	closed  bool
}

// New creates a Service and starts its worker pool.
func New(opts Options) (*Service, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("loader factory is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 60 * time.Second
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	log := opts.Logger.WithField("component", "session")
	pool := workpool.New(opts.Workers, log)
	pool.Start()

	s := &Service{
		factory:     opts.Factory,
		pool:        pool,
		callTimeout: opts.CallTimeout,
		savers:      opts.Savers,
		observer:    opts.Observer,
		logger:      log,
	}
	s.current.Store(anonymous)
	return s, nil
}

// Status returns the current state without blocking.
func (s *Service) Status() Status {
	st := s.current.Load()
	return Status{State: st.state, Username: st.username}
}

// dispatch runs fn on the worker pool and waits for it. The call is
// detached from the caller's cancellation and bounded by the call timeout.
func dispatch[T any](s *Service, ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	defer cancel()

	start := time.Now()
	err := s.pool.Do(callCtx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	s.observer.ObserveCall(op, time.Since(start), err)
	return out, err
}

// publish swaps in next and reports the new state. Callers hold s.mu.
func (s *Service) publish(next *authState) {
	s.current.Store(next)
	s.observer.ObserveState(next.state)
	s.logger.InfoWithFields("Session state changed", map[string]interface{}{
		"state":    next.state.String(),
		"username": next.username,
	})
}

func (s *Service) release(l Loader) {
	if l == nil {
		return
	}
	if err := l.Close(); err != nil {
		s.logger.WarnWithFields("Failed to release loader", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Login authenticates username. It returns an error matching
// errors.ErrChallengeRequired when a second factor is needed; the service
// is then PendingSecondFactor. A failed login leaves the previous session
// in place.
func (s *Service) Login(ctx context.Context, username, password string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return workpool.ErrClosed
	}

	loader, err := s.factory()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create loader: %w", err)
	}

	_, err = dispatch(s, ctx, "login", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, loader.Login(ctx, username, password)
	})

	prev := s.current.Load()
	switch {
	case err == nil:
		s.release(prev.loader)
		s.publish(&authState{state: Authenticated, username: username, loader: loader})
		s.mu.Unlock()
		s.save(ctx, username, loader)
		return nil
	case errors.Is(err, errs.ErrChallengeRequired):
		s.release(prev.loader)
		s.publish(&authState{state: PendingSecondFactor, username: username, loader: loader})
		s.mu.Unlock()
		return err
	default:
		s.mu.Unlock()
		s.release(loader)
		s.logger.WarnWithFields("Login failed", map[string]interface{}{
			"username": username,
			"error":    err.Error(),
		})
		return err
	}
}

// SubmitCode completes a pending second-factor login. A rejected code
// keeps the challenge open.
func (s *Service) SubmitCode(ctx context.Context, code string) error {
	s.mu.Lock()
	cur := s.current.Load()
	if cur.state != PendingSecondFactor {
		s.mu.Unlock()
		return errs.ErrNoPendingChallenge
	}

	_, err := dispatch(s, ctx, "two_factor", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, cur.loader.TwoFactorLogin(ctx, code)
	})
	if err != nil {
		s.mu.Unlock()
		s.logger.WarnWithFields("Second factor rejected", map[string]interface{}{
			"username": cur.username,
			"error":    err.Error(),
		})
		return err
	}

	s.publish(&authState{state: Authenticated, username: cur.username, loader: cur.loader})
	s.mu.Unlock()
	s.save(ctx, cur.username, cur.loader)
	return nil
}

// Logout drops the session or the pending challenge.
func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if cur.state == Anonymous {
		return errs.ErrNotAuthenticated
	}
	s.publish(anonymous)
	s.release(cur.loader)
	return nil
}

// Restore installs a session from a persisted credential blob after
// checking it with the upstream service. It returns the account name.
func (s *Service) Restore(ctx context.Context, blob []byte) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", workpool.ErrClosed
	}

	loader, err := s.factory()
	if err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("failed to create loader: %w", err)
	}
	if err := loader.ImportSession(blob); err != nil {
		s.mu.Unlock()
		s.release(loader)
		return "", err
	}

	username, err := dispatch(s, ctx, "test_login", loader.TestLogin)
	if err != nil {
		s.mu.Unlock()
		s.release(loader)
		return "", err
	}

	prev := s.current.Load()
	s.release(prev.loader)
	s.publish(&authState{state: Authenticated, username: username, loader: loader})
	s.mu.Unlock()
	return username, nil
}

// RestoreSaved tries every session the sources know about and keeps the
// first one the upstream service accepts.
func (s *Service) RestoreSaved(ctx context.Context, sources ...SessionSource) (string, error) {
	for _, src := range sources {
		if src == nil {
			continue
		}
		records, err := src.ListSessions(ctx)
		if err != nil {
			s.logger.WarnWithFields("Failed to list saved sessions", map[string]interface{}{
				"source": fmt.Sprintf("%T", src),
				"error":  err.Error(),
			})
			continue
		}
		for _, rec := range records {
			username, err := s.Restore(ctx, rec.Data)
			if err != nil {
				s.logger.WarnWithFields("Saved session rejected", map[string]interface{}{
					"username": rec.Username,
					"source":   fmt.Sprintf("%T", src),
					"error":    err.Error(),
				})
				continue
			}
			s.logger.InfoWithFields("Session restored", map[string]interface{}{
				"username": username,
				"source":   fmt.Sprintf("%T", src),
			})
			return username, nil
		}
	}
	return "", errs.New(errs.ErrorTypeNotAuthenticated, http.StatusUnauthorized, "no usable saved session")
}

// save hands the exported blob to every saver. Failures are only logged.
func (s *Service) save(ctx context.Context, username string, loader Loader) {
	if len(s.savers) == 0 {
		return
	}
	blob, err := loader.ExportSession()
	if err != nil {
		s.logger.WarnWithFields("Failed to export session", map[string]interface{}{
			"username": username,
			"error":    err.Error(),
		})
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	defer cancel()
	for _, saver := range s.savers {
		if err := saver.SaveSession(saveCtx, username, blob); err != nil {
			s.logger.WarnWithFields("Failed to persist session", map[string]interface{}{
				"username": username,
				"saver":    fmt.Sprintf("%T", saver),
				"error":    err.Error(),
			})
		}
	}
}

// Close logs out and stops the worker pool after in-flight calls finish.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cur := s.current.Load()
	s.current.Store(anonymous)
	s.mu.Unlock()

	s.pool.Stop()
	s.release(cur.loader)
	return nil
}

// PoolStats reports worker pool occupancy.
func (s *Service) PoolStats() (active, queued, size int) {
	return s.pool.Active(), s.pool.Queued(), s.pool.Size()
}

func pick(items []models.MediaItem, index int) (models.MediaItem, error) {
	if index < 1 || index > len(items) {
		return models.MediaItem{}, errs.New(errs.ErrorTypeIndexOutOfRange, http.StatusNotFound,
			"media index %d out of range (have %d)", index, len(items))
	}
	return items[index-1], nil
}
