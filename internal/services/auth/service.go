package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/interfaces"
	"github.com/ternarybob/fleetsync/internal/models"
)

var (
	// ErrNotPaused is returned when resuming an attempt that is not waiting
	// for human input
	ErrNotPaused = errors.New("attempt is not paused")

	// ErrAttemptNotFound is returned when an attempt id is unknown, typically
	// because the process restarted since the attempt paused
	ErrAttemptNotFound = errors.New("attempt not found")

	// ErrBadCode is returned when a one-time code does not fit the platform's
	// declared shape
	ErrBadCode = errors.New("one-time code does not match expected shape")
)

// pausedAttempt keeps everything needed to continue a paused login: the
// attempt itself plus the live page it paused on. Attempts are ephemeral and
// never persisted; a restart loses them by design.
type pausedAttempt struct {
	attempt *models.AuthAttempt
	page    interfaces.Page
	profile *models.PlatformProfile
}

// Service runs login attempts and holds paused ones for later resumption
type Service struct {
	machine *Machine
	logger  arbor.ILogger

	mu     sync.Mutex
	paused map[string]*pausedAttempt
}

// NewService creates the auth service around a login state machine
func NewService(machine *Machine, logger arbor.ILogger) *Service {
	return &Service{
		machine: machine,
		logger:  logger,
		paused:  make(map[string]*pausedAttempt),
	}
}

// Login runs a fresh attempt. When the returned attempt is paused it has been
// registered for Resume; terminal attempts are not retained.
func (s *Service) Login(ctx context.Context, page interfaces.Page, profile *models.PlatformProfile, cred *models.Credential) (*models.AuthAttempt, error) {
	attempt, err := s.machine.Login(ctx, page, profile, cred)
	if attempt != nil && attempt.State.Paused() {
		s.register(attempt, page, profile)
	}
	return attempt, err
}

// Resume continues a paused attempt with a human-supplied code or after a
// manually solved challenge
func (s *Service) Resume(ctx context.Context, attemptID, code string) (*models.AuthAttempt, error) {
	s.mu.Lock()
	entry, ok := s.paused[attemptID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAttemptNotFound, attemptID)
	}

	err := s.machine.Resume(ctx, entry.attempt, entry.page, entry.profile, code)

	if !entry.attempt.State.Paused() {
		s.mu.Lock()
		delete(s.paused, attemptID)
		s.mu.Unlock()
	}

	return entry.attempt, err
}

// Get returns a paused attempt by id
func (s *Service) Get(attemptID string) (*models.AuthAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.paused[attemptID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAttemptNotFound, attemptID)
	}
	return entry.attempt, nil
}

func (s *Service) register(attempt *models.AuthAttempt, page interfaces.Page, profile *models.PlatformProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paused[attempt.ID] = &pausedAttempt{
		attempt: attempt,
		page:    page,
		profile: profile,
	}

	s.logger.Info().
		Str("attempt_id", attempt.ID).
		Str("state", string(attempt.State)).
		Msg("Login attempt paused for human input")
}
