package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/sakif/pattern-playground/internal/apperror"
	"github.com/sakif/pattern-playground/internal/event"
	"github.com/sakif/pattern-playground/internal/pattern"
	"github.com/sakif/pattern-playground/internal/playground"
	"github.com/sakif/pattern-playground/internal/recorder"
	"github.com/sakif/pattern-playground/internal/sandbox"
)

// CompareRequest names the code to run. PatternID loads both sides from the
// catalog; a non-empty CodeA or CodeB then overrides that side.
type CompareRequest struct {
	PatternID string `json:"patternId,omitempty"`
	CodeA     string `json:"codeA,omitempty"`
	CodeB     string `json:"codeB,omitempty"`
}

// CompareResult is the whole output of one cycle.
//
// Comparison is nil when the cycle failed; Error then holds the same text
// as the "Execution error" entry.
type CompareResult struct {
	SessionID  string            `json:"sessionId"`
	Backend    string            `json:"backend"`
	Entries    []recorder.Entry  `json:"entries"`
	Comparison *event.Comparison `json:"comparison,omitempty"`
	Summary    string            `json:"summary,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// CompareService runs comparisons on a shared sandbox backend.
//
// CONCURRENCY CAP:
// Every live session (one-shot or websocket) holds one slot of a weighted
// semaphore for its whole life. When all slots are taken the next caller
// gets apperror.ErrBusy immediately instead of queueing, so a burst of
// requests cannot pile up sandboxes.
type CompareService struct {
	backend       sandbox.Backend
	patterns      PatternLookup
	sessions      *semaphore.Weighted
	sessionCfg    playground.SessionConfig
	maxCodeLength int
	logger        *slog.Logger
}

// CompareConfig tunes a CompareService.
type CompareConfig struct {
	MaxSessions   int64
	MaxCodeLength int
	Session       playground.SessionConfig
}

func NewCompareService(backend sandbox.Backend, patterns PatternLookup, cfg CompareConfig, logger *slog.Logger) *CompareService {
	if cfg.MaxSessions < 1 {
		cfg.MaxSessions = 1
	}
	if cfg.MaxCodeLength <= 0 {
		cfg.MaxCodeLength = DefaultMaxCodeLength
	}
	return &CompareService{
		backend:       backend,
		patterns:      patterns,
		sessions:      semaphore.NewWeighted(cfg.MaxSessions),
		sessionCfg:    cfg.Session,
		maxCodeLength: cfg.MaxCodeLength,
		logger:        logger,
	}
}

// BackendName reports which sandbox backend runs the code.
func (s *CompareService) BackendName() string {
	return s.backend.Name()
}

// Resolve turns a request into the two code strings, validating both.
func (s *CompareService) Resolve(req CompareRequest) (codeA, codeB string, err error) {
	if id := strings.TrimSpace(req.PatternID); id != "" {
		p, err := s.patterns.Get(id)
		if err != nil {
			if errors.Is(err, pattern.ErrNotFound) {
				return "", "", apperror.NotFound("pattern", id)
			}
			return "", "", err
		}
		codeA, codeB = p.CodeA, p.CodeB
	}
	if req.CodeA != "" {
		codeA = req.CodeA
	}
	if req.CodeB != "" {
		codeB = req.CodeB
	}

	if err := checkCode("codeA", codeA, s.maxCodeLength); err != nil {
		return "", "", err
	}
	if err := checkCode("codeB", codeB, s.maxCodeLength); err != nil {
		return "", "", err
	}
	return codeA, codeB, nil
}

// OpenSession reserves a slot and builds a fresh playground session. The
// returned release func closes the session and frees the slot; it is safe
// to call more than once.
func (s *CompareService) OpenSession() (*playground.Session, func(), error) {
	if !s.sessions.TryAcquire(1) {
		s.logger.Warn("comparison rejected: session limit reached")
		return nil, nil, apperror.Busy("too many comparisons are running, try again shortly")
	}

	session := playground.NewSession(s.backend, s.logger, s.sessionCfg)

	var once sync.Once
	release := func() {
		once.Do(func() {
			session.Close()
			s.sessions.Release(1)
		})
	}
	return session, release, nil
}

// Compare runs one cycle in a throwaway session and returns everything it
// recorded.
//
// A failed cycle (a backend that cannot launch, a cancelled request) is
// still a result: the entries show what happened up to the failure. Only
// problems before the cycle starts (bad input, no free slot) are errors.
func (s *CompareService) Compare(ctx context.Context, req CompareRequest) (*CompareResult, error) {
	codeA, codeB, err := s.Resolve(req)
	if err != nil {
		return nil, err
	}

	session, release, err := s.OpenSession()
	if err != nil {
		return nil, err
	}
	defer release()

	result := &CompareResult{
		SessionID: session.ID,
		Backend:   s.backend.Name(),
	}

	cmp, runErr := session.Run(ctx, codeA, codeB)
	result.Entries = session.Recorder.List()

	if runErr != nil {
		if errors.Is(runErr, playground.ErrAlreadyRunning) {
			return nil, apperror.Busy("session is already running a comparison")
		}
		result.Error = runErr.Error()
		s.logger.Warn("comparison failed",
			slog.String("session", session.ID),
			slog.String("pattern", req.PatternID),
			slog.String("error", runErr.Error()),
		)
		return result, nil
	}

	result.Comparison = &cmp
	result.Summary = cmp.Summary()
	return result, nil
}
