package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sakif/pattern-playground/internal/apperror"
	"github.com/sakif/pattern-playground/internal/bootstrap"
	"github.com/sakif/pattern-playground/internal/event"
	"github.com/sakif/pattern-playground/internal/model"
	"github.com/sakif/pattern-playground/internal/pattern"
	"github.com/sakif/pattern-playground/internal/playground"
	"github.com/sakif/pattern-playground/internal/repository"
	"github.com/sakif/pattern-playground/internal/sandbox"
)

// FAKES:
// Hand-written in-memory stand-ins for the interfaces the services take.

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSnippetRepo struct {
	mu       sync.Mutex
	snippets map[string]model.Snippet
	order    []string
	nextID   int
	listErr  error
}

func newFakeSnippetRepo() *fakeSnippetRepo {
	return &fakeSnippetRepo{snippets: map[string]model.Snippet{}}
}

var _ repository.SnippetRepository = (*fakeSnippetRepo)(nil)

func (f *fakeSnippetRepo) Create(_ context.Context, s *model.Snippet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s.ID = fmt.Sprintf("snip-%d", f.nextID)
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	f.snippets[s.ID] = *s
	f.order = append(f.order, s.ID)
	return nil
}

func (f *fakeSnippetRepo) GetByID(_ context.Context, id string) (*model.Snippet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snippets[id]
	if !ok {
		return nil, apperror.NotFound("snippet", id)
	}
	return &s, nil
}

func (f *fakeSnippetRepo) List(_ context.Context, opts repository.ListOptions) ([]model.Snippet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []model.Snippet{}
	for _, id := range f.order {
		s, ok := f.snippets[id]
		if !ok || (opts.UserID != "" && s.UserID != opts.UserID) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if opts.Offset >= len(out) {
		return []model.Snippet{}, nil
	}
	out = out[opts.Offset:]
	if opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeSnippetRepo) Update(_ context.Context, s *model.Snippet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.snippets[s.ID]; !ok {
		return apperror.NotFound("snippet", s.ID)
	}
	s.UpdatedAt = time.Now()
	f.snippets[s.ID] = *s
	return nil
}

func (f *fakeSnippetRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.snippets[id]; !ok {
		return apperror.NotFound("snippet", id)
	}
	delete(f.snippets, id)
	return nil
}

func (f *fakeSnippetRepo) FindByFingerprint(_ context.Context, userID, fp string) (*model.Snippet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.order {
		if s, ok := f.snippets[id]; ok && s.UserID == userID && s.Fingerprint == fp {
			return &s, nil
		}
	}
	return nil, nil
}

type fakeUserRepo struct {
	users     map[string]model.User
	byGitHub  map[int64]string
	nextID    int
	upsertErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]model.User{}, byGitHub: map[int64]string{}}
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func (f *fakeUserRepo) Upsert(_ context.Context, u *model.User) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if id, ok := f.byGitHub[u.GitHubID]; ok {
		u.ID = id
		u.CreatedAt = f.users[id].CreatedAt
	} else {
		f.nextID++
		u.ID = fmt.Sprintf("user-%d", f.nextID)
		u.CreatedAt = time.Now()
		f.byGitHub[u.GitHubID] = u.ID
	}
	u.UpdatedAt = time.Now()
	f.users[u.ID] = *u
	return nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return &u, nil
}

// testCatalog is a two-pattern catalog independent of the embedded one.
func testCatalog() *pattern.Catalog {
	c, err := pattern.Parse([]byte(`
- id: greet
  title: Greeting
  codeA: "console.log('hi from A')"
  codeB: "console.log('hi from B')"
- id: sum
  title: Sum
  codeA: "1 + 1"
  codeB: "[1, 1].reduce((a, b) => a + b)"
`))
	if err != nil {
		panic(err)
	}
	return c
}

// scriptedBackend posts canned messages for the launched side from inside
// Launch, so a cycle finishes as soon as the coordinator's sleeps do.
type scriptedBackend struct {
	mu       sync.Mutex
	posts    map[event.Side][]string
	fail     error
	programs []string
	block    chan struct{} // when set, Launch waits on it
	entered  chan struct{} // when set, signalled as Launch starts
}

func (b *scriptedBackend) Name() string         { return "scripted" }
func (b *scriptedBackend) Host() bootstrap.Host { return bootstrap.HostEmbedded }

func (b *scriptedBackend) Launch(ctx context.Context, spec sandbox.LaunchSpec) (sandbox.Instance, error) {
	if b.entered != nil {
		select {
		case b.entered <- struct{}{}:
		default:
		}
	}
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	b.programs = append(b.programs, spec.Program)
	posts, fail := b.posts[spec.Side], b.fail
	b.mu.Unlock()

	if fail != nil {
		return nil, fail
	}
	for _, p := range posts {
		spec.Post([]byte(p))
	}
	return idleInstance{}, nil
}

type idleInstance struct{}

func (idleInstance) Idle() bool { return true }
func (idleInstance) Stop()      {}

func happyBackend() *scriptedBackend {
	return &scriptedBackend{posts: map[event.Side][]string{
		event.SideA: {
			`{"type":"console","level":"log","message":"from A","side":"A"}`,
			`{"type":"performance","side":"A","time":2}`,
		},
		event.SideB: {
			`{"type":"console","level":"log","message":"from B","side":"B"}`,
			`{"type":"performance","side":"B","time":8}`,
		},
	}}
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func instantSessions() playground.SessionConfig {
	cfg := playground.DefaultSessionConfig()
	cfg.Sleeper = noSleep
	return cfg
}
