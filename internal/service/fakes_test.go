package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/labtracksimple/labtrack/internal/domain/artifact"
	"github.com/labtracksimple/labtrack/internal/domain/extraction"
	"github.com/labtracksimple/labtrack/internal/domain/report"
	"github.com/labtracksimple/labtrack/internal/domain/user"
	"github.com/labtracksimple/labtrack/internal/port/messagequeue"
)

var (
	owner    = &user.Identity{UserID: "user-owner", Email: "owner@example.com"}
	member   = &user.Identity{UserID: "user-member", Email: "member@example.com"}
	outsider = &user.Identity{UserID: "user-outsider"}
	service  = &user.Identity{Service: true}
)

// fakeObjects is an in-memory objectstore.Store.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
	signErr error
	deleted []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjects) Put(_ context.Context, key string, body io.Reader, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	f.types[key] = contentType
	return nil
}

func (f *fakeObjects) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://objects.test/" + key + "?expires=" + ttl.String(), nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

type published struct {
	subject string
	data    []byte
}

// fakeQueue records publishes and dispatches them to subscribers inline.
type fakeQueue struct {
	mu         sync.Mutex
	published  []published
	handlers   map[string][]messagequeue.Handler
	publishErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{handlers: map[string][]messagequeue.Handler{}}
}

func (q *fakeQueue) Publish(ctx context.Context, subject string, data []byte) error {
	if q.publishErr != nil {
		return q.publishErr
	}
	q.mu.Lock()
	q.published = append(q.published, published{subject, data})
	hs := append([]messagequeue.Handler(nil), q.handlers[subject]...)
	q.mu.Unlock()
	for _, h := range hs {
		if err := h(ctx, subject, data); err != nil {
			return err
		}
	}
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = append(q.handlers[subject], handler)
	return func() {}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func (q *fakeQueue) subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.published))
	for i, p := range q.published {
		out[i] = p.subject
	}
	return out
}

type broadcastCall struct {
	householdID string
	eventType   string
	payload     any
}

type fakeHub struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (h *fakeHub) BroadcastToHousehold(_ context.Context, householdID, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, broadcastCall{householdID, eventType, payload})
}

// fakeExtractor returns one candidate per artifact unless err is set.
type fakeExtractor struct {
	err   error
	extra []extraction.Candidate
	block chan struct{}
	// onExtract runs before candidates are produced.
	onExtract func(rep *report.Report)
}

func (f *fakeExtractor) Extract(ctx context.Context, rep *report.Report, arts []artifact.Artifact) ([]extraction.Candidate, error) {
	if f.onExtract != nil {
		f.onExtract(rep)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]extraction.Candidate, 0, len(arts)+len(f.extra))
	for _, a := range arts {
		out = append(out, extraction.Candidate{NameRaw: "Artifact", ValueRaw: "Review artifact", DetailsRaw: a.ObjectPath})
	}
	return append(out, f.extra...), nil
}

// mapCache is an in-memory cache.Cache.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

var errBoom = errors.New("boom")

// seedHousehold creates household h1 with an owner, a member and person p1.
func seedHousehold(m *mockStore) {
	m.addPerson("p1", "h1")
	m.addMember("h1", owner.UserID, "owner")
	m.addMember("h1", member.UserID, "member")
}
