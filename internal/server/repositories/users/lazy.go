package users

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dmitrijs2005/clusterapi/internal/server/models"
	"golang.org/x/sync/singleflight"
)

// Connector opens a backend. It is called on first use and again after a
// failed attempt.
type Connector func(ctx context.Context) (Store, error)

// Lazy defers connecting to the backing store until the first operation, so
// a worker can start serving health checks before its database is reachable.
// Concurrent callers share one connect attempt, retried with exponential
// backoff; each caller stops waiting when its own context ends.
type Lazy struct {
	connect    Connector
	newBackOff func() backoff.BackOff
	group      singleflight.Group

	mu    sync.Mutex
	store Store
}

func NewLazy(connect Connector) *Lazy {
	return &Lazy{
		connect: connect,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
}

func (l *Lazy) get(ctx context.Context) (Store, error) {
	if s := l.current(); s != nil {
		return s, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}

	// the attempt outlives any single caller; the backoff bounds it
	dialCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan("connect", func() (any, error) {
		if s := l.current(); s != nil {
			return s, nil
		}
		var s Store
		op := func() error {
			var err error
			s, err = l.connect(dialCtx)
			return err
		}
		if err := backoff.Retry(op, l.newBackOff()); err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.store = s
		l.mu.Unlock()
		return s, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("connect store: %w", res.Err)
		}
		return res.Val.(Store), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("connect store: %w", ctx.Err())
	}
}

func (l *Lazy) current() Store {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store
}

// Connected reports whether a backend has been opened.
func (l *Lazy) Connected() bool {
	return l.current() != nil
}

func (l *Lazy) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.FindByEmail(ctx, email)
}

func (l *Lazy) FindByID(ctx context.Context, id string) (*models.User, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, id)
}

func (l *Lazy) Save(ctx context.Context, user *models.User) error {
	s, err := l.get(ctx)
	if err != nil {
		return err
	}
	return s.Save(ctx, user)
}

func (l *Lazy) Delete(ctx context.Context, id string) error {
	s, err := l.get(ctx)
	if err != nil {
		return err
	}
	return s.Delete(ctx, id)
}

func (l *Lazy) List(ctx context.Context) ([]*models.User, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.List(ctx)
}

// Ping connects if needed, so readiness checks double as a connection warm-up.
func (l *Lazy) Ping(ctx context.Context) error {
	s, err := l.get(ctx)
	if err != nil {
		return err
	}
	return s.Ping(ctx)
}

// Close releases the backend if one was opened.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	err := l.store.Close()
	l.store = nil
	return err
}
