package sync

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"

	"github.com/timberline/fleetsync/internal/remote"
)

type createCall struct {
	kind    string
	payload json.RawMessage
}

type updateCall struct {
	kind    string
	id      string
	payload json.RawMessage
}

// fakeRemote is a scriptable in-memory stand-in for the fleet service.
// Unset hooks succeed.
type fakeRemote struct {
	mu sync.Mutex

	createCalls []createCall
	updateCalls []updateCall
	uploadCalls []string
	listCalls   int
	pingCalls   int

	createFn func(kind string, payload json.RawMessage) (*remote.Entity, error)
	updateFn func(kind, id string, payload json.RawMessage) (*remote.Entity, error)
	uploadFn func(name string, data []byte) (string, error)
	listFn   func(kind string, query url.Values) ([]remote.Entity, error)
	pingFn   func() error
}

func (f *fakeRemote) Create(ctx context.Context, kind string, payload json.RawMessage) (*remote.Entity, error) {
	f.mu.Lock()
	fn := f.createFn
	f.mu.Unlock()

	var entity *remote.Entity
	var err error
	if fn != nil {
		entity, err = fn(kind, payload)
	} else {
		entity = &remote.Entity{ID: "srv-1", Data: payload}
	}

	if err == nil {
		f.mu.Lock()
		f.createCalls = append(f.createCalls, createCall{kind: kind, payload: payload})
		f.mu.Unlock()
	}
	return entity, err
}

func (f *fakeRemote) Update(ctx context.Context, kind, id string, payload json.RawMessage) (*remote.Entity, error) {
	f.mu.Lock()
	fn := f.updateFn
	f.mu.Unlock()

	var entity *remote.Entity
	var err error
	if fn != nil {
		entity, err = fn(kind, id, payload)
	} else {
		entity = &remote.Entity{ID: id, Data: payload}
	}

	if err == nil {
		f.mu.Lock()
		f.updateCalls = append(f.updateCalls, updateCall{kind: kind, id: id, payload: payload})
		f.mu.Unlock()
	}
	return entity, err
}

func (f *fakeRemote) Upload(ctx context.Context, name string, data []byte) (string, error) {
	f.mu.Lock()
	fn := f.uploadFn
	f.mu.Unlock()

	if fn != nil {
		u, err := fn(name, data)
		if err != nil {
			return "", err
		}
		f.mu.Lock()
		f.uploadCalls = append(f.uploadCalls, name)
		f.mu.Unlock()
		return u, nil
	}

	f.mu.Lock()
	f.uploadCalls = append(f.uploadCalls, name)
	f.mu.Unlock()
	return "https://cdn.example.com/" + name, nil
}

func (f *fakeRemote) List(ctx context.Context, kind string, query url.Values) ([]remote.Entity, error) {
	f.mu.Lock()
	f.listCalls++
	fn := f.listFn
	f.mu.Unlock()

	if fn != nil {
		return fn(kind, query)
	}
	return nil, nil
}

func (f *fakeRemote) Ping(ctx context.Context) error {
	f.mu.Lock()
	f.pingCalls++
	fn := f.pingFn
	f.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return nil
}

func (f *fakeRemote) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.createCalls)
}

func (f *fakeRemote) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updateCalls)
}

func (f *fakeRemote) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingCalls
}

func (f *fakeRemote) setPingFn(fn func() error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingFn = fn
}
