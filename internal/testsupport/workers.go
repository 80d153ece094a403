package testsupport

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"idlefarm/internal/steam"
	"idlefarm/internal/supervisor"
	"idlefarm/internal/workerproto"
)

// FakeWorkers is an in-memory worker supervisor. Spawned workers exist only
// as handles; commands are recorded per worker id.
type FakeWorkers struct {
	mu     sync.Mutex
	next   int
	active []supervisor.Handle
	sent   map[string][]workerproto.Command
}

func (f *FakeWorkers) Spawn(appID steam.AppID, name string, kind workerproto.Kind) (supervisor.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	h := supervisor.Handle{ID: fmt.Sprintf("w%d", f.next), AppID: appID, Name: name, Kind: kind, StartedAt: time.Now()}
	f.active = append(f.active, h)
	return h, nil
}

func (f *FakeWorkers) Send(id string, cmd workerproto.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[string][]workerproto.Command)
	}
	f.sent[id] = append(f.sent[id], cmd)
	return nil
}

func (f *FakeWorkers) Terminate(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = slices.DeleteFunc(f.active, func(h supervisor.Handle) bool { return h.ID == id })
	return nil
}

func (f *FakeWorkers) TerminateAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = nil
	return nil
}

func (f *FakeWorkers) Active() []supervisor.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.active)
}

func (f *FakeWorkers) Wait(context.Context) error { return nil }

// Sent returns the commands delivered to worker id.
func (f *FakeWorkers) Sent(id string) []workerproto.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent[id])
}
