// Package events fans file and service status changes out to listeners.
package events

import (
	"fmt"
	"sync"

	"github.com/dl-alexandre/gsyncfs/internal/logging"
	"github.com/dl-alexandre/gsyncfs/internal/types"
)

// FileStatusListener receives file status changes
type FileStatusListener func(types.FileStatusEvent)

// ServiceStatusListener receives service status transitions
type ServiceStatusListener func(types.ServiceStatus)

type fileReg struct {
	id uint64
	fn FileStatusListener
}

type serviceReg struct {
	id uint64
	fn ServiceStatusListener
}

// Bus delivers events synchronously, in registration order. A panicking
// listener is logged and skipped.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	files    []fileReg
	services []serviceReg
	logger   logging.Logger
}

// NewBus creates an empty bus
func NewBus(logger logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Bus{logger: logger.With(logging.F("component", "events"))}
}

// OnFileStatusChanged registers fn and returns a function that removes it
func (b *Bus) OnFileStatusChanged(fn FileStatusListener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.files = append(b.files, fileReg{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, r := range b.files {
			if r.id == id {
				b.files = append(b.files[:i:i], b.files[i+1:]...)
				return
			}
		}
	}
}

// OnServiceStatusChanged registers fn and returns a function that removes it
func (b *Bus) OnServiceStatusChanged(fn ServiceStatusListener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.services = append(b.services, serviceReg{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, r := range b.services {
			if r.id == id {
				b.services = append(b.services[:i:i], b.services[i+1:]...)
				return
			}
		}
	}
}

// PublishFileStatus delivers ev to every file status listener
func (b *Bus) PublishFileStatus(ev types.FileStatusEvent) {
	b.mu.RLock()
	listeners := make([]fileReg, len(b.files))
	copy(listeners, b.files)
	b.mu.RUnlock()

	for _, r := range listeners {
		b.invoke("file", func() { r.fn(ev) })
	}
}

// PublishServiceStatus delivers st to every service status listener
func (b *Bus) PublishServiceStatus(st types.ServiceStatus) {
	b.mu.RLock()
	listeners := make([]serviceReg, len(b.services))
	copy(listeners, b.services)
	b.mu.RUnlock()

	for _, r := range listeners {
		b.invoke("service", func() { r.fn(st) })
	}
}

func (b *Bus) invoke(kind string, call func()) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("Status listener panicked",
				logging.F("kind", kind),
				logging.F("panic", fmt.Sprint(rec)),
			)
		}
	}()
	call()
}
