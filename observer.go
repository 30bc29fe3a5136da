// Package ruleflow is a cooperative lifecycle orchestration engine for
// frame-driven applications.
//
// A Module owns a set of Rules and walks them through a time-sliced phase
// state machine (Configure, InjectDependencies, PreInitialize,
// InitializeRules, UpdateRules, UnloadRules, PostUnload) under a per-frame
// time budget. An Orchestrator supervises one module slot, sequences
// Transitions around load, unload, reload and switch operations, and owns
// child orchestrators for nested sub-modules. Failures are routed through
// declarative exception and performance policies.
//
// Basic usage:
//
//	root := ruleflow.NewOrchestrator("game", ruleflow.WithLogger(logger))
//	if err := root.LoadModule(menuSetup, nil); err != nil {
//		log.Fatal(err)
//	}
//	for !root.Stopped() {
//		root.Update() // once per frame
//	}
package ruleflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Observer defines the interface for objects that want to be notified of
// lifecycle events. Events use the CloudEvents specification.
type Observer interface {
	// OnEvent is called synchronously from the frame that produced the event.
	// Observers must return quickly; the frame budget does not account for them.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer.
	ObserverID() string
}

// Subject defines the interface for objects that can be observed.
type Subject interface {
	// RegisterObserver adds an observer. If eventTypes is empty, the observer
	// receives all events.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. It is idempotent.
	UnregisterObserver(observer Observer) error

	// NotifyObservers sends an event to all interested observers.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error

	// GetObservers returns information about registered observers.
	GetObservers() []ObserverInfo
}

// ObserverInfo provides information about a registered observer.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// FunctionalObserver adapts a function into an Observer.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer that calls handler for each event.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{id: id, handler: handler}
}

func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

func (f *FunctionalObserver) ObserverID() string { return f.id }

type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool
	registeredAt time.Time
	seq          int
}

// EventBus is the Subject used by modules and orchestrators. Unlike a
// fan-out over goroutines, it notifies observers synchronously and in
// registration order so events from one frame are seen in the order the
// engine produced them.
type EventBus struct {
	mu        sync.RWMutex
	observers map[string]*observerRegistration
	seq       int
	logger    Logger
}

// NewEventBus creates an empty bus. A nil logger discards observer errors.
func NewEventBus(logger Logger) *EventBus {
	if logger == nil {
		logger = NopLogger{}
	}
	return &EventBus{observers: make(map[string]*observerRegistration), logger: logger}
}

func (b *EventBus) RegisterObserver(observer Observer, eventTypes ...string) error {
	if observer == nil {
		return ErrObserverNil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	types := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = true
	}
	b.seq++
	b.observers[observer.ObserverID()] = &observerRegistration{
		observer:     observer,
		eventTypes:   types,
		registeredAt: time.Now(),
		seq:          b.seq,
	}
	b.logger.Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

func (b *EventBus) UnregisterObserver(observer Observer) error {
	if observer == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.observers, observer.ObserverID())
	return nil
}

func (b *EventBus) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	if err := ValidateCloudEvent(event); err != nil {
		b.logger.Error("Invalid CloudEvent", "eventType", event.Type(), "error", err)
		return err
	}

	b.mu.RLock()
	regs := make([]*observerRegistration, 0, len(b.observers))
	for _, reg := range b.observers {
		if len(reg.eventTypes) > 0 && !reg.eventTypes[event.Type()] {
			continue
		}
		regs = append(regs, reg)
	}
	b.mu.RUnlock()
	sortRegistrations(regs)

	var errs []error
	for _, reg := range regs {
		if err := notifyOne(ctx, reg.observer, event); err != nil {
			b.logger.Error("Observer error", "observerID", reg.observer.ObserverID(), "event", event.Type(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *EventBus) GetObservers() []ObserverInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	info := make([]ObserverInfo, 0, len(b.observers))
	for _, reg := range b.observers {
		types := make([]string, 0, len(reg.eventTypes))
		for t := range reg.eventTypes {
			types = append(types, t)
		}
		info = append(info, ObserverInfo{ID: reg.observer.ObserverID(), EventTypes: types, RegisteredAt: reg.registeredAt})
	}
	return info
}

func sortRegistrations(regs []*observerRegistration) {
	slices.SortFunc(regs, func(a, b *observerRegistration) int { return a.seq - b.seq })
}

func notifyOne(ctx context.Context, o Observer, event cloudevents.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrObserverPanic, r)
		}
	}()
	return o.OnEvent(ctx, event)
}

// NewCloudEvent creates a CloudEvent with a time-ordered id.
func NewCloudEvent(eventType, source string, data any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	return event
}

// generateEventID generates a unique identifier using UUIDv7, falling back to v4.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// ValidateCloudEvent validates that a CloudEvent conforms to the specification.
func ValidateCloudEvent(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("CloudEvent validation failed: %w", err)
	}
	return nil
}

// emitter sends engine events to a subject. A nil subject drops them.
type emitter struct {
	subject Subject
	logger  Logger
}

func (e emitter) emit(eventType, source string, data any) {
	if e.subject == nil {
		return
	}
	if err := e.subject.NotifyObservers(context.Background(), NewCloudEvent(eventType, source, data)); err != nil {
		e.logger.Debug("Failed to emit event", "eventType", eventType, "error", err)
	}
}
