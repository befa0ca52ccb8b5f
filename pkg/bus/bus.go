// Package bus fans tracker projections out to any number of UI consumers
// (the terminal UI, the websocket feed). Delivery is latest-wins: a slow
// subscriber loses intermediate projections instead of back-pressuring the
// tracker, which only ever cares about current state.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/B-Whitt/skillwatch/pkg/execution"
	"github.com/B-Whitt/skillwatch/pkg/store"
)

// Detail is the full step-level view of the one execution selected for
// detailed display.
type Detail struct {
	ID               string           `json:"executionId"`
	SkillName        string           `json:"skillName"`
	Status           execution.Status `json:"status"`
	CurrentStepIndex int              `json:"currentStepIndex"`
	TotalSteps       int              `json:"totalSteps"`
	Steps            []execution.Step `json:"steps"`
	StartTime        time.Time        `json:"startTime"`
	EndTime          *time.Time       `json:"endTime,omitempty"`
	Source           execution.Source `json:"source,omitempty"`
	SourceDetails    string           `json:"sourceDetails,omitempty"`
}

// Projection is one published view of tracked state.
type Projection struct {
	Summaries    []store.Summary `json:"summaries"`
	Detail       *Detail         `json:"detail,omitempty"`
	RunningCount int             `json:"runningCount"`
	StatusLine   string          `json:"statusLine"`
	GeneratedAt  time.Time       `json:"generatedAt"`
}

type subscriber struct {
	ch chan Projection
}

// ProjectionBus broadcasts projections to all current subscribers.
type ProjectionBus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	last   *Projection
	closed atomic.Bool
}

func NewProjectionBus() *ProjectionBus {
	return &ProjectionBus{subs: map[int]*subscriber{}}
}

// Publish delivers p to every subscriber without blocking. When a
// subscriber's buffer is full its stale entry is dropped first.
func (b *ProjectionBus) Publish(p Projection) {
	if b.closed.Load() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = &p
	for _, sub := range b.subs {
		select {
		case sub.ch <- p:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- p:
			default:
			}
		}
	}
}

// Subscribe registers a consumer. The most recent projection, if any, is
// pre-loaded so late joiners render immediately. The returned cancel
// function must be called exactly once.
func (b *ProjectionBus) Subscribe() (<-chan Projection, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Projection, 1)}
	if b.last != nil && !b.closed.Load() {
		sub.ch <- *b.last
	}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Close stops delivery and closes all subscriber channels.
func (b *ProjectionBus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
