package orchestrator

import (
	"DeckPilot/model"
)

// Observer receives status snapshots. Publish runs on a dedicated goroutine,
// never on the session loop.
type Observer interface {
	Publish(snap model.SessionSnapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(model.SessionSnapshot)

func (f ObserverFunc) Publish(snap model.SessionSnapshot) { f(snap) }

// fanout delivers snapshots to observers without blocking the sender. When
// observers fall behind, older snapshots are dropped for newer ones.
type fanout struct {
	ch        chan model.SessionSnapshot
	done      chan struct{}
	observers []Observer
}

func newFanout(observers []Observer) *fanout {
	f := &fanout{
		ch:        make(chan model.SessionSnapshot, 64),
		done:      make(chan struct{}),
		observers: observers,
	}
	go f.run()
	return f
}

func (f *fanout) run() {
	defer close(f.done)
	for snap := range f.ch {
		for _, o := range f.observers {
			o.Publish(snap)
		}
	}
}

// send must only be called from one goroutine.
func (f *fanout) send(snap model.SessionSnapshot) {
	for {
		select {
		case f.ch <- snap:
			return
		default:
		}
		select {
		case <-f.ch:
		default:
		}
	}
}

// close flushes pending snapshots and waits for the observers.
func (f *fanout) close() {
	close(f.ch)
	<-f.done
}
