// Package model holds the observable viewport state: map position, view
// dimension, display parameters and the frame buffer's last rendered position.
// Every setter updates state under the model's lock and then notifies observers
// synchronously, outside the lock.
package model

import "sync"

// Observer is notified after an observed model changed. Observers are compared
// by identity, so implementations should be pointer types.
type Observer interface {
	OnChange()
}

// Observable keeps the observer list of a model
type Observable struct {
	mu        sync.Mutex
	observers []Observer
}

// AddObserver subscribes o; adding the same observer twice is a no-op
func (o *Observable) AddObserver(observer Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, existing := range o.observers {
		if existing == observer {
			return
		}
	}
	o.observers = append(o.observers, observer)
}

// RemoveObserver unsubscribes o
func (o *Observable) RemoveObserver(observer Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, existing := range o.observers {
		if existing == observer {
			o.observers = append(o.observers[:i], o.observers[i+1:]...)
			return
		}
	}
}

// ObserverCount returns the number of subscribed observers
func (o *Observable) ObserverCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.observers)
}

func (o *Observable) notifyObservers() {
	o.mu.Lock()
	observers := make([]Observer, len(o.observers))
	copy(observers, o.observers)
	o.mu.Unlock()

	for _, observer := range observers {
		observer.OnChange()
	}
}
