// Package bus provides a small typed publish/subscribe bus. Messages are
// fanned out to global subscribers and to subscribers registered for the
// message's key; delivery is synchronous on the bus worker.
package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type Message[K comparable, M any] struct {
	Key     K
	Message M
}

// Publisher publishes messages under a fixed key.
type Publisher[M any] func(ctx context.Context, msg M)

// subscription pairs a delivery channel with the subscriber's cancellation
// signal, so the worker never blocks on a subscriber that has gone away.
type subscription[K comparable, M any] struct {
	ch   chan Message[K, M]
	done <-chan struct{}
}

type Bus[K comparable, M any] struct {
	log   *zap.Logger
	ready chan struct{}
	ch    chan Message[K, M]

	// mu guards the subscriber sets and is held for delivery as well:
	// removal and the subsequent channel close can then never race an
	// in-flight send.
	mu         sync.Mutex
	keySubs    map[K]map[*subscription[K, M]]struct{}
	globalSubs map[*subscription[K, M]]struct{}
}

func NewBus[K comparable, M any](log *zap.Logger) *Bus[K, M] {
	return &Bus[K, M]{
		log:        log,
		ready:      make(chan struct{}),
		ch:         make(chan Message[K, M]),
		keySubs:    make(map[K]map[*subscription[K, M]]struct{}),
		globalSubs: make(map[*subscription[K, M]]struct{}),
	}
}

func (b *Bus[K, M]) Start(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-b.ch:
				b.process(ctx, msg)
			}
		}
	}()
	close(b.ready)
	return nil
}

func (b *Bus[K, M]) Ready() <-chan struct{} {
	return b.ready
}

func (b *Bus[K, M]) Publish(ctx context.Context, key K, msg M) {
	select {
	case <-ctx.Done():
	case b.ch <- Message[K, M]{key, msg}:
	}
}

func (b *Bus[K, M]) CreatePublisher(key K) Publisher[M] {
	return func(ctx context.Context, msg M) {
		b.Publish(ctx, key, msg)
	}
}

func (b *Bus[K, M]) process(ctx context.Context, msg Message[K, M]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.globalSubs {
		b.deliver(ctx, sub, msg)
	}
	for sub := range b.keySubs[msg.Key] {
		b.deliver(ctx, sub, msg)
	}
}

func (b *Bus[K, M]) deliver(ctx context.Context, sub *subscription[K, M], msg Message[K, M]) {
	select {
	case <-ctx.Done():
	case <-sub.done:
		// Canceled subscriber; its removal is queued behind mu.
	case sub.ch <- msg:
	}
}

// Subscribe returns a channel of messages for the given keys, or every
// message when no key is given. The channel is closed when ctx is done.
func (b *Bus[K, M]) Subscribe(ctx context.Context, key ...K) <-chan Message[K, M] {
	sub := &subscription[K, M]{
		ch:   make(chan Message[K, M]),
		done: ctx.Done(),
	}
	b.mu.Lock()
	if len(key) == 0 {
		b.globalSubs[sub] = struct{}{}
	} else {
		for _, k := range key {
			subs, ok := b.keySubs[k]
			if !ok {
				subs = make(map[*subscription[K, M]]struct{}, 4)
				b.keySubs[k] = subs
			}
			subs[sub] = struct{}{}
		}
	}
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if len(key) == 0 {
			delete(b.globalSubs, sub)
		} else {
			for _, k := range key {
				subs := b.keySubs[k]
				delete(subs, sub)
				if len(subs) == 0 {
					delete(b.keySubs, k)
				}
			}
		}
		b.mu.Unlock()
		close(sub.ch)
	}()
	return sub.ch
}
