package directory

import (
	"context"
	"sync"
)

// Notifier carries change signals between writers and subscriptions. Signals
// are coalesced; a subscriber re-reads state on each one.
type Notifier interface {
	Notify(ctx context.Context, topic string) error
	// Watch returns a channel that receives a signal after every Notify on
	// topic. The channel is closed once ctx is done.
	Watch(ctx context.Context, topic string) (<-chan struct{}, error)
}

// Subscription is a live stream of snapshots. C is closed after Close or when
// the subscribing context ends.
type Subscription struct {
	C      <-chan Snapshot
	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops delivery and waits for the stream to shut down.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// notifyWrite signals the document path and its collection.
func notifyWrite(ctx context.Context, n Notifier, docPath string) error {
	col, _, err := splitDoc(docPath)
	if err != nil {
		return err
	}
	if err := n.Notify(ctx, docPath); err != nil {
		return err
	}
	return n.Notify(ctx, col)
}

func subscribe(ctx context.Context, n Notifier, topic string, load func(context.Context) Snapshot) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	// Watch before the first load so no change between the two is lost.
	changes, err := n.Watch(ctx, topic)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan Snapshot, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)

		emit := func() bool {
			snap := load(ctx)
			select {
			case out <- snap:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok || !emit() {
					return
				}
			}
		}
	}()

	return &Subscription{C: out, cancel: cancel, done: done}, nil
}

// LocalNotifier fans signals out inside one process.
type LocalNotifier struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[string]map[chan struct{}]struct{})}
}

func (n *LocalNotifier) Notify(_ context.Context, topic string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.subs[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (n *LocalNotifier) Watch(ctx context.Context, topic string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.subs[topic] == nil {
		n.subs[topic] = make(map[chan struct{}]struct{})
	}
	n.subs[topic][ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.subs[topic], ch)
		if len(n.subs[topic]) == 0 {
			delete(n.subs, topic)
		}
		n.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}
