// Package notify provides notification of accepted content to external
// destinations, like a webhook kicking a static site rebuild or a telegram channel.
package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/go-pkgz/syncs"

	"github.com/umputun/pubd/app/store"
)

// Destination defines interface for a given destination service, like telegram or webhook
type Destination interface {
	fmt.Stringer
	Send(ctx context.Context, req Request) error
}

// Request is a single notification event, an accepted entry or an uploaded media file
type Request struct {
	Entry         *store.Entry
	MediaFile     string
	MediaLocation string
}

// Service delivers notification events to multiple destinations
type Service struct {
	destinations []Destination
	queue        chan Request

	closed uint32 // non-zero means closed. uses uint instead of bool for atomic
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{} // closed when the delivery loop drained the queue
}

const defaultQueueSize = 100

// NewService makes notification service routing events to all destinations
func NewService(size int, destinations ...Destination) *Service {
	if size <= 0 {
		size = defaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	res := Service{
		queue:        make(chan Request, size),
		destinations: destinations,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	if len(destinations) > 0 {
		go res.do()
	} else {
		close(res.done)
	}
	log.Printf("[INFO] create notifier service, queue size=%d, destinations=%d", size, len(destinations))
	return &res
}

// Submit event to the internal queue if not busy, drop if can't send.
// Request handling never blocks on notifications.
func (s *Service) Submit(req Request) {
	if len(s.destinations) == 0 || atomic.LoadUint32(&s.closed) != 0 {
		return
	}
	select {
	case s.queue <- req:
	default:
		log.Printf("[WARN] can't submit notification to queue, %s", req.summary())
	}
}

// Close queue channel, wait for the queue to drain and cancel in-flight sends
func (s *Service) Close() {
	if s.queue != nil && atomic.SwapUint32(&s.closed, 1) == 0 {
		log.Print("[DEBUG] close notifier")
		close(s.queue)
		<-s.done
		s.cancel()
	}
	atomic.StoreUint32(&s.closed, 1)
}

func (s *Service) do() {
	defer close(s.done)
	for req := range s.queue {
		req := req
		g := syncs.NewSizedGroup(4)
		for _, dest := range s.destinations {
			d := dest
			g.Go(func(_ context.Context) {
				rpt := repeater.New(&strategy.Backoff{Duration: time.Second, Repeats: 5, Factor: 1.5, Jitter: true})
				if err := rpt.Do(s.ctx, func() error { return d.Send(s.ctx, req) }); err != nil {
					log.Printf("[WARN] failed to send to %s, %s", d, err)
				}
			})
		}
		g.Wait()
	}
	log.Print("[INFO] terminated notifier")
}

// summary makes a short description of the event for logs
func (r Request) summary() string {
	if r.Entry != nil {
		if r.Entry.Name != "" {
			return fmt.Sprintf("entry %q", r.Entry.Name)
		}
		return fmt.Sprintf("entry %q", r.Entry.Snippet(50))
	}
	return fmt.Sprintf("media file %s", r.MediaFile)
}

// NopService is do-nothing notifier, without destinations
var NopService = &Service{}
