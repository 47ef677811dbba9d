package bot

import (
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

const queueSize = 64

// dispatcher fans updates out to a fixed set of workers. Updates from the
// same user always land on the same worker, so they are handled in order.
type dispatcher struct {
	queues []chan tgbotapi.Update
	handle func(tgbotapi.Update)
	wg     sync.WaitGroup
}

func newDispatcher(workers int, handle func(tgbotapi.Update)) *dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &dispatcher{
		queues: make([]chan tgbotapi.Update, workers),
		handle: handle,
	}
	for i := range d.queues {
		d.queues[i] = make(chan tgbotapi.Update, queueSize)
	}
	return d
}

func (d *dispatcher) start() {
	for _, q := range d.queues {
		d.wg.Add(1)
		go func(q chan tgbotapi.Update) {
			defer d.wg.Done()
			for update := range q {
				d.handle(update)
			}
		}(q)
	}
}

func (d *dispatcher) dispatch(update tgbotapi.Update) {
	d.queues[d.slot(updateUserID(update))] <- update
}

func (d *dispatcher) slot(userID int64) int {
	if userID < 0 {
		userID = -userID
	}
	return int(userID % int64(len(d.queues)))
}

// stop drains the queues and waits for the workers.
func (d *dispatcher) stop() {
	for _, q := range d.queues {
		close(q)
	}
	d.wg.Wait()
}

func updateUserID(update tgbotapi.Update) int64 {
	switch {
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		return update.CallbackQuery.From.ID
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID
	case update.Message != nil && update.Message.Chat != nil:
		return update.Message.Chat.ID
	}
	return 0
}

// limiterSet keeps one token bucket per user.
type limiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[int64]*userLimiter
	now      func() time.Time
}

type userLimiter struct {
	*rate.Limiter
	seen time.Time
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		limit:    limit,
		burst:    burst,
		limiters: make(map[int64]*userLimiter),
		now:      time.Now,
	}
}

func (s *limiterSet) allow(userID int64) bool {
	s.mu.Lock()
	now := s.now()
	l, ok := s.limiters[userID]
	if !ok {
		l = &userLimiter{Limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[userID] = l
	}
	l.seen = now
	s.mu.Unlock()
	return l.AllowN(now, 1)
}

// sweep drops buckets of users not seen for idle. A dropped bucket is
// recreated full, which is what it would have refilled to anyway.
func (s *limiterSet) sweep(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle)
	dropped := 0
	for id, l := range s.limiters {
		if l.seen.Before(cutoff) {
			delete(s.limiters, id)
			dropped++
		}
	}
	return dropped
}
