package bot

import (
	"sync"
	"time"

	"number-shop/internal/money"
	"number-shop/internal/store"
)

// step is where a user is in a multi-message flow.
type step int

const (
	stepNone step = iota
	stepBuyQuantity
	stepStockNumbers
	stepPriceCountry
	stepPriceConfirm
	stepPriceAmount
	stepRechargeScreenshot
	stepRechargeAmount
	stepRechargePaymentID
)

type session struct {
	Step       step
	Country    string
	Freeform   bool
	Method     store.RechargeMethod
	Screenshot string
	Amount     money.Amount

	touched time.Time
}

// sessionStore holds conversation state in memory. Sessions idle for
// longer than ttl are dropped on the next read.
type sessionStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[int64]session
	now   func() time.Time
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{
		ttl:   ttl,
		items: make(map[int64]session),
		now:   time.Now,
	}
}

func (s *sessionStore) get(userID int64) (session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.items[userID]
	if !ok {
		return session{}, false
	}
	if s.now().Sub(sess.touched) > s.ttl || sess.Step == stepNone {
		delete(s.items, userID)
		return session{}, false
	}
	return sess, true
}

func (s *sessionStore) set(userID int64, sess session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.touched = s.now()
	s.items[userID] = sess
}

func (s *sessionStore) clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, userID)
}

// sweep drops expired sessions of users who never came back.
func (s *sessionStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	dropped := 0
	for id, sess := range s.items {
		if now.Sub(sess.touched) > s.ttl {
			delete(s.items, id)
			dropped++
		}
	}
	return dropped
}
