package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// attempt is the in-flight login context. It lives only in memory and only
// for one login attempt.
type attempt struct {
	id     ulid.ULID
	email  string
	passwd []byte

	accountID string
	session   *Session

	biometric            bool
	awaitingSecondFactor bool
	secondFactorVerified bool

	ctx    context.Context
	cancel context.CancelFunc

	// busy guards against two steps of one attempt running at once.
	busy     bool
	inflight sync.WaitGroup

	cooldown *cooldown
}

func newAttempt(email, password string, biometric bool) *attempt {
	ctx, cancel := context.WithCancel(context.Background())
	return &attempt{
		id:        ulid.Make(),
		email:     email,
		passwd:    []byte(password),
		biometric: biometric,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (a *attempt) password() string {
	return string(a.passwd)
}

// wipePassword zeroes the retained password. Safe to call more than once.
func (a *attempt) wipePassword() {
	clear(a.passwd)
	a.passwd = nil
}

func (a *attempt) hasPassword() bool {
	return len(a.passwd) > 0
}

// stopCooldown must not run under o.mu: a tick observer may be waiting for it.
func (a *attempt) stopCooldown() {
	a.cooldown.stop()
}

// dispose releases everything the attempt holds.
func (a *attempt) dispose() {
	a.cancel()
	a.stopCooldown()
	a.wipePassword()
	a.session = nil
}

// cooldown is the resend window. The ticker goroutine only exists when a tick
// observer is configured.
type cooldown struct {
	until time.Time
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

func startCooldown(now time.Time, window time.Duration, tick func(int)) *cooldown {
	c := &cooldown{until: now.Add(window), done: make(chan struct{})}
	if tick == nil || window <= 0 {
		return c
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTicker(time.Second)
		defer t.Stop()
		left := int((window + time.Second - 1) / time.Second)
		tick(left)
		for left > 0 {
			select {
			case <-c.done:
				return
			case <-t.C:
				left--
				tick(left)
			}
		}
	}()
	return c
}

func (c *cooldown) remaining(now time.Time) time.Duration {
	if c == nil {
		return 0
	}
	if d := c.until.Sub(now); d > 0 {
		return d
	}
	return 0
}

// stop waits for the ticker goroutine to exit.
func (c *cooldown) stop() {
	if c == nil {
		return
	}
	c.once.Do(func() { close(c.done) })
	c.wg.Wait()
}
