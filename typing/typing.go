// Package typing keeps a "typing…" status visible in a chat while a reply
// is being prepared.
package typing

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Oppen/gptrelay/clock"
)

// DefaultInterval is below Telegram's five second display time for a chat
// action.
const DefaultInterval = 4 * time.Second

type Signaler interface {
	SendTyping(ctx context.Context, chatID int64) error
}

type Indicator struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start signals right away and then every interval until Stop.
func Start(ctx context.Context, s Signaler, chatID int64, interval time.Duration, c clock.Clock, log logrus.FieldLogger) *Indicator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if c == nil {
		c = clock.Real{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(ctx)
	ind := &Indicator{cancel: cancel, done: make(chan struct{})}
	go ind.run(ctx, s, chatID, interval, c, log)
	return ind
}

func (ind *Indicator) run(ctx context.Context, s Signaler, chatID int64, interval time.Duration, c clock.Clock, log logrus.FieldLogger) {
	defer close(ind.done)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.SendTyping(ctx, chatID); err != nil && ctx.Err() == nil {
			log.WithFields(logrus.Fields{
				"chat_id": chatID,
				"error":   err,
			}).Warn("failed to send typing action")
		}
		select {
		case <-ctx.Done():
			return
		case <-c.After(interval):
		}
	}
}

// Stop cancels the indicator and waits for it to finish, so no signal goes
// out after Stop returns. It is safe to call more than once.
func (ind *Indicator) Stop() {
	ind.once.Do(ind.cancel)
	<-ind.done
}
