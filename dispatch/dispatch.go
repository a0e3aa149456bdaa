// Package dispatch runs the workers that turn Telegram updates into handler
// calls.
//
// Regular workers read the update channel, drop what is stale or not for us,
// gate privileged handlers on the access policy and run quick handlers in
// place. Handlers that take long (anything waiting on a backend) are passed
// to batch workers, which start one goroutine per update so a slow backend
// never stalls /help or another user's prompt.
package dispatch

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/Oppen/gptrelay/bot"
	"github.com/Oppen/gptrelay/module"
)

const (
	DefaultNumWorkers = 8
	DefaultNumBatches = 2

	WorkQueueLen  = 100
	BatchQueueLen = 5
)

type BatchWorkerState struct {
	BatchQueue <-chan tgbotapi.Update
	// InFlight tracks the goroutines started for each update, Run waits on
	// it at exit.
	InFlight *sync.WaitGroup
}

type WorkerState struct {
	WorkQueue  <-chan tgbotapi.Update
	BatchQueue chan<- tgbotapi.Update
}

// Route picks the handler for m, or nil when m is not for us.
func Route(b *bot.Bot, m *tgbotapi.Message) module.CommandHandler {
	if m.IsCommand() {
		// In groups commands may be addressed to another bot.
		if at := strings.Index(m.CommandWithAt(), "@"); at >= 0 && b.UserName != "" {
			if !strings.EqualFold(m.CommandWithAt()[at+1:], b.UserName) {
				return nil
			}
		}
		return module.GetCommandHandler(m.Command())
	}
	if strings.TrimSpace(m.Text) == "" {
		return nil
	}
	return module.GetMessageHandler()
}

// Handle runs h for u. A panic only costs this update.
func Handle(ctx context.Context, b *bot.Bot, h module.CommandHandler, u *tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.Logger().WithFields(logrus.Fields{
				"update_id": u.UpdateID,
				"panic":     r,
				"stack":     string(debug.Stack()),
			}).Error("handler panicked")
		}
	}()
	h.HandleCommand(ctx, b, u)
}

func BatchWorker(ctx context.Context, b *bot.Bot, worker *BatchWorkerState) {
	for {
		update, ok := <-worker.BatchQueue
		// Channel was closed, that's our cue to exit.
		if !ok {
			break
		}
		h := Route(b, update.Message)
		if h == nil {
			continue
		}
		worker.InFlight.Add(1)
		go func(u tgbotapi.Update) {
			defer worker.InFlight.Done()
			Handle(ctx, b, h, &u)
		}(update)
	}
	b.Logger().Debug("batch worker done")
}

func Worker(ctx context.Context, b *bot.Bot, worker *WorkerState) {
	log := b.Logger()
	for {
		update, ok := <-worker.WorkQueue
		// Channel was closed, that's our cue to exit.
		if !ok {
			break
		}
		m := update.Message
		if m == nil || m.Chat == nil {
			continue
		}
		if date := time.Unix(int64(m.Date), 0); bot.Expired(date, b.Config.TTL, b.Now()) {
			log.WithField("update_id", update.UpdateID).Debug("dropping stale update")
			continue
		}
		handler := Route(b, m)
		if handler == nil {
			continue
		}
		if handler.RequiresPrivileges() && !b.Relay.Allowed(bot.RequestFor(m)) {
			module.Deny(b, &update)
			continue
		}
		if handler.TakesLong() {
			// Batch workers only hand off, so this never waits on a backend.
			worker.BatchQueue <- update
			continue
		}
		Handle(ctx, b, handler, &update)
	}
	log.Debug("worker done")
}

// Run serves updates until the channel is closed, then waits for every
// queued and in-flight update to be handled.
func Run(ctx context.Context, b *bot.Bot, updates <-chan tgbotapi.Update) {
	nBatches := b.Config.NumBatches
	if nBatches <= 0 {
		nBatches = DefaultNumBatches
	}
	nWorkers := b.Config.NumWorkers
	if nWorkers <= 0 {
		nWorkers = DefaultNumWorkers
	}

	batchQueue := make(chan tgbotapi.Update, BatchQueueLen)
	inFlight := &sync.WaitGroup{}

	batchWg := sync.WaitGroup{}
	batchWg.Add(nBatches)
	for i := 0; i < nBatches; i++ {
		go func() {
			defer batchWg.Done()
			BatchWorker(ctx, b, &BatchWorkerState{BatchQueue: batchQueue, InFlight: inFlight})
		}()
	}

	workerWg := sync.WaitGroup{}
	workerWg.Add(nWorkers)
	for i := 0; i < nWorkers; i++ {
		go func() {
			defer workerWg.Done()
			Worker(ctx, b, &WorkerState{WorkQueue: updates, BatchQueue: batchQueue})
		}()
	}

	// Closing each queue and waiting for the affected routines, first for
	// regular workers and then for batch workers and the updates they
	// started, guarantee all updates get processed before we quit.
	workerWg.Wait()
	close(batchQueue)
	batchWg.Wait()
	inFlight.Wait()
}
