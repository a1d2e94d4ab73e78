package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"proctord/internal/logging"
	"proctord/internal/metrics"
	"proctord/internal/store"
)

// Deliverer drains the submission spool in the background. Failed
// deliveries stay spooled and retry on the next sweep; a platform
// duplicate response retires the row as delivered.
type Deliverer struct {
	client   *Client
	spool    *store.Store
	codecFor func(sessionID string) (*store.Codec, error)
	interval time.Duration
	batch    int
	log      *logging.Logger

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// DefaultSweepInterval is how often the spool is checked for pending
// submissions.
const DefaultSweepInterval = 30 * time.Second

// NewDeliverer creates a spool deliverer. codecFor returns the codec
// keyed for a given session so each envelope verifies under its own
// derived key.
func NewDeliverer(client *Client, spool *store.Store, codecFor func(string) (*store.Codec, error),
	interval time.Duration, log *logging.Logger) *Deliverer {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if log == nil {
		log = logging.Default()
	}
	return &Deliverer{
		client:   client,
		spool:    spool,
		codecFor: codecFor,
		interval: interval,
		batch:    8,
		log:      log.WithComponent("deliverer"),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (d *Deliverer) Start() {
	d.wg.Add(1)
	go d.loop()
}

// Stop halts the sweep loop and waits for an in-flight sweep to end.
func (d *Deliverer) Stop() {
	d.once.Do(func() { close(d.stop) })
	d.wg.Wait()
}

// Nudge requests an immediate sweep, typically right after a
// submission is spooled.
func (d *Deliverer) Nudge() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Deliverer) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		case <-d.wake:
		}
		d.sweep()
	}
}

func (d *Deliverer) sweep() {
	pending, err := d.spool.NextPending(d.batch)
	if err != nil {
		d.log.Error("spool read failed", "error", err)
		return
	}

	for _, p := range pending {
		select {
		case <-d.stop:
			return
		default:
		}

		start := time.Now()
		if err := d.deliver(p); err != nil {
			d.log.Warn("delivery failed, will retry",
				"session_id", p.SessionID, "attempts", p.Attempts+1, "error", err)
			if err := d.spool.RecordAttempt(p.ID); err != nil {
				d.log.Error("spool update failed", "id", p.ID, "error", err)
			}
			metrics.GetMetrics().RecordDelivery(time.Since(start), false)
			continue
		}

		if err := d.spool.MarkDelivered(p.ID); err != nil {
			d.log.Error("spool update failed", "id", p.ID, "error", err)
			continue
		}
		metrics.GetMetrics().RecordDelivery(time.Since(start), true)
		d.log.Info("submission delivered", "session_id", p.SessionID, "exam_id", p.ExamID)
	}

	if n, err := d.spool.PendingCount(); err == nil {
		metrics.GetMetrics().PendingSubmissions.Set(int64(n))
	}
}

func (d *Deliverer) deliver(p store.PendingSubmission) error {
	codec, err := d.codecFor(p.SessionID)
	if err != nil {
		return err
	}
	defer codec.Close()

	var rec Record
	if err := codec.Decode(p.Payload, p.Tag, &rec); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	err = d.client.Submit(ctx, &rec)
	if errors.Is(err, ErrDuplicate) {
		// The platform already has this session; retrying is pointless.
		d.log.Info("platform reports duplicate, retiring", "session_id", p.SessionID)
		return nil
	}
	return err
}
