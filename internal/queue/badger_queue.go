package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// message is the stored queue record wrapping one envelope.
type message struct {
	ID           string           `json:"id"`
	Envelope     *models.Envelope `json:"envelope"`
	ReceiveCount int              `json:"receive_count"`
	EnqueuedAt   int64            `json:"enqueued_at"` // epoch ms
}

// BadgerQueue is a durable at-least-once queue over a badger store. Message
// bodies live under one key; a visibility index keyed by due time drives
// delivery. Claiming a message moves its index entry forward by the
// visibility timeout, so a crashed dispatcher's messages resurface on their
// own.
//
// Key layout:
//
//	queue:{name}:msg:{id}                      message body
//	queue:{name}:index:{due_ms:020d}:{id}      visibility index
//	queue:{name}:dead:{id}                     dead-letter body
type BadgerQueue struct {
	db          *badger.DB
	name        string
	workerURL   string // base URL, also the OIDC audience
	dispatchURL string // workerURL + dispatchPath, the delivery target
	client      *http.Client
	tokenSource oauth2.TokenSource
	logger      arbor.ILogger

	pollInterval      time.Duration
	visibilityTimeout time.Duration
	maxReceive        int
	backoffBase       time.Duration
	backoffCap        time.Duration
	concurrency       int

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex
}

// NewBadgerQueue opens the store and starts the dispatcher.
func NewBadgerQueue(config *common.Config, logger arbor.ILogger) (*BadgerQueue, error) {
	opts := badger.DefaultOptions(config.Queue.BadgerPath)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue store: %w", err)
	}

	name := config.Queue.Name
	if name == "" {
		name = "dealflow"
	}
	concurrency := config.Queue.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	maxReceive := config.Queue.MaxReceive
	if maxReceive <= 0 {
		maxReceive = 8
	}
	target, err := dispatchURL(config.Worker.URL)
	if err != nil {
		db.Close()
		return nil, err
	}

	q := &BadgerQueue{
		db:                db,
		name:              name,
		workerURL:         config.Worker.URL,
		dispatchURL:       target,
		client:            &http.Client{Timeout: 10 * time.Minute},
		tokenSource:       NewMetadataTokenSource(config.Worker.URL, config.Deploy.TasksInvokerSA),
		logger:            logger,
		pollInterval:      parseDurationOr(config.Queue.PollInterval, 500*time.Millisecond),
		visibilityTimeout: parseDurationOr(config.Queue.VisibilityTimeout, 11*time.Minute),
		maxReceive:        maxReceive,
		backoffBase:       parseDurationOr(config.Queue.BackoffBase, 30*time.Second),
		backoffCap:        parseDurationOr(config.Queue.BackoffCap, 10*time.Minute),
		concurrency:       concurrency,
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
	q.start()

	logger.Info().
		Str("queue", name).
		Str("worker_url", q.workerURL).
		Int("concurrency", concurrency).
		Msg("Badger queue started")
	return q, nil
}

func (q *BadgerQueue) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", q.name, id))
}

func (q *BadgerQueue) indexKey(dueMS int64, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", q.name, dueMS, id))
}

func (q *BadgerQueue) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", q.name))
}

func (q *BadgerQueue) deadKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:dead:%s", q.name, id))
}

// Enqueue persists the envelope and schedules immediate delivery. Returns the
// generated message ID.
func (q *BadgerQueue) Enqueue(ctx context.Context, envelope *models.Envelope) (string, error) {
	id := common.NewEnvelopeID()
	msg := &message{
		ID:         id,
		Envelope:   envelope,
		EnqueuedAt: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queue message: %w", err)
	}

	err = q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(q.msgKey(id), data); err != nil {
			return err
		}
		return txn.Set(q.indexKey(time.Now().UnixMilli(), id), []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue: %w", err)
	}

	q.logger.Debug().
		Str("message_id", id).
		Str("job_type", envelope.JobType).
		Msg("Envelope enqueued")
	return id, nil
}

func (q *BadgerQueue) start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	go q.dispatchLoop()
}

// dispatchLoop polls the visibility index and delivers due messages through a
// bounded set of workers.
func (q *BadgerQueue) dispatchLoop() {
	defer close(q.doneCh)
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, q.concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-q.stopCh:
			wg.Wait()
			return
		case <-ticker.C:
			for _, msg := range q.claimDue() {
				msg := msg
				wg.Add(1)
				sem <- struct{}{}
				go func() {
					defer wg.Done()
					defer func() { <-sem }()
					q.deliver(msg)
				}()
			}
		}
	}
}

// claimDue pops messages whose due time has passed, pushing each one's index
// entry forward by the visibility timeout so nothing is lost if delivery
// dies mid-flight.
func (q *BadgerQueue) claimDue() []*message {
	var claimed []*message
	now := time.Now().UnixMilli()
	cutoff := q.indexKey(now, "")

	err := q.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := q.indexPrefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if bytes.Compare(key, cutoff) > 0 {
				break
			}
			var id string
			if err := it.Item().Value(func(v []byte) error {
				id = string(v)
				return nil
			}); err != nil {
				return err
			}

			item, err := txn.Get(q.msgKey(id))
			if err == badger.ErrKeyNotFound {
				// Orphaned index entry from a partially completed delete.
				if err := txn.Delete(key); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}

			var msg message
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &msg)
			}); err != nil {
				return err
			}

			msg.ReceiveCount++
			data, err := json.Marshal(&msg)
			if err != nil {
				return err
			}
			if err := txn.Set(q.msgKey(id), data); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(q.indexKey(now+q.visibilityTimeout.Milliseconds(), id), []byte(id)); err != nil {
				return err
			}
			claimed = append(claimed, &msg)
		}
		return nil
	})
	if err != nil {
		q.logger.Warn().Err(err).Msg("Failed to claim due messages")
		return nil
	}
	return claimed
}

// deliver POSTs the envelope to the worker. A 2xx acknowledges; a 4xx is
// non-retryable and dead-letters immediately; anything else reschedules with
// exponential backoff until max receive, then dead-letters.
func (q *BadgerQueue) deliver(msg *message) {
	ctx, cancel := context.WithTimeout(context.Background(), q.client.Timeout)
	defer cancel()

	status, err := q.post(ctx, msg.Envelope)
	switch {
	case err == nil && status >= 200 && status < 300:
		q.ack(msg.ID)
	case err == nil && status >= 400 && status < 500:
		q.logger.Warn().
			Str("message_id", msg.ID).
			Str("job_type", msg.Envelope.JobType).
			Int("status", status).
			Msg("Worker rejected envelope, dead-lettering")
		q.deadLetter(msg)
	default:
		if err != nil {
			q.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("Delivery failed")
		} else {
			q.logger.Warn().Str("message_id", msg.ID).Int("status", status).Msg("Worker returned error")
		}
		if msg.ReceiveCount >= q.maxReceive {
			q.logger.Error().
				Str("message_id", msg.ID).
				Str("job_type", msg.Envelope.JobType).
				Int("receive_count", msg.ReceiveCount).
				Msg("Max receive count exceeded, dead-lettering")
			q.deadLetter(msg)
			return
		}
		q.reschedule(msg)
	}
}

func (q *BadgerQueue) post(ctx context.Context, envelope *models.Envelope) (int, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.dispatchURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	if q.tokenSource != nil {
		token, err := q.tokenSource.Token()
		if err != nil {
			return 0, fmt.Errorf("failed to mint invoker token: %w", err)
		}
		token.SetAuthHeader(req)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

// ack removes the message and every index entry pointing at it.
func (q *BadgerQueue) ack(id string) {
	if err := q.removeMessage(id, nil); err != nil {
		q.logger.Warn().Err(err).Str("message_id", id).Msg("Failed to ack message")
	}
}

// deadLetter moves the message body under the dead prefix for inspection.
func (q *BadgerQueue) deadLetter(msg *message) {
	data, err := json.Marshal(msg)
	if err != nil {
		q.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to marshal dead letter")
		return
	}
	if err := q.removeMessage(msg.ID, data); err != nil {
		q.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to dead-letter message")
	}
}

// removeMessage deletes the body and index entries; when deadData is set the
// body is preserved under the dead prefix in the same transaction.
func (q *BadgerQueue) removeMessage(id string, deadData []byte) error {
	return q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(q.msgKey(id)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}

		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true})
		defer it.Close()
		prefix := q.indexPrefix()
		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var pointee string
			if err := it.Item().Value(func(v []byte) error {
				pointee = string(v)
				return nil
			}); err != nil {
				return err
			}
			if pointee == id {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}

		if deadData != nil {
			return txn.Set(q.deadKey(id), deadData)
		}
		return nil
	})
}

// reschedule writes a fresh index entry after the backoff delay, replacing
// the visibility-timeout entry written at claim time.
func (q *BadgerQueue) reschedule(msg *message) {
	delay := q.backoffBase
	for i := 1; i < msg.ReceiveCount; i++ {
		delay *= 2
		if delay >= q.backoffCap {
			delay = q.backoffCap
			break
		}
	}

	err := q.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true})
		defer it.Close()
		prefix := q.indexPrefix()
		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var pointee string
			if err := it.Item().Value(func(v []byte) error {
				pointee = string(v)
				return nil
			}); err != nil {
				return err
			}
			if pointee == msg.ID {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return txn.Set(q.indexKey(time.Now().Add(delay).UnixMilli(), msg.ID), []byte(msg.ID))
	})
	if err != nil {
		q.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to reschedule message")
		return
	}
	q.logger.Debug().
		Str("message_id", msg.ID).
		Int("receive_count", msg.ReceiveCount).
		Str("delay", delay.String()).
		Msg("Envelope rescheduled")
}

// PruneDeadLetters removes dead-lettered messages enqueued before the cutoff.
// Returns the number removed. Housekeeping calls this through the
// DeadLetterPruner interface.
func (q *BadgerQueue) PruneDeadLetters(cutoff time.Time) (int64, error) {
	var pruned int64
	err := q.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(fmt.Sprintf("queue:%s:dead:", q.name))
		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var msg message
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &msg)
			}); err != nil {
				return err
			}
			if msg.EnqueuedAt < cutoff.UnixMilli() {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

// Close stops the dispatcher and closes the store.
func (q *BadgerQueue) Close() error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = false
	close(q.stopCh)
	q.mu.Unlock()

	<-q.doneCh
	return q.db.Close()
}
