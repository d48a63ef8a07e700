package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/bellhop/pkg/alert"
	"github.com/cuemby/bellhop/pkg/events"
	"github.com/cuemby/bellhop/pkg/lifecycle"
	"github.com/cuemby/bellhop/pkg/log"
	"github.com/cuemby/bellhop/pkg/metrics"
	"github.com/cuemby/bellhop/pkg/snapshot"
	"github.com/cuemby/bellhop/pkg/storage"
	"github.com/cuemby/bellhop/pkg/tracker"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is the cadence of the backup poll
const DefaultPollInterval = 3 * time.Second

// Input is one observation of the record store: a single pushed change or
// a full polled snapshot.
type Input struct {
	Change   *types.ChangeEvent
	Snapshot []*types.Record

	// FetchedAfter is the push sequence observed when the snapshot fetch
	// started. Only meaningful when Bounded is set.
	FetchedAfter uint64
	Bounded      bool
}

// Push wraps a change event
func Push(ev types.ChangeEvent) Input {
	return Input{Change: &ev}
}

// Poll wraps a full snapshot
func Poll(records []*types.Record) Input {
	if records == nil {
		records = []*types.Record{}
	}
	return Input{Snapshot: records}
}

// PollAfter wraps a snapshot whose fetch started when the push sequence was
// seq. Pushes applied after seq take precedence over its contents.
func PollAfter(records []*types.Record, seq uint64) Input {
	in := Poll(records)
	in.FetchedAfter = seq
	in.Bounded = true
	return in
}

func (in Input) isPoll() bool { return in.Change == nil }

// Options configure a reconciler
type Options struct {
	PollInterval time.Duration
	// Broker receives board.record and poll health events. Optional.
	Broker *events.Broker
}

// Reconciler merges the push and poll channels of one board into its
// snapshot, tracker and alert session.
type Reconciler struct {
	board     types.BoardKey
	store     storage.RecordStore
	feed      storage.ChangeFeed
	graph     *lifecycle.Graph
	predicate alert.Predicate
	interval  time.Duration
	broker    *events.Broker
	logger    zerolog.Logger

	snapshot *snapshot.Store
	tracker  *tracker.Tracker
	alerts   *alert.Session

	// mu serializes every mutation of snapshot, tracker and alerts
	mu          sync.Mutex
	started     bool
	stopped     bool
	pollFailing bool

	// pushSeq counts applied pushes; pushed maps ids to the sequence of
	// their latest push until a poll fetched after it is applied.
	pushSeq  uint64
	pushed   map[string]uint64
	pollMark uint64

	cancel context.CancelFunc
	sub    storage.Subscription
	wg     sync.WaitGroup
}

// New creates a reconciler with fresh state. feed may be nil, in which case
// only the poll channel is used.
func New(board types.BoardKey, store storage.RecordStore, feed storage.ChangeFeed, opts Options) (*Reconciler, error) {
	graph, err := lifecycle.ForKind(board.Kind)
	if err != nil {
		return nil, err
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Reconciler{
		board:     board,
		store:     store,
		feed:      feed,
		graph:     graph,
		predicate: alert.PredicateFor(board.Kind),
		interval:  interval,
		broker:    opts.Broker,
		logger:    log.WithBoard("reconciler", board.TenantID, string(board.Kind)),
		snapshot:  snapshot.New(),
		tracker:   tracker.New(),
		alerts:    alert.NewSession(),
		pushed:    make(map[string]uint64),
	}, nil
}

// Alerts returns the board's alert session
func (r *Reconciler) Alerts() *alert.Session { return r.alerts }

// Snapshot returns the board's snapshot store
func (r *Reconciler) Snapshot() *snapshot.Store { return r.snapshot }

// Tracker returns the board's known-entity tracker
func (r *Reconciler) Tracker() *tracker.Tracker { return r.tracker }

func (r *Reconciler) healthName() string {
	return "board/" + r.board.String()
}

// Start fetches the first snapshot, seeds the tracker with it and then
// starts the poll loop and the change subscription. Records present at
// startup never alert.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("reconciler for %s already started", r.board)
	}
	r.started = true
	r.mu.Unlock()

	records, err := r.store.FetchAll(ctx, r.board)
	if err != nil {
		metrics.UpdateComponent(r.healthName(), false, err.Error())
		return fmt.Errorf("initial fetch for %s: %w", r.board, err)
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}

	r.mu.Lock()
	r.snapshot.Replace(records)
	err = r.tracker.Seed(ids)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	metrics.UpdateComponent(r.healthName(), true, "")
	r.logger.Info().Int("records", len(records)).Msg("Board seeded")

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	if r.feed != nil {
		sub, err := r.feed.Subscribe(runCtx, r.board, func(ev types.ChangeEvent) {
			r.Apply(Push(ev))
		})
		if err != nil {
			// The poll channel still covers every change
			r.logger.Warn().Err(err).Msg("Change subscription failed, relying on polling")
		} else {
			r.sub = sub
		}
	}

	r.wg.Add(1)
	go r.run(runCtx)
	return nil
}

// Stop cancels the poll loop and the subscription and waits for them.
// Observations that arrive afterwards are discarded.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.sub != nil {
		if err := r.sub.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to close change subscription")
		}
	}
	r.wg.Wait()
	metrics.RemoveComponent(r.healthName())
}

// run is the poll loop
func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// PushSeq returns the number of pushes applied so far
func (r *Reconciler) PushSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pushSeq
}

// Refresh polls immediately
func (r *Reconciler) Refresh(ctx context.Context) error {
	return r.poll(ctx)
}

func (r *Reconciler) poll(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.PollDuration, string(r.board.Kind))
	metrics.PollCyclesTotal.WithLabelValues(r.board.TenantID, string(r.board.Kind)).Inc()

	seq := r.PushSeq()
	records, err := r.store.FetchAll(ctx, r.board)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		r.pollFailed(err)
		return err
	}
	r.pollSucceeded()
	r.Apply(PollAfter(records, seq))
	return nil
}

func (r *Reconciler) pollFailed(err error) {
	metrics.PollFailuresTotal.WithLabelValues(r.board.TenantID, string(r.board.Kind)).Inc()
	metrics.UpdateComponent(r.healthName(), false, err.Error())
	r.logger.Warn().Err(err).Msg("Poll failed, keeping last snapshot")

	r.mu.Lock()
	first := !r.pollFailing
	r.pollFailing = true
	r.mu.Unlock()
	if first {
		r.publish(events.EventBoardPollFailed, err.Error(), nil)
	}
}

func (r *Reconciler) pollSucceeded() {
	r.mu.Lock()
	restored := r.pollFailing
	r.pollFailing = false
	r.mu.Unlock()
	if restored {
		metrics.UpdateComponent(r.healthName(), true, "")
		r.logger.Info().Msg("Poll restored")
		r.publish(events.EventBoardPollRestored, "", nil)
	}
}

// Apply merges one observation and returns the records seen for the first
// time. It is the only writer of snapshot, tracker and alert set.
func (r *Reconciler) Apply(in Input) []*types.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return nil
	}

	var fresh []*types.Record
	if in.isPoll() {
		if in.Bounded {
			if in.FetchedAfter < r.pollMark {
				r.logger.Debug().Uint64("fetched_after", in.FetchedAfter).Msg("Dropping superseded poll")
				return nil
			}
			fresh = r.applySnapshot(r.overlayPushes(in.Snapshot, in.FetchedAfter))
			r.pollMark = in.FetchedAfter
			for id, seq := range r.pushed {
				if seq <= in.FetchedAfter {
					delete(r.pushed, id)
				}
			}
		} else {
			fresh = r.applySnapshot(in.Snapshot)
		}
	} else {
		fresh = r.applyChange(*in.Change)
	}

	if len(fresh) > 0 {
		metrics.NewArrivalsTotal.WithLabelValues(r.board.TenantID, string(r.board.Kind)).Add(float64(len(fresh)))
	}
	return fresh
}

func (r *Reconciler) applySnapshot(records []*types.Record) []*types.Record {
	r.snapshot.Replace(records)
	fresh, _ := r.tracker.Classify(records)

	var flagged []string
	for _, rec := range fresh {
		if r.predicate(rec) {
			flagged = append(flagged, rec.ID)
		}
	}
	if len(flagged) > 0 {
		r.logger.Info().Strs("record_ids", flagged).Msg("New records need attention")
		r.alerts.Flag(flagged...)
	}

	// Active records that no longer need attention were handled elsewhere.
	// Absent ids stay active until staff handle them or a push deletes them.
	var gone []string
	for _, id := range r.alerts.Active() {
		if rec, ok := r.snapshot.Get(id); ok && !r.predicate(rec) {
			gone = append(gone, id)
		}
	}
	if len(gone) > 0 {
		r.alerts.Handle(gone...)
	}
	return fresh
}

// overlayPushes replaces the snapshot's view of every id pushed after seq
// with the current one, dropping ids whose latest push deleted them.
func (r *Reconciler) overlayPushes(records []*types.Record, seq uint64) []*types.Record {
	newer := make(map[string]bool)
	for id, s := range r.pushed {
		if s > seq {
			newer[id] = true
		}
	}
	if len(newer) == 0 {
		return records
	}

	merged := make([]*types.Record, 0, len(records)+len(newer))
	for _, rec := range records {
		if rec == nil || !newer[rec.ID] {
			merged = append(merged, rec)
		}
	}
	for id := range newer {
		if cur, ok := r.snapshot.Get(id); ok {
			merged = append(merged, cur)
		}
	}
	return merged
}

func (r *Reconciler) applyChange(ev types.ChangeEvent) []*types.Record {
	if ev.Record == nil || ev.Record.ID == "" {
		return nil
	}
	rec := ev.Record
	r.pushSeq++
	r.pushed[rec.ID] = r.pushSeq
	logger := log.WithRecordID(r.logger, rec.ID).With().Str("op", string(ev.Kind)).Logger()
	metrics.PushEventsTotal.WithLabelValues(string(r.board.Kind), string(ev.Kind)).Inc()

	if ev.Kind == types.ChangeDelete {
		r.snapshot.Delete(rec.ID)
		r.alerts.Handle(rec.ID)
		r.publish(events.EventBoardRecord, string(ev.Kind), rec)
		return nil
	}

	if prev, ok := r.snapshot.Get(rec.ID); ok && prev.Status != rec.Status && !r.graph.Reachable(prev.Status, rec.Status) {
		// The store is authoritative; apply anyway
		metrics.OutOfOrderEvents.WithLabelValues(string(r.board.Kind)).Inc()
		logger.Warn().
			Str("from", string(prev.Status)).
			Str("to", string(rec.Status)).
			Msg("Out-of-order status change")
	}

	r.snapshot.Upsert(rec)
	fresh, _ := r.tracker.Classify([]*types.Record{rec})

	switch {
	case !r.predicate(rec):
		r.alerts.Handle(rec.ID)
	case len(fresh) > 0:
		logger.Info().Msg("New record needs attention")
		r.alerts.Flag(rec.ID)
	}

	r.publish(events.EventBoardRecord, string(ev.Kind), rec)
	return fresh
}

func (r *Reconciler) publish(t events.EventType, message string, rec *types.Record) {
	if r.broker == nil {
		return
	}
	ev := &events.Event{
		Type:     t,
		TenantID: r.board.TenantID,
		Kind:     string(r.board.Kind),
		Message:  message,
	}
	if rec != nil {
		ev.Metadata = map[string]string{"record_id": rec.ID, "status": string(rec.Status)}
		ev.Payload = types.DocFromRecord(rec)
	}
	r.broker.Publish(ev)
}
