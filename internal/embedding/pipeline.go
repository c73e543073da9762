package embedding

import (
	"context"
	"time"

	"github.com/laminark/laminark/internal/logging"
	"github.com/laminark/laminark/internal/storage/sqlite"
)

// TopicHook is invoked after an embedding commits, mirroring spec.md
// §4.3 step 3 ("Invoke Topic Detector with (session_id, vector,
// created_at)"). Implemented by internal/topic.Detector.OnEmbedding.
type TopicHook func(ctx context.Context, projectHash, sessionID string, observationID string, vector []float32, createdAt time.Time)

// GraphHook is invoked after the topic hook, mirroring spec.md §4.3 step 4
// (graph extraction, an external callable). Errors are logged and must
// never stall the queue or crash the worker.
type GraphHook func(ctx context.Context, projectHash, observationID, content string) error

// Pipeline is the single dedicated background worker draining the
// not-yet-embedded observation queue, grounded on
// cmd/bd/devlog_enrichment.go's ProcessEnrichmentQueue (one row at a time)
// and cmd/bd/daemon_event_loop.go's dedicated-goroutine-plus-sleep-poll
// idiom.
type Pipeline struct {
	store     *sqlite.Store
	strategy  Strategy
	topicHook TopicHook
	graphHook GraphHook
	log       logging.Logger

	pollInterval time.Duration
	stop         chan struct{}
	done         chan struct{}
}

// New constructs a Pipeline. strategy may be nil/unavailable, in which case
// the worker idles (keyword-only degradation).
func New(store *sqlite.Store, strategy Strategy, topicHook TopicHook, graphHook GraphHook, log logging.Logger) *Pipeline {
	if log == nil {
		log = logging.Nop{}
	}
	return &Pipeline{
		store:        store,
		strategy:     strategy,
		topicHook:    topicHook,
		graphHook:    graphHook,
		log:          log,
		pollInterval: 5 * time.Second,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the dedicated worker goroutine. It never runs on the
// caller's thread (spec.md §4.3, §5). Lazy init: the strategy's first real
// call happens the first time a pending observation is actually pulled, not
// at Start — process start latency stays perceptually zero.
func (p *Pipeline) Start(ctx context.Context) {
	go p.run(ctx)
}

// Stop signals the worker to drain its in-flight item and exit, then
// blocks until it has. Pending queue items remain in the database
// (implicit: observations with a null embedding_model) and resume on the
// next Start.
func (p *Pipeline) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainOnce(ctx)
		}
	}
}

// drainBatchSize bounds how many pending ids drainOnce considers per pass,
// large enough that a handful of permanently un-embeddable rows (e.g. the
// strategy is unavailable) don't starve the rest of the queue within a pass.
const drainBatchSize = 50

// drainOnce pulls and processes pending observations until the queue is
// empty, the worker is asked to stop, or a full pass makes no progress.
// Ids that fail within a pass (strategy unavailable, embed error, fetch
// error) are remembered for the rest of the pass so the inner loop doesn't
// keep re-fetching the same un-embeddable row; bailing out once a pass is
// exhausted leaves retry cadence to the next ticker tick instead of
// spinning hot against a row that cannot currently be embedded.
func (p *Pipeline) drainOnce(ctx context.Context) {
	skipped := make(map[string]bool)
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		ids, err := p.store.Observations().PendingEmbedding(ctx, drainBatchSize)
		if err != nil {
			p.log.Error("failed to poll pending embeddings", "error", err)
			return
		}
		if len(ids) == 0 {
			return
		}

		progressed := false
		for _, id := range ids {
			select {
			case <-p.stop:
				return
			default:
			}
			if skipped[id] {
				continue
			}
			if p.processOne(ctx, id) {
				progressed = true
			} else {
				skipped[id] = true
			}
		}
		if !progressed {
			return
		}
	}
}

// processOne embeds a single observation, reporting whether it made
// progress (embedded and persisted). A false result means the row is
// currently un-embeddable (missing, strategy unavailable, embed/persist
// failure) and drainOnce should not retry it within this pass.
func (p *Pipeline) processOne(ctx context.Context, id string) bool {
	// Observation lookup by id alone (cross-project) is intentionally not
	// exposed by the repository (project scoping is mandatory per call), so
	// the worker resolves project scope via a dedicated unscoped fetch.
	row, ph, sessionID, content, createdAt, err := p.fetchUnscoped(ctx, id)
	if err != nil {
		p.log.Error("failed to fetch observation for embedding", "id", id, "error", err)
		return false
	}
	if row == "" {
		return false
	}

	if p.strategy == nil || !p.strategy.Available(ctx) {
		return false
	}

	vector, model, version, err := p.strategy.Embed(ctx, content)
	if err != nil || vector == nil {
		if err != nil {
			p.log.Warn("embedding strategy failed", "id", id, "error", err)
		}
		return false
	}

	if err := p.store.Observations().SetEmbedding(ctx, id, vector, model, version); err != nil {
		p.log.Error("failed to persist embedding", "id", id, "error", err)
		return false
	}

	if p.topicHook != nil {
		p.topicHook(ctx, ph, sessionID, id, vector, createdAt)
	}

	if p.graphHook != nil {
		if err := p.graphHook(ctx, ph, id, content); err != nil {
			p.log.Warn("graph extraction failed, continuing", "id", id, "error", err)
		}
	}

	return true
}

// fetchUnscoped resolves an observation's project/session/content/created_at
// without requiring the caller to already know its project_hash, since the
// background worker discovers ids purely by rowid order.
func (p *Pipeline) fetchUnscoped(ctx context.Context, id string) (gotID, projectHash, sessionID, content string, createdAt time.Time, err error) {
	row := p.store.UnderlyingDB().QueryRowContext(ctx,
		`SELECT id, project_hash, COALESCE(session_id, ''), content, created_at FROM observations WHERE id = ?`, id)
	var sess, ts string
	scanErr := row.Scan(&gotID, &projectHash, &sess, &content, &ts)
	if scanErr != nil {
		return "", "", "", "", time.Time{}, scanErr
	}
	sessionID = sess
	createdAt, _ = time.Parse(time.RFC3339Nano, ts)
	return gotID, projectHash, sessionID, content, createdAt, nil
}
