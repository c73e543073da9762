// Package topic is the Topic Detector (C5): EWMA-adaptive cosine-distance
// shift detection with per-session state and cold-start seeding from
// persisted history.
//
// No direct teacher analogue exists for this concern (BeadsLog has no
// topic-shift concept); it is grounded instead on the teacher's small,
// single-purpose, defensively-clamped numeric-function style seen in
// internal/storage/sqlite/ids.go's adaptive-length scheme.
package topic

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/laminark/laminark/internal/logging"
	"github.com/laminark/laminark/internal/storage/sqlite"
	"github.com/laminark/laminark/internal/types"
)

// Defaults per spec.md §4.5.
const (
	DefaultTau0  = 0.3
	DefaultAlpha = 0.3
	ThresholdMin = 0.15
	ThresholdMax = 0.6
)

// Config tunes the detector, mirroring spec.md §6's topicDetection block.
type Config struct {
	Enabled         bool
	Multiplier      float64 // k in τ' = clip(μ' + k·σ', bounds)
	ManualThreshold *float64
	EWMAAlpha       float64
	ThresholdMin    float64
	ThresholdMax    float64
}

func (c Config) resolved() Config {
	if c.EWMAAlpha <= 0 {
		c.EWMAAlpha = DefaultAlpha
	}
	if c.ThresholdMin <= 0 {
		c.ThresholdMin = ThresholdMin
	}
	if c.ThresholdMax <= 0 {
		c.ThresholdMax = ThresholdMax
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 1.5
	}
	return c
}

// sessionState is the EWMA state for one session.
type sessionState struct {
	mean          float64
	variance      float64
	count         int
	lastEmbedding []float32
	lastStamp     time.Time
	threadStart   int // index (in observation order) of the last shift boundary
}

// Summarizer produces a topic label and summary for a set of observations,
// the stash-labeler/summarizer external callable of spec.md §6.
type Summarizer func(ctx context.Context, observations []types.Observation) (label, summary string, err error)

// Detector is the Topic Detector, one instance shared across sessions for
// a store.
type Detector struct {
	store      *sqlite.Store
	cfg        Config
	summarizer Summarizer
	log        logging.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
	// thread holds, per session, the observations seen since the last
	// shift boundary (or session start) — the "candidate stash event".
	thread map[string][]types.Observation
}

// New constructs a Detector.
func New(store *sqlite.Store, cfg Config, summarizer Summarizer, log logging.Logger) *Detector {
	if log == nil {
		log = logging.Nop{}
	}
	return &Detector{
		store:      store,
		cfg:        cfg.resolved(),
		summarizer: summarizer,
		log:        log,
		sessions:   map[string]*sessionState{},
		thread:     map[string][]types.Observation{},
	}
}

// CosineDistance computes d(u,v) = 1 - cos(u,v), clamped so similarity is
// in [-1,1] first. Zero vectors yield d=0 (no NaN propagation), per
// spec.md §4.5 and the testable property in §8.7.
func CosineDistance(u, v []float32) float64 {
	if len(u) == 0 || len(v) == 0 || len(u) != len(v) {
		return 0
	}
	var dot, nu, nv float64
	for i := range u {
		dot += float64(u[i]) * float64(v[i])
		nu += float64(u[i]) * float64(u[i])
		nv += float64(v[i]) * float64(v[i])
	}
	if nu == 0 || nv == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(nu) * math.Sqrt(nv))
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return 1 - sim
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func (d *Detector) stateFor(ctx context.Context, projectHash, sessionID string) *sessionState {
	if st, ok := d.sessions[sessionID]; ok {
		return st
	}
	mean, variance := DefaultTau0, 0.0
	if hist, err := d.store.TopicState().LastNThresholds(ctx, projectHash, 10); err == nil && len(hist) > 0 {
		var sumMean, sumVar float64
		for _, h := range hist {
			sumMean += h.MeanDistance
			sumVar += h.Variance
		}
		mean = sumMean / float64(len(hist))
		variance = sumVar / float64(len(hist))
	}
	st := &sessionState{mean: mean, variance: variance}
	d.sessions[sessionID] = st
	return st
}

// Decision is the outcome of one OnEmbedding call.
type Decision struct {
	Shifted            bool
	Distance           float64
	Threshold          float64
	Confidence         float64
	ThreadObservations []types.Observation // populated only when Shifted
}

// OnEmbedding is invoked by the Embedding Pipeline for each newly embedded
// observation (spec.md §4.3 step 3 / §4.5). It never returns an error: any
// internal failure is caught, logged, and treated as "no shift" so the
// pipeline continues (spec.md §4.5 "Never-fatal").
func (d *Detector) OnEmbedding(ctx context.Context, projectHash, sessionID string, obs types.Observation) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("topic detector panicked, treating as no-shift", "panic", fmt.Sprint(r))
			decision = Decision{}
		}
	}()

	if !d.cfg.Enabled {
		return Decision{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.stateFor(ctx, projectHash, sessionID)
	d.thread[sessionID] = append(d.thread[sessionID], obs)

	if st.lastEmbedding == nil {
		st.lastEmbedding = obs.Embedding
		st.lastStamp = obs.CreatedAt
		st.count++
		return Decision{}
	}

	dist := CosineDistance(st.lastEmbedding, obs.Embedding)
	st.lastEmbedding = obs.Embedding
	st.lastStamp = obs.CreatedAt

	threshold := d.threshold(st)
	shifted := dist > threshold
	confidence := 0.0
	if threshold > 0 {
		confidence = math.Min((dist-threshold)/threshold, 1)
		if confidence < 0 {
			confidence = 0
		}
	}

	alpha := d.cfg.EWMAAlpha
	newMean := alpha*dist + (1-alpha)*st.mean
	newVar := alpha*(dist-newMean)*(dist-newMean) + (1-alpha)*st.variance
	st.mean, st.variance = newMean, newVar
	st.count++

	decisionRow := types.ShiftDecision{
		ProjectHash: projectHash, SessionID: sessionID,
		Distance: dist, Threshold: threshold, Shifted: shifted, Confidence: confidence,
		EWMAState: fmt.Sprintf("mean=%.6f variance=%.6f count=%d", st.mean, st.variance, st.count),
	}
	if err := d.store.TopicState().RecordDecision(ctx, decisionRow); err != nil {
		d.log.Warn("failed to record shift decision", "error", err)
	}

	if !shifted {
		return Decision{Distance: dist, Threshold: threshold, Confidence: confidence}
	}

	threadObs := d.thread[sessionID]
	d.thread[sessionID] = []types.Observation{obs}

	return Decision{
		Shifted: true, Distance: dist, Threshold: threshold, Confidence: confidence,
		ThreadObservations: threadObs,
	}
}

// threshold computes τ' honoring a manual override (which preempts
// computed state entirely), per spec.md §4.5.
func (d *Detector) threshold(st *sessionState) float64 {
	if d.cfg.ManualThreshold != nil {
		return *d.cfg.ManualThreshold
	}
	sigma := math.Sqrt(st.variance)
	return clip(st.mean+d.cfg.Multiplier*sigma, d.cfg.ThresholdMin, d.cfg.ThresholdMax)
}

// EndSession persists the session's final (mean, variance) for future
// cold-start seeding, per spec.md §4.5.
func (d *Detector) EndSession(ctx context.Context, projectHash, sessionID string) error {
	d.mu.Lock()
	st, ok := d.sessions[sessionID]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return d.store.TopicState().RecordThreshold(ctx, projectHash, sessionID, st.mean, st.variance)
}

// Summarize invokes the stash-labeler/summarizer callable for a set of
// observations, returning a safe fallback label/summary if the callable is
// unavailable or fails, per spec.md §4.3's "must never stall" rule for
// external callables.
func (d *Detector) Summarize(ctx context.Context, observations []types.Observation) (label, summary string) {
	if d.summarizer == nil || len(observations) == 0 {
		return "untitled topic", ""
	}
	label, summary, err := d.summarizer(ctx, observations)
	if err != nil {
		d.log.Warn("stash summarizer failed, using fallback label", "error", err)
		return observations[0].Title, ""
	}
	return label, summary
}
