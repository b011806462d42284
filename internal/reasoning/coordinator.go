package reasoning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"go.uber.org/zap"
)

// Event types broadcast during a reasoning run.
const (
	EventStreamStarted      = "stream_started"
	EventStreamProgress     = "stream_progress"
	EventStreamInsight      = "stream_insight"
	EventStreamCompleted    = "stream_completed"
	EventSyncCheckpoint     = "sync_checkpoint"
	EventSynthesisStarted   = "synthesis_started"
	EventSynthesisCompleted = "synthesis_completed"
	EventSessionCompleted   = "session_completed"
	EventSessionError       = "session_error"
	EventHeartbeat          = "heartbeat"
)

// EventFunc receives run events for broadcast. May be nil.
type EventFunc func(event string, data map[string]any)

var checkpointFractions = []float64{0.25, 0.5, 0.75}

// Coordinator runs a set of reasoning streams concurrently under a shared
// deadline, synchronizing at 25/50/75% checkpoints, then synthesizes their
// outputs and resolves conflicts.
type Coordinator struct {
	synthesizer *Synthesizer
	conflicts   *ConflictEngine
	logger      *zap.Logger

	now func() time.Time
}

func NewCoordinator(synthesizer *Synthesizer, conflicts *ConflictEngine, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		synthesizer: synthesizer,
		conflicts:   conflicts,
		logger:      logger,
		now:         time.Now,
	}
}

func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

type progressMsg struct {
	idx      int
	fraction float64
}

type doneMsg struct {
	idx    int
	result *domain.StreamResult
	err    error
}

// ExecuteStreams runs one stream per requested type. A stream that exceeds
// the deadline is marked timed out, a stream that errors is marked failed;
// neither aborts the others. The returned result always carries every
// stream's final (possibly partial) output.
func (c *Coordinator) ExecuteStreams(ctx context.Context, problem *domain.ReasoningProblem, types []domain.StreamType, timeout time.Duration, onEvent EventFunc) (*domain.SynthesizedResult, error) {
	if len(types) == 0 {
		return nil, fmt.Errorf("no streams requested")
	}
	emit := func(event string, data map[string]any) {
		if onEvent != nil {
			onEvent(event, data)
		}
	}

	start := c.now()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	board := NewInsightBoard()
	streams := make([]Stream, len(types))
	for i, t := range types {
		s, err := NewStream(t, board)
		if err != nil {
			return nil, err
		}
		streams[i] = s
	}

	progCh := make(chan progressMsg, len(streams)*16)
	doneCh := make(chan doneMsg, len(streams))

	for i, s := range streams {
		i, s := i, s
		emit(EventStreamStarted, map[string]any{"stream": string(s.Type())})
		go func() {
			defer func() {
				if r := recover(); r != nil {
					doneCh <- doneMsg{idx: i, err: fmt.Errorf("stream panic: %v", r)}
				}
			}()
			result, err := s.Execute(runCtx, problem, func(fraction float64, insight *domain.Insight) {
				if insight != nil {
					board.Publish(*insight)
					emit(EventStreamInsight, map[string]any{
						"stream":  string(s.Type()),
						"insight": insight.Content,
					})
				}
				emit(EventStreamProgress, map[string]any{
					"stream":   string(s.Type()),
					"progress": fraction,
				})
				select {
				case progCh <- progressMsg{idx: i, fraction: fraction}:
				default:
				}
			})
			doneCh <- doneMsg{idx: i, result: result, err: err}
		}()
	}

	results, metrics := c.superviseStreams(runCtx, streams, timeout, start, progCh, doneCh, emit)

	emit(EventSynthesisStarted, map[string]any{"streams": len(results)})
	conflicts := c.conflicts.DetectConflicts(results)
	synthesis := c.synthesizer.Synthesize(problem, results, conflicts)

	totalTime := c.now().Sub(start)
	metrics.TotalCoordinationTime = metrics.Sync25 + metrics.Sync50 + metrics.Sync75
	if totalTime > 0 {
		metrics.OverheadPercentage = 100 * float64(metrics.TotalCoordinationTime) / float64(totalTime)
	}
	synthesis.Coordination = metrics

	emit(EventSynthesisCompleted, map[string]any{
		"confidence": synthesis.Confidence,
		"conflicts":  len(synthesis.Conflicts),
	})

	c.logger.Info("reasoning run complete",
		zap.Int("streams", len(streams)),
		zap.Int("conflicts", len(conflicts)),
		zap.Float64("confidence", synthesis.Confidence),
		zap.Duration("took", totalTime))
	return synthesis, nil
}

// superviseStreams drives the checkpoint barriers and collects final stream
// results. Checkpoint N waits until every stream has reported past the
// fraction or finished, bounded by timeout * fraction from run start.
func (c *Coordinator) superviseStreams(ctx context.Context, streams []Stream, timeout time.Duration, start time.Time, progCh <-chan progressMsg, doneCh <-chan doneMsg, emit EventFunc) ([]domain.StreamResult, domain.CoordinationMetrics) {
	n := len(streams)
	fractions := make([]float64, n)
	finished := make([]bool, n)
	results := make([]domain.StreamResult, n)
	var metrics domain.CoordinationMetrics

	finishedCount := 0
	handleDone := func(msg doneMsg) {
		if finished[msg.idx] {
			return
		}
		finished[msg.idx] = true
		finishedCount++
		fractions[msg.idx] = 1
		results[msg.idx] = c.finalizeResult(streams[msg.idx], msg)
		emit(EventStreamCompleted, map[string]any{
			"stream": string(streams[msg.idx].Type()),
			"status": string(results[msg.idx].Status),
		})
	}

	checkpointIdx := 0
	var barrierStart time.Time

	pastCheckpoint := func(f float64) bool {
		for i := 0; i < n; i++ {
			if !finished[i] && fractions[i] < f {
				return false
			}
		}
		return true
	}

	recordCheckpoint := func(f float64, waited time.Duration) {
		switch f {
		case 0.25:
			metrics.Sync25 = waited
		case 0.5:
			metrics.Sync50 = waited
		case 0.75:
			metrics.Sync75 = waited
		}
		emit(EventSyncCheckpoint, map[string]any{
			"checkpoint": int(f * 100),
			"waited_ms":  waited.Milliseconds(),
		})
	}

	for finishedCount < n {
		var barrierTimer *time.Timer
		var barrierC <-chan time.Time
		if checkpointIdx < len(checkpointFractions) {
			f := checkpointFractions[checkpointIdx]
			if barrierStart.IsZero() {
				barrierStart = c.now()
			}
			if pastCheckpoint(f) {
				recordCheckpoint(f, c.now().Sub(barrierStart))
				checkpointIdx++
				barrierStart = time.Time{}
				continue
			}
			deadline := start.Add(time.Duration(float64(timeout) * f))
			barrierTimer = time.NewTimer(time.Until(deadline))
			barrierC = barrierTimer.C
		}

		select {
		case msg := <-progCh:
			if msg.fraction > fractions[msg.idx] {
				fractions[msg.idx] = msg.fraction
			}
		case msg := <-doneCh:
			handleDone(msg)
		case <-barrierC:
			// Deadline passed: record the laggards as past-checkpoint for
			// ordering and move on. Their partial output still counts.
			f := checkpointFractions[checkpointIdx]
			for i := 0; i < n; i++ {
				if fractions[i] < f {
					fractions[i] = f
				}
			}
			recordCheckpoint(f, c.now().Sub(barrierStart))
			checkpointIdx++
			barrierStart = time.Time{}
		}
		if barrierTimer != nil {
			barrierTimer.Stop()
		}
	}

	return results, metrics
}

// finalizeResult normalizes a stream's terminal state. Timeouts and
// cancellations keep whatever partial output the stream recorded.
func (c *Coordinator) finalizeResult(s Stream, msg doneMsg) domain.StreamResult {
	result := msg.result
	if result == nil {
		result = &domain.StreamResult{
			StreamID:   newStreamID(s.Type()),
			StreamType: s.Type(),
		}
	}
	if msg.err != nil {
		switch {
		case errors.Is(msg.err, context.DeadlineExceeded):
			result.Status = domain.StreamTimedOut
		case errors.Is(msg.err, context.Canceled):
			result.Status = domain.StreamCancelled
		default:
			result.Status = domain.StreamFailed
		}
		result.Error = msg.err.Error()
		c.logger.Warn("reasoning stream did not complete",
			zap.String("stream", string(s.Type())),
			zap.String("status", string(result.Status)),
			zap.Error(msg.err))
	}
	return *result
}
