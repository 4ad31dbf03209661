package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/session"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/kafka"
)

// Recorder feeds search and build events to the aggregator and, through
// the collector, to Kafka. Either may be nil.
type Recorder struct {
	collector  *Collector
	aggregator *Aggregator
}

func NewRecorder(collector *Collector, aggregator *Aggregator) *Recorder {
	return &Recorder{collector: collector, aggregator: aggregator}
}

func (r *Recorder) Aggregator() *Aggregator {
	return r.aggregator
}

func (r *Recorder) Search(event SearchEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if r.aggregator != nil {
		r.aggregator.RecordSearch(event)
	}
	if r.collector == nil {
		return
	}
	eventType := TypeSearch
	if event.TotalHits == 0 {
		eventType = TypeZeroResult
	}
	r.collector.Track(kafka.Event{Key: event.Normalized, Type: eventType, Value: event})
}

// IndexBuilt is a session.SwapFunc.
func (r *Recorder) IndexBuilt(_ context.Context, s *session.Session, report session.Report) {
	info := s.Info()
	event := IndexBuilt{
		SessionID:   info.ID,
		Listed:      report.Listed,
		Records:     info.Records,
		Fields:      info.Fields,
		Failures:    len(report.Failures),
		Saved:       report.Saved,
		Fingerprint: info.Fingerprint,
		DurationMs:  report.Duration.Milliseconds(),
		Timestamp:   time.Now().UTC(),
	}
	if r.aggregator != nil {
		r.aggregator.RecordBuild(event)
	}
	if r.collector != nil {
		r.collector.Track(kafka.Event{Key: event.SessionID, Type: TypeIndexBuilt, Value: event})
	}
}

// Rebuilder is satisfied by *session.Manager.
type Rebuilder interface {
	Rebuild(ctx context.Context) (*session.Session, session.Report, error)
}

// ReindexHandler rebuilds on every reindex request. Messages of other
// types are acknowledged and ignored; an untyped message is treated as a
// reindex request.
func ReindexHandler(rb Rebuilder) kafka.MessageHandler {
	logger := slog.Default().With("component", "reindex-consumer")
	return func(ctx context.Context, eventType string, key []byte, value []byte) error {
		if eventType != "" && eventType != TypeReindexRequested {
			logger.Debug("ignoring event", "type", eventType)
			return nil
		}
		req, err := kafka.DecodeJSON[ReindexRequest](value)
		if err != nil {
			logger.Error("dropping undecodable reindex request", "key", string(key), "error", err)
			return nil
		}
		logger.Info("reindex requested", "reason", req.Reason, "requested_by", req.RequestedBy)
		s, report, err := rb.Rebuild(ctx)
		if err != nil {
			return fmt.Errorf("rebuilding on request: %w", err)
		}
		logger.Info("reindex complete", "session_id", s.ID(), "indexed", report.Indexed)
		return nil
	}
}

// RequestReindex publishes a reindex request to sink.
func RequestReindex(ctx context.Context, sink Sink, reason, requestedBy string) error {
	return sink.Publish(ctx, kafka.Event{
		Key:  requestedBy,
		Type: TypeReindexRequested,
		Value: ReindexRequest{
			Reason:      reason,
			RequestedBy: requestedBy,
			Timestamp:   time.Now().UTC(),
		},
	})
}
