package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AnalysisEvent describes a step in a session's analysis lifecycle
type AnalysisEvent struct {
	EventType    EventType              `json:"event_type"`
	Timestamp    time.Time              `json:"timestamp"`
	SessionID    string                 `json:"session_id"`
	RequestID    string                 `json:"request_id,omitempty"`
	Status       string                 `json:"status"`
	Progress     int                    `json:"progress"`
	Duration     time.Duration          `json:"duration,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of analysis event
type EventType string

const (
	// AnalysisStarted when a submission begins uploading
	AnalysisStarted EventType = "analysis_started"
	// ImageUploaded when the request body has been fully sent
	ImageUploaded EventType = "image_uploaded"
	// AnalysisProgress on every simulated progress tick
	AnalysisProgress EventType = "analysis_progress"
	// AnalysisSucceeded when the backend answered with a result
	AnalysisSucceeded EventType = "analysis_succeeded"
	// AnalysisFailed when the submission failed
	AnalysisFailed EventType = "analysis_failed"
	// AnalysisReset when the workflow was cleared
	AnalysisReset EventType = "analysis_reset"
	// ResponseDiscarded when a response arrived for a request that was reset
	ResponseDiscarded EventType = "response_discarded"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event AnalysisEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event AnalysisEvent)
}

// LoggingObserver logs analysis events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) *LoggingObserver {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles analysis events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event AnalysisEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"session_id": event.SessionID,
		"request_id": event.RequestID,
		"status":     event.Status,
		"progress":   event.Progress,
	}

	if event.Duration > 0 {
		fields["duration"] = event.Duration
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case AnalysisStarted:
		entry.Info("Image analysis started")
	case AnalysisSucceeded:
		entry.Info("Image analysis succeeded")
	case AnalysisFailed:
		entry.Error("Image analysis failed")
	case ResponseDiscarded:
		entry.Warn("Discarded response for superseded analysis request")
	case AnalysisProgress, ImageUploaded:
		entry.Debug("Image analysis progress")
	default:
		entry.Info("Analysis event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver collects metrics from analysis events
type MetricsObserver struct {
	mu                 sync.RWMutex
	totalAnalyses      int64
	successfulAnalyses int64
	failedAnalyses     int64
	resets             int64
	discardedResponses int64
	totalDuration      time.Duration
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

// OnEvent handles analysis events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event AnalysisEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case AnalysisStarted:
		o.totalAnalyses++
	case AnalysisSucceeded:
		o.successfulAnalyses++
		o.totalDuration += event.Duration
	case AnalysisFailed:
		o.failedAnalyses++
	case AnalysisReset:
		o.resets++
	case ResponseDiscarded:
		o.discardedResponses++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avgDuration := time.Duration(0)
	if o.successfulAnalyses > 0 {
		avgDuration = o.totalDuration / time.Duration(o.successfulAnalyses)
	}

	return map[string]interface{}{
		"total_analyses":      o.totalAnalyses,
		"successful_analyses": o.successfulAnalyses,
		"failed_analyses":     o.failedAnalyses,
		"resets":              o.resets,
		"discarded_responses": o.discardedResponses,
		"avg_duration_ms":     avgDuration.Milliseconds(),
	}
}

// EventPublisher implements the Subject interface. Observers are notified
// synchronously and in subscription order, so a single session's events are
// seen in the order they were published.
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers notifies all observers of an event. Observers must not block.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event AnalysisEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		notify(ctx, observer, event)
	}
}

func notify(ctx context.Context, obs Observer, event AnalysisEvent) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("observer", obs.GetObserverName()).
				WithField("panic", r).
				Error("Observer panicked while handling event")
		}
	}()
	obs.OnEvent(ctx, event)
}
