package job

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"coordinator/internal/config"
	"coordinator/internal/dispatcher"
	"coordinator/pkg/cloudevent"
)

// EventType is one of the five lifecycle transitions a pipeline run can
// publish (spec §4.4).
type EventType string

const (
	EventJobStarted    EventType = "JOB_STARTED"
	EventStepCompleted EventType = "STEP_COMPLETED"
	EventJobCompleted  EventType = "JOB_COMPLETED"
	EventJobFailed     EventType = "JOB_FAILED"
	EventJobStopped    EventType = "JOB_STOPPED"
)

// LifecycleEvent carries the envelope fields named in spec §4.4.
type LifecycleEvent struct {
	EventType       EventType
	Timestamp       time.Time
	ExecutionID     int64
	JobName         string
	Status          string
	ExitCode        string
	ExitDescription string
	StartTime       *time.Time
	EndTime         *time.Time
	TriggerID       string
	StepCount       int
	ReadCount       int64
	WriteCount      int64
	SkipCount       int64

	// Step events only.
	StepName string
	Progress int
}

func (e *LifecycleEvent) data() map[string]any {
	d := map[string]any{
		"eventType":       string(e.EventType),
		"timestamp":       e.Timestamp.UTC().Format(time.RFC3339),
		"executionId":     e.ExecutionID,
		"jobName":         e.JobName,
		"status":          e.Status,
		"exitCode":        e.ExitCode,
		"exitDescription": e.ExitDescription,
		"triggerId":       e.TriggerID,
		"stepCount":       e.StepCount,
		"readCount":       e.ReadCount,
		"writeCount":      e.WriteCount,
		"skipCount":       e.SkipCount,
	}
	if e.StartTime != nil {
		d["startTime"] = e.StartTime.UTC().Format(time.RFC3339)
	}
	if e.EndTime != nil {
		d["endTime"] = e.EndTime.UTC().Format(time.RFC3339)
	}
	if e.EventType == EventStepCompleted {
		d["stepName"] = e.StepName
		d["progress"] = e.Progress
	}
	return d
}

// EventPublisher is the C2 Event Publisher: it turns a LifecycleEvent into a
// CloudEvent envelope and hands it to the dispatcher for fire-and-forget
// delivery. Publication failures are logged, never propagated to the
// pipeline runtime (spec §4.4 "Delivery").
type EventPublisher struct {
	dispatcher dispatcher.Dispatcher
	channels   config.ChannelConfig
	source     string
	signingKey string
	logger     *slog.Logger
}

// NewEventPublisher creates an EventPublisher over an existing dispatcher.
func NewEventPublisher(d dispatcher.Dispatcher, channels config.ChannelConfig, source, signingKey string) *EventPublisher {
	return &EventPublisher{
		dispatcher: d,
		channels:   channels,
		source:     source,
		signingKey: signingKey,
		logger:     slog.With("component", "event_publisher"),
	}
}

// Publish resolves the event's logical channel to a destination URL, wraps
// it in a CloudEvent envelope, and dispatches it asynchronously.
func (p *EventPublisher) Publish(ctx context.Context, evt *LifecycleEvent) {
	destination := p.channelFor(evt.EventType)
	ce := cloudevent.New(string(evt.EventType), p.source, subjectFor(evt.ExecutionID), uuid.NewString(), evt.data())

	if err := p.dispatcher.Dispatch(&dispatcher.Event{
		Payload:     ce,
		Destination: destination,
		SigningKey:  p.signingKey,
	}); err != nil {
		p.logger.WarnContext(ctx, "event publish failed",
			"channel", destination, "type", evt.EventType, "executionId", evt.ExecutionID, "error", err)
	}
}

func (p *EventPublisher) channelFor(t EventType) string {
	switch t {
	case EventJobStarted:
		return p.channels.Started
	case EventStepCompleted:
		return p.channels.Progress
	case EventJobCompleted:
		return p.channels.Completed
	case EventJobFailed, EventJobStopped:
		return p.channels.Failed
	default:
		return p.channels.Failed
	}
}

func subjectFor(executionID int64) string {
	return "execution/" + strconv.FormatInt(executionID, 10)
}
