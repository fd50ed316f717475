package ingest

import (
	"errors"

	"github.com/jonboulle/clockwork"

	"github.com/esphive/esphive-core/internal/dispatch"
	"github.com/esphive/esphive-core/internal/infrastructure/logging"
	"github.com/esphive/esphive-core/internal/persist"
	"github.com/esphive/esphive-core/internal/recording"
	"github.com/esphive/esphive-core/internal/routing"
	"github.com/esphive/esphive-core/internal/telemetry"
)

// Enqueuer accepts persistence work. Satisfied by persist.Queue.
type Enqueuer interface {
	Enqueue(item persist.Item) error
}

// Processor is the stream sink: one per process, shared by every
// endpoint client.
//
// Thread Safety:
//   - All handler methods are safe for concurrent use; multiple stream
//     clients deliver into the same Processor.
type Processor struct {
	holder *routing.Holder
	disp   *dispatch.Dispatcher
	policy *recording.Policy
	queue  Enqueuer
	clock  clockwork.Clock
	logger *logging.Logger
}

// NewProcessor wires the ingestion pipeline together.
func NewProcessor(
	holder *routing.Holder,
	disp *dispatch.Dispatcher,
	policy *recording.Policy,
	queue Enqueuer,
	clock clockwork.Clock,
	logger *logging.Logger,
) *Processor {
	return &Processor{
		holder: holder,
		disp:   disp,
		policy: policy,
		queue:  queue,
		clock:  clock,
		logger: logger.With("component", "ingest"),
	}
}

// HandleEvent processes one decoded event: coerce, route, publish,
// and persist what the recording policy lets through. Events with an
// unknown source key are dropped.
func (p *Processor) HandleEvent(endpoint string, ev telemetry.Event) {
	value := telemetry.Coerce(ev.Value)

	route, ok := p.holder.Current().Resolve(ev.ID)
	if !ok {
		p.logger.Debug("dropping unroutable event", "source", ev.ID, "endpoint", endpoint)
		return
	}

	reading := telemetry.Reading{
		SourceID:    route.SourceKey,
		Value:       value,
		UnixSeconds: ev.ReceivedAt,
	}

	p.disp.Publish(endpoint, route, reading, ev)

	if p.policy.Evaluate(route, value, ev.Explicit()) {
		p.enqueue(persist.ValueItem{
			RowName:     route.SourceKey,
			DisplayName: route.DeviceName + " " + route.StatusName,
			Unit:        route.Unit,
			Value:       value,
			UnixSeconds: ev.ReceivedAt,
		})
	}

	if route.Group != nil {
		p.recordGroup(route.Group)
	}
}

// recordGroup persists the group aggregate when its throttle window
// has elapsed. The sum is recomputed from the dispatcher's cache and
// stamped with the local clock, since an aggregate has no single wire
// timestamp.
func (p *Processor) recordGroup(group *routing.Group) {
	if !p.policy.EvaluateGroup(group.ID, group.RecordThrottle) {
		return
	}

	p.enqueue(persist.ValueItem{
		RowName:     group.ID,
		DisplayName: group.Title,
		Unit:        group.Unit,
		Value:       p.disp.GroupSum(group.ID),
		UnixSeconds: p.clock.Now().Unix(),
		IsGroup:     true,
	})
}

// HandleRawLine forwards the line to raw-text subscribers.
func (p *Processor) HandleRawLine(endpoint string, line string) {
	p.disp.PublishRawText(endpoint, line)
}

// HandleError forwards the error to subscribers and records it in the
// errors table.
func (p *Processor) HandleError(endpoint string, err error) {
	p.disp.PublishError(endpoint, err)

	p.enqueue(persist.ErrorItem{
		Timestamp: p.clock.Now().Format(persist.TimestampLayout),
		Source:    endpoint,
		Message:   err.Error(),
	})
}

func (p *Processor) enqueue(item persist.Item) {
	if err := p.queue.Enqueue(item); err != nil && !errors.Is(err, persist.ErrQueueClosed) {
		p.logger.Error("enqueue failed", "error", err)
	}
}
