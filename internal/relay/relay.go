package relay

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dgnsrekt/trafficlab/internal/orchestrator"
	"github.com/dgnsrekt/trafficlab/internal/types"
)

const (
	EventCycleStarted  = "cycle_started"
	EventItemFinished  = "item_finished"
	EventCycleFinished = "cycle_finished"
)

type envelope struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

type itemPayload struct {
	CycleIndex int              `json:"cycle_index"`
	Item       types.ItemRecord `json:"item"`
}

// Publisher turns orchestrator progress into broker events.
type Publisher struct {
	broker *Broker
	logger *slog.Logger
	now    func() time.Time
}

func NewPublisher(broker *Broker, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{broker: broker, logger: logger, now: time.Now}
}

func (p *Publisher) CycleStarted(ev orchestrator.CycleEvent) {
	p.publish(EventCycleStarted, ev)
}

func (p *Publisher) ItemFinished(cycle int, rec types.ItemRecord) {
	p.publish(EventItemFinished, itemPayload{CycleIndex: cycle, Item: rec})
}

// CycleFinished publishes the result without its per-item list, which clients
// already received as item_finished events.
func (p *Publisher) CycleFinished(r types.CycleResult) {
	r.Items = nil
	p.publish(EventCycleFinished, r)
}

func (p *Publisher) publish(typ string, data any) {
	payload, err := json.Marshal(envelope{Type: typ, Time: p.now().UTC(), Data: data})
	if err != nil {
		p.logger.Error("relay: marshal event failed", "type", typ, "error", err)
		return
	}
	p.broker.Publish(Event{Type: typ, Payload: payload})
}

var _ orchestrator.Observer = (*Publisher)(nil)
