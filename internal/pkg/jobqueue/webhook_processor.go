package jobqueue

import (
	"context"

	"github.com/gofiber/fiber/v2/log"

	"github.com/MartinGrube/SoloStore/internal/pkg/apperr"
	"github.com/MartinGrube/SoloStore/internal/pkg/webhooks"
)

// WebhookProcessor turns a deliver_outbound_webhooks job into delivery rows
// via the dispatcher's fanout. Actual HTTP attempts run from the due-scan
// sweep so a slow subscriber endpoint never holds a worker slot hostage.
type WebhookProcessor struct {
	dispatcher *webhooks.Dispatcher
}

func NewWebhookProcessor(d *webhooks.Dispatcher) *WebhookProcessor {
	return &WebhookProcessor{dispatcher: d}
}

func (p *WebhookProcessor) RegisterWith(m *Manager) {
	m.Register(JobTypeDeliverWebhooks, p.Deliver)
}

func (p *WebhookProcessor) Deliver(ctx context.Context, job *ClaimedJob) error {
	var payload DeliverWebhooksPayload
	if err := UnmarshalPayload(job, &payload); err != nil {
		return apperr.Wrap(apperr.KindTerminal, "bad deliver_outbound_webhooks payload", err)
	}

	created, err := p.dispatcher.Fanout(ctx, payload.EventID, payload.EventType, payload.DataJSON)
	if err != nil {
		return err
	}
	if created > 0 {
		log.Infof("[Jobs] Fanned out event %s (%s) to %d subscriptions", payload.EventID, payload.EventType, created)
	}
	return nil
}

// RunDueSweep drains deliveries whose next attempt is due. Registered as a
// manager sweep.
func (p *WebhookProcessor) RunDueSweep(ctx context.Context) error {
	return p.dispatcher.RunDue(ctx, 25)
}
