package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"metricline/internal/domain"
	"metricline/internal/metrics"
)

// Handlers maps every subscribed topic to a decode-and-record handler bound
// to svc.
func Handlers(svc *metrics.Service) map[string]Handler {
	return map[string]Handler{
		domain.TopicDecisionResolved:  handlerFor(svc.RecordDecisionResolved),
		domain.TopicOutcomeValidated:  handlerFor(svc.RecordOutcomeValidated),
		domain.TopicOutcomeInvalid:    handlerFor(svc.RecordOutcomeInvalidated),
		domain.TopicHypothesisDone:    handlerFor(svc.RecordHypothesisConcluded),
		domain.TopicProgramCreated:    handlerFor(svc.RecordProgramCreated),
		domain.TopicProgramStatus:     handlerFor(svc.RecordProgramStatusChanged),
		domain.TopicWorkstreamCreated: handlerFor(svc.RecordWorkstreamCreated),
		domain.TopicWorkstreamStatus:  handlerFor(svc.RecordWorkstreamStatusChanged),
		domain.TopicSpecCreated:       handlerFor(svc.RecordSpecificationCreated),
		domain.TopicSpecStatus:        handlerFor(svc.RecordSpecificationStatusChanged),
		domain.TopicSpecApproved:      handlerFor(svc.RecordSpecificationApproved),
		domain.TopicTicketCreated:     handlerFor(svc.RecordTicketCreated),
		domain.TopicTicketResolved:    handlerFor(svc.RecordTicketResolved),
		domain.TopicTicketAssigned:    handlerFor(svc.RecordTicketAssigned),
	}
}

func handlerFor[T any](record func(context.Context, T) error) Handler {
	return func(ctx context.Context, m Message) error {
		var ev T
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			return fmt.Errorf("%w: %v", errMalformed, err)
		}
		return record(ctx, ev)
	}
}
