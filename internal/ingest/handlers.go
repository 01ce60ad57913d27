package ingest

import (
	"context"

	"position-ledger/internal/processor"
)

// Handler decodes one stream entry payload and runs the matching use case.
type Handler func(ctx context.Context, payload []byte) processor.Result

// CreatedHandler feeds created events into ProcessCreated.
func CreatedHandler(pr *processor.Processor) Handler {
	return func(ctx context.Context, payload []byte) processor.Result {
		tx, occurredAt, err := decodeTransactionEvent(payload)
		if err != nil {
			return processor.Failure(processor.KindInvalidInput, err.Error(), err)
		}
		return pr.ProcessCreated(ctx, processor.CreatedCommand{Transaction: tx, OccurredAt: occurredAt})
	}
}

// UpdatedHandler feeds updated events into ProcessUpdated.
func UpdatedHandler(pr *processor.Processor) Handler {
	return func(ctx context.Context, payload []byte) processor.Result {
		prev, next, occurredAt, err := decodeUpdatedEvent(payload)
		if err != nil {
			return processor.Failure(processor.KindInvalidInput, err.Error(), err)
		}
		return pr.ProcessUpdated(ctx, processor.UpdatedCommand{Previous: prev, New: next, OccurredAt: occurredAt})
	}
}

// DeletedHandler feeds deleted events into ProcessDeleted.
func DeletedHandler(pr *processor.Processor) Handler {
	return func(ctx context.Context, payload []byte) processor.Result {
		tx, occurredAt, err := decodeTransactionEvent(payload)
		if err != nil {
			return processor.Failure(processor.KindInvalidInput, err.Error(), err)
		}
		return pr.ProcessDeleted(ctx, processor.DeletedCommand{Transaction: tx, OccurredAt: occurredAt})
	}
}
