package handler

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"transcode-service/dto"
	"transcode-service/service"
)

type ServiceDependencies struct {
	TranscodeService service.Service
}

// JobHandler decodes a queued transcode message and runs it. A malformed
// body is dropped rather than requeued; Execute's own error return decides
// ack versus requeue for everything else.
func JobHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var job dto.JobMessage
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal job message, dropping")
		return nil
	}

	return deps.TranscodeService.Execute(ctx, job)
}
