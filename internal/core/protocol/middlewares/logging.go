package middlewares

import (
	"context"

	"github.com/NarukamiTO/server-sub000/internal/core/events"
	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol"
)

// Logging logs every handled command at debug level and rejected ones at
// warn level.
func Logging(logger log.Log) Middleware {
	return func(next protocol.Receiver) protocol.Receiver {
		return protocol.ReceiverFunc(func(ctx context.Context, ch *protocol.Channel, h events.Header, e events.Event) error {
			err := next.Receive(ctx, ch, h, e)
			fields := []log.Field{
				log.String("channel_id", ch.ID().String()),
				log.Stringer("kind", ch.Kind()),
				log.Int64("object_id", int64(h.ObjectID)),
				log.Int64("method_id", h.MethodID),
				log.String("command", commandName(e)),
			}
			if err != nil {
				logger.Warn("Command rejected", append(fields, log.Error(err))...)
			} else {
				logger.Debug("Command handled", fields...)
			}
			return err
		})
	}
}
