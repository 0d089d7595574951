package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/wolfeidau/engagetrack/internal/protocol"
	"github.com/wolfeidau/engagetrack/internal/router"
)

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

// NewDispatchLogger returns router middleware that attaches a request scoped
// logger to the context and logs each dispatch with its duration.
func NewDispatchLogger(logger zerolog.Logger) router.Middleware {
	return func(next router.Handler) router.Handler {
		return func(ctx context.Context, msg protocol.Message) (any, error) {
			started := time.Now()

			lc := logger.With().Str("type", string(msg.Type))
			if msg.RequestID != "" {
				lc = lc.Str("request_id", msg.RequestID)
			}
			if p, ok := router.PeerFromContext(ctx); ok {
				lc = lc.Str("context", p.Context).Str("addr", p.Addr)
				if p.TabID != 0 {
					lc = lc.Int("tab_id", p.TabID)
				}
			}
			ctx = lc.Logger().WithContext(ctx)

			resp, err := next(ctx, msg)
			if err != nil {
				zerolog.Ctx(ctx).Error().
					Err(err).
					Dur("duration", time.Since(started)).
					Msg("dispatch")

				return resp, err
			}

			// events and status polls are chatty
			ev := zerolog.Ctx(ctx).Info()
			if msg.Type.IsEvent() || msg.Type == protocol.TypeGetTrackingStatus {
				ev = zerolog.Ctx(ctx).Debug()
			}
			ev.Dur("duration", time.Since(started)).Msg("dispatch")

			return resp, nil
		}
	}
}
