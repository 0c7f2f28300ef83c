package notify

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// LogProvider writes emails to the log instead of sending them. Used in
// development when no provider API key is configured; every send is
// reported delivered on the next status poll.
type LogProvider struct {
	Log *zap.Logger
}

func (p *LogProvider) SendEmail(ctx context.Context, recipient, templateID string, personalisation map[string]string, reference string) (string, error) {
	id := ulid.Make().String()
	p.Log.Info("Email (not sent, log provider)",
		zap.String("recipient", recipient),
		zap.String("template_id", templateID),
		zap.String("reference", reference),
		zap.Any("personalisation", personalisation))
	return id, nil
}

func (p *LogProvider) Status(ctx context.Context, providerID string) (StatusResult, error) {
	return StatusResult{Status: StatusDelivered}, nil
}
