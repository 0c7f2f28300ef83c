package wizard

import (
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/jobs"

	"github.com/hibiken/asynq"
)

// AsynqJobClient implements JobClient using asynq
type AsynqJobClient struct {
	client *asynq.Client
}

func NewAsynqJobClient(client *asynq.Client) *AsynqJobClient {
	return &AsynqJobClient{client: client}
}

func (c *AsynqJobClient) EnqueueConfirmationEmail(reference string) error {
	return jobs.EnqueueConfirmationEmail(c.client, reference)
}

func (c *AsynqJobClient) EnqueueDecisionEmail(reference string) error {
	return jobs.EnqueueDecisionEmail(c.client, reference)
}
