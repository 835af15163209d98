package messaging

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"taskboard/domain"
)

// Envelope is the queue message picked up by the outbound relay.
type Envelope struct {
	ID       string    `json:"id"`
	To       string    `json:"to"`
	Body     string    `json:"body"`
	QueuedAt time.Time `json:"queuedAt"`
}

type enqueuer interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueueSender hands messages to an Azure Storage queue instead of sending
// them directly.
type QueueSender struct {
	queue enqueuer
	now   func() time.Time
}

// NewQueueSender creates a QueueSender from a storage connection string.
func NewQueueSender(connStr, queueName string) (*QueueSender, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &QueueSender{queue: q, now: time.Now}, nil
}

// Send enqueues one envelope.
func (s *QueueSender) Send(ctx context.Context, to, body string) error {
	env := Envelope{ID: uuid.NewString(), To: to, Body: body, QueuedAt: s.now().UTC()}
	data, err := sonic.Marshal(env)
	if err != nil {
		return err
	}
	if _, err := s.queue.EnqueueMessage(ctx, string(data), nil); err != nil {
		return &domain.NetworkError{Op: "enqueue message", Err: err}
	}
	return nil
}
