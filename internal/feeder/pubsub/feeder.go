// Package pubsub provides a feeder backed by a Google Cloud Pub/Sub
// subscription. Each message carries one URL to archive.
package pubsub

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/linkvault/archiver/internal/archive"
)

// Config captures the parameters required to consume a subscription.
type Config struct {
	ProjectID      string
	SubscriptionID string
	// Folder is the default destination context; a "folder" message
	// attribute overrides it per item.
	Folder string
}

// Feeder pulls URLs from Pub/Sub as a lazy, effectively infinite feed.
// Messages are acked only once the record has been handed to the run loop.
type Feeder struct {
	client  *pubsub.Client
	records chan *archive.Record
	cancel  context.CancelFunc
	folder  string
	logger  *zap.Logger

	mu      sync.Mutex
	recvErr error
}

// New connects to Pub/Sub and starts receiving in the background.
// It authenticates using Application Default Credentials.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Feeder, error) {
	if cfg.ProjectID == "" || cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("pubsub project id and subscription id are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	sub := client.Subscription(cfg.SubscriptionID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after existence check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check subscription existence: %w", err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after existence check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub subscription %q does not exist in project %q",
			cfg.SubscriptionID, cfg.ProjectID)
	}

	recvCtx, cancel := context.WithCancel(context.Background())
	f := &Feeder{
		client:  client,
		records: make(chan *archive.Record),
		cancel:  cancel,
		folder:  cfg.Folder,
		logger:  logger,
	}
	go f.receive(recvCtx, sub)
	return f, nil
}

func (f *Feeder) receive(ctx context.Context, sub *pubsub.Subscription) {
	defer close(f.records)
	err := sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		rec := archive.NewRecord(string(msg.Data))
		rec.Folder = f.folder
		if folder := msg.Attributes["folder"]; folder != "" {
			rec.Folder = folder
		}
		select {
		case f.records <- rec:
			msg.Ack()
		case <-msgCtx.Done():
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		f.mu.Lock()
		f.recvErr = err
		f.mu.Unlock()
		f.logger.Error("pubsub receive stopped", zap.Error(err))
	}
}

// Next blocks for the next message-backed record. It returns
// archive.ErrFeedDone only when the feeder has been closed.
func (f *Feeder) Next(ctx context.Context) (*archive.Record, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("pubsub feed canceled: %w", ctx.Err())
	case rec, ok := <-f.records:
		if !ok {
			f.mu.Lock()
			err := f.recvErr
			f.mu.Unlock()
			if err != nil {
				return nil, fmt.Errorf("pubsub receive: %w", err)
			}
			return nil, archive.ErrFeedDone
		}
		return rec, nil
	}
}

// Close stops the receiver and releases the client connection.
func (f *Feeder) Close() error {
	f.cancel()
	if err := f.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
