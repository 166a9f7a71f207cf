package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/kafka"
)

// CompletionNotifier publishes an IndexCompleteEvent for every finished
// build, keyed by snapshot checksum.
type CompletionNotifier struct {
	publisher analytics.Publisher
}

func NewCompletionNotifier(publisher analytics.Publisher) *CompletionNotifier {
	return &CompletionNotifier{publisher: publisher}
}

func (n *CompletionNotifier) RecordBuild(ctx context.Context, res *BuildResult) error {
	ev := analytics.IndexCompleteEvent{
		Type:           analytics.EventIndexComplete,
		SnapshotPath:   res.SnapshotPath,
		Checksum:       res.Checksum,
		Files:          res.Files,
		Entries:        len(res.Entries),
		Fallbacks:      res.Fallbacks,
		ConvertedFiles: len(res.ConvertedFiles),
		DurationMs:     res.Duration().Milliseconds(),
		Timestamp:      res.FinishedAt.UTC(),
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := n.publisher.Publish(ctx, kafka.Event{Key: res.Checksum, Type: string(ev.Type), Value: ev}); err != nil {
		return fmt.Errorf("publishing index-complete event: %w", err)
	}
	return nil
}
