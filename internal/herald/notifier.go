// Package herald hands finished stories to downstream consumers.
package herald

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/storypipe/storypipe/internal/pipeline"
)

// Notifier publishes the relevant stories of a completed item run as one
// batch message.
type Notifier struct {
	publisher pipeline.Publisher
	topic     string
	logger    *zap.Logger
}

// NewNotifier builds a Notifier. A nil publisher disables the hand-off.
func NewNotifier(publisher pipeline.Publisher, topic string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{publisher: publisher, topic: topic, logger: logger}
}

// StoryPayload is the wire form of one story in the batch message.
type StoryPayload struct {
	ID           string   `json:"id"`
	URL          string   `json:"url"`
	OriginalURL  string   `json:"originalUrl"`
	Title        string   `json:"title"`
	KeyFindings  []string `json:"keyFindings"`
	LanguageCode string   `json:"languageCode"`
}

// BatchPayload is the message published per item run.
type BatchPayload struct {
	AlertID   string         `json:"alertId"`
	AlertName string         `json:"alertName"`
	Stories   []StoryPayload `json:"stories"`
}

// PublishStories publishes the run's relevant stories. Irrelevant and
// user-suppressed stories are filtered out; an empty batch publishes
// nothing.
func (n *Notifier) PublishStories(ctx context.Context, item pipeline.Item, stories []pipeline.Story) error {
	if n.publisher == nil {
		return nil
	}

	payload := BatchPayload{AlertID: item.ID, AlertName: item.Name}
	for _, st := range stories {
		if st.SystemMarkedIrrelevant || st.UserMarkedIrrelevant {
			continue
		}
		payload.Stories = append(payload.Stories, StoryPayload{
			ID:           st.ID,
			URL:          st.URL,
			OriginalURL:  st.OriginalURL,
			Title:        st.Title,
			KeyFindings:  st.KeyFindings,
			LanguageCode: st.LanguageCode,
		})
	}
	if len(payload.Stories) == 0 {
		return nil
	}

	id, err := n.publisher.Publish(ctx, n.topic, payload)
	if err != nil {
		return fmt.Errorf("publish story batch for item %s: %w", item.ID, err)
	}
	n.logger.Info("published story batch",
		zap.String("item_id", item.ID),
		zap.String("message_id", id),
		zap.Int("stories", len(payload.Stories)),
	)
	return nil
}
