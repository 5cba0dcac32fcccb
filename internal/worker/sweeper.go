// Package worker runs the periodic sweep that drives due items through
// curation, extraction and summarization.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/storypipe/storypipe/internal/metrics"
	"github.com/storypipe/storypipe/internal/pipeline"
	"github.com/storypipe/storypipe/internal/progress"
	"github.com/storypipe/storypipe/internal/schedule"
)

// Curator discovers candidate URLs for an item.
type Curator interface {
	Curate(ctx context.Context, item pipeline.Item) ([]pipeline.CandidateURL, error)
}

// Reaper resolves candidates into content entries.
type Reaper interface {
	ExtractAll(ctx context.Context, itemID string, candidates []pipeline.CandidateURL) ([]pipeline.Content, error)
}

// Sage summarizes content entries into stories.
type Sage interface {
	SummarizeAll(ctx context.Context, item pipeline.Item, contents []pipeline.Content, candidates []pipeline.CandidateURL) []pipeline.Story
}

// Notifier hands a run's stories downstream.
type Notifier interface {
	PublishStories(ctx context.Context, item pipeline.Item, stories []pipeline.Story) error
}

// Options wires a Sweeper.
type Options struct {
	Items             pipeline.ItemStore
	Curator           Curator
	Reaper            Reaper
	Sage              Sage
	Notifier          Notifier
	Clock             pipeline.Clock
	CountPollInterval time.Duration
	Hub               *progress.Hub
	Logger            *zap.Logger
}

// Sweeper runs due items sequentially; the stages inside one run fan out
// with their own pools. A failing or panicking item never stops the
// sweep, and every processed item gets its run times advanced so a
// broken item cannot hot-loop.
type Sweeper struct {
	opts Options
}

// NewSweeper builds a Sweeper.
func NewSweeper(opts Options) *Sweeper {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Sweeper{opts: opts}
}

// Sweep processes every item due at the time of the call.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.opts.Clock.Now()
	items, err := s.opts.Items.ListDue(ctx, now)
	if err != nil {
		return fmt.Errorf("list due items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}
	s.opts.Logger.Info("sweeping due items", zap.Int("count", len(items)))

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.runItem(ctx, item)
	}
	return nil
}

func (s *Sweeper) runItem(ctx context.Context, item pipeline.Item) {
	start := s.opts.Clock.Now()
	s.emit(progress.Event{
		ItemID:   item.ID,
		TS:       start,
		Stage:    progress.StageItemStart,
		Provider: string(item.Strategy.Provider),
	})

	err := s.runItemGuarded(ctx, item)
	finished := s.opts.Clock.Now()
	dur := finished.Sub(start)

	if err != nil {
		metrics.ObserveItemRun("error", dur)
		s.emit(progress.Event{
			ItemID:   item.ID,
			TS:       finished,
			Stage:    progress.StageItemError,
			Provider: string(item.Strategy.Provider),
			Dur:      dur,
			Note:     err.Error(),
		})
		s.opts.Logger.Error("item run failed",
			zap.String("item_id", item.ID),
			zap.Duration("duration", dur),
			zap.Error(err),
		)
	} else {
		metrics.ObserveItemRun("ok", dur)
		s.emit(progress.Event{
			ItemID:   item.ID,
			TS:       finished,
			Stage:    progress.StageItemDone,
			Provider: string(item.Strategy.Provider),
			Dur:      dur,
		})
	}

	next := schedule.NextRun(item.Wait, finished, s.opts.CountPollInterval)
	if next == nil {
		s.opts.Logger.Info("item has no future slot, pausing",
			zap.String("item_id", item.ID))
	}
	if err := s.opts.Items.UpdateRunTimes(ctx, item.ID, finished, next); err != nil {
		s.opts.Logger.Error("failed to update run times",
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
	}
}

// runItemGuarded executes the three stages with panic containment.
func (s *Sweeper) runItemGuarded(ctx context.Context, item pipeline.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("item run panicked: %v", r)
		}
	}()

	candidates, err := s.opts.Curator.Curate(ctx, item)
	if err != nil {
		return fmt.Errorf("curate: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	contents, err := s.opts.Reaper.ExtractAll(ctx, item.ID, candidates)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if len(contents) == 0 {
		return nil
	}

	stories := s.opts.Sage.SummarizeAll(ctx, item, contents, candidates)
	if len(stories) == 0 {
		return nil
	}

	if s.opts.Notifier != nil {
		if err := s.opts.Notifier.PublishStories(ctx, item, stories); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
	}
	return nil
}

func (s *Sweeper) emit(evt progress.Event) {
	if s.opts.Hub == nil {
		return
	}
	s.opts.Hub.Emit(evt)
}
