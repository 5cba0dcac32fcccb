// Package progress defines the structured events emitted by the pipeline
// components and the hub that fans them out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageItemStart     Stage = "ITEM_START"
	StageItemDone      Stage = "ITEM_DONE"
	StageItemError     Stage = "ITEM_ERROR"
	StageCurateDone    Stage = "CURATE_DONE"
	StageFetchDone     Stage = "FETCH_DONE"
	StageFetchDropped  Stage = "FETCH_DROPPED"
	StageSummarizeDone Stage = "SUMMARIZE_DONE"
)

// Event captures a single pipeline milestone for one monitored item.
type Event struct {
	// ItemID identifies the monitored item the event belongs to.
	ItemID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Provider optionally scopes curate events to a discovery provider.
	Provider string
	// URL is the optional page URL; it should not contain credentials.
	URL string
	// Count carries the stage-specific tally (URLs found, duplicates
	// removed, stories written).
	Count int64
	// Dur captures execution latency where the stage has one.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ItemID == "" {
		return errors.New("item id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageItemStart, StageItemDone, StageItemError:
	case StageCurateDone:
		if e.Provider == "" {
			return errors.New("curate done requires provider")
		}
	case StageFetchDone, StageFetchDropped:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case StageSummarizeDone:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
