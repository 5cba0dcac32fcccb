// Package schedule parses wait policies and computes item run times.
package schedule

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/storypipe/storypipe/internal/pipeline"
)

// horizonDays bounds the forward scan for schedule policies: today plus
// the following six days. Finding nothing inside the horizon is a
// recognized terminal state (the item pauses), not an error.
const horizonDays = 7

var weekdayNames = map[string]time.Weekday{
	"Sunday":    time.Sunday,
	"Monday":    time.Monday,
	"Tuesday":   time.Tuesday,
	"Wednesday": time.Wednesday,
	"Thursday":  time.Thursday,
	"Friday":    time.Friday,
	"Saturday":  time.Saturday,
}

type rawPolicy struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type rawSchedule struct {
	Days  []string `json:"days"`
	Hours []int    `json:"hours"`
}

// ParseWaitPolicy decodes the serialized wait policy stored with an item.
// It runs once at the store boundary; downstream code only ever sees the
// structured pipeline.WaitPolicy.
func ParseWaitPolicy(raw []byte) (pipeline.WaitPolicy, error) {
	var rp rawPolicy
	if err := json.Unmarshal(raw, &rp); err != nil {
		return pipeline.WaitPolicy{}, fmt.Errorf("decode wait policy: %w", err)
	}
	switch pipeline.WaitKind(rp.Type) {
	case pipeline.WaitCount:
		var value int
		if err := json.Unmarshal(rp.Value, &value); err != nil {
			return pipeline.WaitPolicy{}, fmt.Errorf("decode count value: %w", err)
		}
		if value < 1 {
			return pipeline.WaitPolicy{}, fmt.Errorf("count value must be >= 1, got %d", value)
		}
		return pipeline.WaitPolicy{Kind: pipeline.WaitCount, Count: value}, nil
	case pipeline.WaitSchedule:
		var value rawSchedule
		if err := json.Unmarshal(rp.Value, &value); err != nil {
			return pipeline.WaitPolicy{}, fmt.Errorf("decode schedule value: %w", err)
		}
		days := make(map[time.Weekday]bool, len(value.Days))
		for _, name := range value.Days {
			day, ok := weekdayNames[name]
			if !ok {
				return pipeline.WaitPolicy{}, fmt.Errorf("unknown weekday %q", name)
			}
			days[day] = true
		}
		hours := make([]int, 0, len(value.Hours))
		seen := make(map[int]bool, len(value.Hours))
		for _, h := range value.Hours {
			if h < 0 || h > 23 {
				return pipeline.WaitPolicy{}, fmt.Errorf("hour out of range: %d", h)
			}
			if !seen[h] {
				seen[h] = true
				hours = append(hours, h)
			}
		}
		sort.Ints(hours)
		return pipeline.WaitPolicy{Kind: pipeline.WaitSchedule, Days: days, Hours: hours}, nil
	default:
		return pipeline.WaitPolicy{}, fmt.Errorf("unknown wait policy type %q", rp.Type)
	}
}

// EncodeWaitPolicy serializes a policy back to its stored form.
func EncodeWaitPolicy(p pipeline.WaitPolicy) ([]byte, error) {
	switch p.Kind {
	case pipeline.WaitCount:
		return json.Marshal(rawPolicy{
			Type:  string(pipeline.WaitCount),
			Value: json.RawMessage(fmt.Sprintf("%d", p.Count)),
		})
	case pipeline.WaitSchedule:
		names := make([]string, 0, len(p.Days))
		for name, day := range weekdayNames {
			if p.Days[day] {
				names = append(names, name)
			}
		}
		sort.Slice(names, func(i, j int) bool {
			return weekdayNames[names[i]] < weekdayNames[names[j]]
		})
		value, err := json.Marshal(rawSchedule{Days: names, Hours: p.Hours})
		if err != nil {
			return nil, fmt.Errorf("encode schedule value: %w", err)
		}
		return json.Marshal(rawPolicy{Type: string(pipeline.WaitSchedule), Value: value})
	default:
		return nil, fmt.Errorf("unknown wait policy kind %q", p.Kind)
	}
}

// NextRun computes when an item should run again after finishing at now.
// Count policies advance by the fixed polling interval. Schedule policies
// scan day by day, starting today, and return the first configured
// (day, hour) slot strictly after now; nil means no slot exists within
// the horizon and the item pauses until its policy changes.
func NextRun(p pipeline.WaitPolicy, now time.Time, pollInterval time.Duration) *time.Time {
	switch p.Kind {
	case pipeline.WaitCount:
		next := now.Add(pollInterval)
		return &next
	case pipeline.WaitSchedule:
		if len(p.Days) == 0 || len(p.Hours) == 0 {
			return nil
		}
		hours := append([]int(nil), p.Hours...)
		sort.Ints(hours)
		for offset := 0; offset < horizonDays; offset++ {
			day := now.AddDate(0, 0, offset)
			if !p.Days[day.Weekday()] {
				continue
			}
			for _, hour := range hours {
				slot := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, now.Location())
				if slot.After(now) {
					return &slot
				}
			}
		}
		return nil
	default:
		return nil
	}
}
