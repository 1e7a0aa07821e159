package detect

import (
	"fmt"
	"sort"
	"time"

	"github.com/kestrelsec/kestrel/internal/model"
)

// minPatternEvents is the smallest group that qualifies as a pattern.
const minPatternEvents = 3

// MinedPattern is the miner's output before the engine assigns identity
// and persists it.
type MinedPattern struct {
	ActorID     string
	Kind        model.EventKind
	Category    model.PatternCategory
	Description string
	EventIDs    []string
	Frequency   float64
	Confidence  float64
	RiskScore   float64
	FirstSeen   time.Time
	LastSeen    time.Time
}

// MinePatterns groups the supplied events by actor and kind and emits one
// pattern per group of three or more. The input is a snapshot: the miner
// is pure and deterministic given its arguments, so it can run off the
// ingestion path. Events outside [ref-window, ref] are ignored; pass
// actorID == "" to mine across all actors.
func (d *Detector) MinePatterns(events []*model.ActivityEvent, actorID string, window time.Duration, ref time.Time, minConfidence float64) []*MinedPattern {
	cutoff := ref.Add(-window)

	type groupKey struct {
		actor string
		kind  model.EventKind
	}
	groups := make(map[groupKey][]*model.ActivityEvent)
	for _, ev := range events {
		if actorID != "" && ev.ActorID != actorID {
			continue
		}
		if ev.Timestamp.Before(cutoff) || ev.Timestamp.After(ref) {
			continue
		}
		k := groupKey{actor: ev.ActorID, kind: ev.Kind}
		groups[k] = append(groups[k], ev)
	}

	var patterns []*MinedPattern
	for key, group := range groups {
		if len(group) < minPatternEvents {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})

		first := group[0].Timestamp
		last := group[len(group)-1].Timestamp
		elapsedHours := last.Sub(first).Hours()
		if elapsedHours < 1 {
			elapsedHours = 1
		}
		frequency := float64(len(group)) / elapsedHours

		confidence := frequency / 10
		if confidence > 1 {
			confidence = 1
		}
		if confidence < minConfidence {
			continue
		}

		p := &MinedPattern{
			ActorID:    key.actor,
			Kind:       key.kind,
			Category:   classifyFrequency(frequency),
			Frequency:  frequency,
			Confidence: confidence,
			RiskScore:  d.groupRisk(group),
			FirstSeen:  first,
			LastSeen:   last,
		}
		p.Description = fmt.Sprintf("%s: %d %s events at %.1f/hour",
			p.Category, len(group), key.kind, frequency)
		for _, ev := range group {
			p.EventIDs = append(p.EventIDs, ev.ID)
		}
		patterns = append(patterns, p)
	}

	// Deterministic output order for a deterministic input snapshot.
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].ActorID != patterns[j].ActorID {
			return patterns[i].ActorID < patterns[j].ActorID
		}
		return patterns[i].Kind < patterns[j].Kind
	})
	return patterns
}

func classifyFrequency(perHour float64) model.PatternCategory {
	switch {
	case perHour > 100:
		return model.PatternFlood
	case perHour > 50:
		return model.PatternBurst
	case perHour < 1:
		return model.PatternSparse
	default:
		return model.PatternNormal
	}
}

// groupRisk is the mean per-event risk score across a sorted group. The
// same-kind burst modifier is computed against the group itself, counting
// the events in the 15 minutes before each member.
func (d *Detector) groupRisk(group []*model.ActivityEvent) float64 {
	var sum float64
	for i, ev := range group {
		recent := 0
		for j := i - 1; j >= 0; j-- {
			if ev.Timestamp.Sub(group[j].Timestamp) > scoreLookback {
				break
			}
			recent++
		}
		sum += d.Score(ev, recent)
	}
	return sum / float64(len(group))
}
