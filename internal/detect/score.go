package detect

import (
	"strings"
	"time"

	"github.com/kestrelsec/kestrel/internal/model"
)

// scoreLookback is the history window the burst modifiers count over.
const scoreLookback = 15 * time.Minute

// kindWeights are the base risk contributions per event kind.
var kindWeights = map[model.EventKind]float64{
	model.KindLogin:               0.1,
	model.KindLogout:              0.0,
	model.KindFileAccess:          0.2,
	model.KindNetworkConnection:   0.3,
	model.KindCommandExecution:    0.4,
	model.KindDataTransfer:        0.5,
	model.KindSystemAccess:        0.6,
	model.KindConfigChange:        0.7,
	model.KindPrivilegeEscalation: 0.8,
	model.KindProcessCreation:     0.3,
}

// Score maps an event plus the count of same-kind events the actor
// produced in the preceding 15 minutes to a risk value in [0,1].
// It is a deterministic weighted sum and reads no shared state.
func (d *Detector) Score(ev *model.ActivityEvent, recentSameKind int) float64 {
	score := kindWeights[ev.Kind]

	switch ev.Outcome {
	case model.OutcomeFailed:
		score += 0.2
	case model.OutcomeDenied:
		score += 0.3
	}

	res := strings.ToLower(ev.Resource)
	if strings.Contains(res, "admin") || strings.Contains(res, "root") {
		score += 0.3
	} else if strings.Contains(res, "sensitive") || strings.Contains(res, "confidential") {
		score += 0.2
	}

	if d.tun.afterHours(ev.Timestamp) {
		score += 0.2
	}

	if recentSameKind > 20 {
		score += 0.3
	} else if recentSameKind > 10 {
		score += 0.2
	}

	return clamp01(score)
}

// tagUplift is the additional risk contributed by each heuristic tag
// that fired on the event.
const tagUplift = 0.1

// CombinedRisk folds the heuristic tags into the base score: every tag
// raises the risk by a fixed uplift, and the result is clamped to [0,1].
// This is the value the ingestion path compares against the alert
// threshold.
func (d *Detector) CombinedRisk(ev *model.ActivityEvent, recentSameKind int, tags []string) float64 {
	return clamp01(d.Score(ev, recentSameKind) + tagUplift*float64(len(tags)))
}

// RecentSameKind counts how many same-kind events the actor produced in
// the 15 minutes preceding the event, excluding the event itself.
func (d *Detector) RecentSameKind(ev *model.ActivityEvent) int {
	recent := d.window.RecentByKind(ev.ActorID, ev.Kind, scoreLookback, ev.Timestamp)
	n := len(recent)
	// The event is already buffered when scoring runs; do not count it.
	for _, prior := range recent {
		if prior.ID == ev.ID {
			n--
			break
		}
	}
	if n < 0 {
		n = 0
	}
	return n
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
