package detect

import (
	"path"
	"strings"

	"github.com/kestrelsec/kestrel/internal/model"
)

// Heuristic tags. Each synchronous rule contributes zero or one of these.
const (
	TagMultipleFailedLogins      = "multiple-failed-logins"
	TagAfterHoursSensitiveAccess = "after-hours-sensitive-access"
	TagUnusualSourceIP           = "unusual-source-ip"
	TagCommandFlood              = "command-flood"
	TagLargeDataTransfer         = "large-data-transfer"
	TagPrivilegeEscalation       = "privilege-escalation"
	TagSystemConfigChange        = "system-config-change"
	TagSuspiciousProcessCreation = "suspicious-process-creation"
)

// Detector runs the fixed, ordered list of per-event heuristic rules.
// All counting rules slide over the event-time window buffer; nothing
// here touches persistent storage.
type Detector struct {
	window *WindowBuffer
	addrs  *AddrTracker
	tun    *Tunables
}

// NewDetector creates a detector over the given window buffer and
// address tracker.
func NewDetector(window *WindowBuffer, addrs *AddrTracker, tun *Tunables) *Detector {
	if tun == nil {
		tun = DefaultTunables()
	}
	return &Detector{window: window, addrs: addrs, tun: tun}
}

// Suspicious evaluates every heuristic rule against the event and returns
// the tags that fired, in rule order. The event is expected to already be
// in the window buffer; the address tracker must not yet include its
// origin address (observe after detection).
func (d *Detector) Suspicious(ev *model.ActivityEvent) []string {
	var tags []string

	if d.isFailedLoginBurst(ev) {
		tags = append(tags, TagMultipleFailedLogins)
	}
	if d.isAfterHoursSensitiveAccess(ev) {
		tags = append(tags, TagAfterHoursSensitiveAccess)
	}
	if d.isUnusualSourceAddr(ev) {
		tags = append(tags, TagUnusualSourceIP)
	}
	if d.isCommandFlood(ev) {
		tags = append(tags, TagCommandFlood)
	}
	if d.isLargeTransfer(ev) {
		tags = append(tags, TagLargeDataTransfer)
	}
	if ev.Kind == model.KindPrivilegeEscalation {
		tags = append(tags, TagPrivilegeEscalation)
	}
	if d.isSystemConfigChange(ev) {
		tags = append(tags, TagSystemConfigChange)
	}
	if d.isSuspiciousProcess(ev) {
		tags = append(tags, TagSuspiciousProcessCreation)
	}

	return tags
}

// isFailedLoginBurst fires when the actor accumulates the configured
// number of failed logins inside the counting window, this event included.
func (d *Detector) isFailedLoginBurst(ev *model.ActivityEvent) bool {
	if ev.Kind != model.KindLogin || ev.Outcome != model.OutcomeFailed {
		return false
	}
	recent := d.window.RecentByKind(ev.ActorID, model.KindLogin, d.tun.FailedLoginWindow(), ev.Timestamp)
	failed := 0
	for _, prior := range recent {
		if prior.Outcome == model.OutcomeFailed {
			failed++
		}
	}
	return failed >= d.tun.FailedLoginThreshold
}

func (d *Detector) isAfterHoursSensitiveAccess(ev *model.ActivityEvent) bool {
	if ev.Kind != model.KindFileAccess || !d.tun.afterHours(ev.Timestamp) {
		return false
	}
	res := strings.ToLower(ev.Resource)
	return strings.Contains(res, "sensitive") || strings.Contains(res, "admin")
}

// isUnusualSourceAddr fires for a network connection from an address the
// actor has not used before, once the actor has an established set of
// known addresses.
func (d *Detector) isUnusualSourceAddr(ev *model.ActivityEvent) bool {
	if ev.Kind != model.KindNetworkConnection || ev.SourceAddr == "" {
		return false
	}
	known, total := d.addrs.Seen(ev.ActorID, ev.SourceAddr)
	return total > d.tun.KnownAddrThreshold && !known
}

func (d *Detector) isCommandFlood(ev *model.ActivityEvent) bool {
	if ev.Kind != model.KindCommandExecution {
		return false
	}
	recent := d.window.RecentByKind(ev.ActorID, model.KindCommandExecution, d.tun.CommandFloodWindow(), ev.Timestamp)
	return len(recent) >= d.tun.CommandFloodThreshold
}

func (d *Detector) isLargeTransfer(ev *model.ActivityEvent) bool {
	return ev.Kind == model.KindDataTransfer && ev.TransferBytes() > d.tun.LargeTransferBytes
}

func (d *Detector) isSystemConfigChange(ev *model.ActivityEvent) bool {
	if ev.Kind != model.KindConfigChange {
		return false
	}
	res := strings.ToLower(ev.Resource)
	return strings.Contains(res, "system") || strings.Contains(res, "security")
}

// isSuspiciousProcess matches the declared process name, stripped of any
// directory prefix, against the configured denylist.
func (d *Detector) isSuspiciousProcess(ev *model.ActivityEvent) bool {
	if ev.Kind != model.KindProcessCreation {
		return false
	}
	name := strings.ToLower(path.Base(strings.ReplaceAll(ev.ProcessName(), "\\", "/")))
	if name == "" || name == "." {
		return false
	}
	for _, denied := range d.tun.ProcessDenylist {
		if name == denied {
			return true
		}
	}
	return false
}
