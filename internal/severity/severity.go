package severity

import "github.com/fleetpulse/core/internal/models"

// Severity buckets an alert record for display and filtering. It is computed
// on read, never persisted, so threshold changes reclassify history for free.
type Severity string

const (
	High   Severity = "high"
	Medium Severity = "medium"
	Low    Severity = "low"
)

// NearThresholdRatio is the fraction of a threshold a metric must strictly
// exceed to count as approaching it.
const NearThresholdRatio = 0.8

// IsHigh reports whether any threshold in the record actually fired.
func IsHigh(rec models.AlertRecord) bool {
	return rec.CPU.Alert ||
		rec.Memory.Alert ||
		rec.Disk.Alert ||
		rec.Network.UploadAlert ||
		rec.Network.DownloadAlert
}

// IsNearThreshold reports whether any metric sits above 80% of its threshold
// without its own alert flag being set. A metric that already fired does not
// additionally count as near; a sibling metric can.
func IsNearThreshold(rec models.AlertRecord) bool {
	if near(rec.CPU.Alert, rec.CPU.CurrentValue, rec.CPU.Threshold) {
		return true
	}
	if near(rec.Memory.Alert, rec.Memory.CurrentValue, rec.Memory.Threshold) {
		return true
	}
	if near(rec.Disk.Alert, rec.Disk.CurrentValue, rec.Disk.Threshold) {
		return true
	}
	if near(rec.Network.UploadAlert, rec.Network.CurrentUpload, rec.Network.UploadThreshold) {
		return true
	}
	if near(rec.Network.DownloadAlert, rec.Network.CurrentDownload, rec.Network.DownloadThreshold) {
		return true
	}
	return false
}

// A zero threshold makes any positive current value near; the hub owns the
// thresholds, so a zero one is taken at face value.
func near(fired bool, current, threshold float64) bool {
	if fired {
		return false
	}
	return current > threshold*NearThresholdRatio
}

// Classify derives the severity of a record. Records marked invalid are
// floored to Low no matter what their metrics say.
func Classify(rec models.AlertRecord) Severity {
	if !bool(rec.IsValid) {
		return Low
	}
	if IsHigh(rec) {
		return High
	}
	if IsNearThreshold(rec) {
		return Medium
	}
	return Low
}

// MatchesTier reports whether a record belongs in the given tier. The empty
// tier (or "all") matches everything. High and medium membership re-run the
// underlying predicates rather than comparing against a rendered label, so
// the tiers are not disjoint: a record with a fired metric and a near
// sibling matches both high and medium, while low is the strict complement
// of the other two.
func MatchesTier(rec models.AlertRecord, tier Severity) bool {
	switch tier {
	case "", "all":
		return true
	case High:
		return IsHigh(rec)
	case Medium:
		return IsNearThreshold(rec)
	case Low:
		return !IsHigh(rec) && !IsNearThreshold(rec)
	}
	return false
}

// Filter returns the valid records of the given tier, in input order. Records
// with is_valid_alert unset never count toward any tier, including "all".
func Filter(recs []models.AlertRecord, tier Severity) []models.AlertRecord {
	out := make([]models.AlertRecord, 0, len(recs))
	for _, rec := range recs {
		if !bool(rec.IsValid) {
			continue
		}
		if MatchesTier(rec, tier) {
			out = append(out, rec)
		}
	}
	return out
}
