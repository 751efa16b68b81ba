// Package reconcile compares locally tracked positions with the venue's view.
package reconcile

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"futures-risk-lab/internal/domain"
)

// DefaultTolerancePercent is the accepted relative quantity difference.
const DefaultTolerancePercent = 1.0

// Discrepancy is a symbol whose quantities differ beyond tolerance.
type Discrepancy struct {
	Symbol            string  `json:"symbol"`
	LocalQuantity     float64 `json:"local_quantity"`
	VenueQuantity     float64 `json:"venue_quantity"`
	DifferencePercent float64 `json:"difference_percent"`
}

// Result is the outcome of one reconciliation.
type Result struct {
	Healthy        bool          `json:"is_healthy"`
	Discrepancies  []Discrepancy `json:"discrepancies"`
	Warnings       []string      `json:"warnings"`
	MissingOnVenue []string      `json:"missing_on_venue,omitempty"`
	MissingLocally []string      `json:"missing_locally,omitempty"`
	LocalCount     int           `json:"local_count"`
	VenueCount     int           `json:"venue_count"`
}

// Reconciler checks position agreement.
type Reconciler struct {
	tolerancePercent float64
	logger           logrus.FieldLogger
}

// New creates a Reconciler. A negative tolerance is treated as zero.
func New(tolerancePercent float64, logger logrus.FieldLogger) *Reconciler {
	if tolerancePercent < 0 {
		tolerancePercent = 0
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Reconciler{tolerancePercent: tolerancePercent, logger: logger}
}

// TolerancePercent returns the configured tolerance.
func (r *Reconciler) TolerancePercent() float64 {
	return r.tolerancePercent
}

// Reconcile compares both sides by symbol. Symbols held on only one side are
// warnings; symbols on both sides are compared by absolute quantity and flagged
// when |l-v| / max(l,v) * 100 exceeds the tolerance. Health is false iff a
// discrepancy exists. Discrepancies and missing symbols are sorted by symbol.
func (r *Reconciler) Reconcile(local, venue []domain.Position) Result {
	localMap := bySymbol(local)
	venueMap := bySymbol(venue)

	res := Result{
		Discrepancies: []Discrepancy{},
		Warnings:      []string{},
		LocalCount:    len(local),
		VenueCount:    len(venue),
	}

	var both []string
	for sym := range localMap {
		if _, ok := venueMap[sym]; ok {
			both = append(both, sym)
		} else {
			res.MissingOnVenue = append(res.MissingOnVenue, sym)
		}
	}
	for sym := range venueMap {
		if _, ok := localMap[sym]; !ok {
			res.MissingLocally = append(res.MissingLocally, sym)
		}
	}
	sort.Strings(both)
	sort.Strings(res.MissingOnVenue)
	sort.Strings(res.MissingLocally)

	if len(res.MissingOnVenue) > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("Positions in local state but not on venue: %s", strings.Join(res.MissingOnVenue, ", ")))
	}
	if len(res.MissingLocally) > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("Positions on venue but not in local state: %s", strings.Join(res.MissingLocally, ", ")))
	}

	for _, sym := range both {
		lq := math.Abs(localMap[sym].Quantity)
		vq := math.Abs(venueMap[sym].Quantity)
		if lq == 0 && vq == 0 {
			continue
		}
		diff := math.Abs(lq-vq) / math.Max(lq, vq) * 100
		if diff > r.tolerancePercent {
			d := Discrepancy{Symbol: sym, LocalQuantity: lq, VenueQuantity: vq, DifferencePercent: diff}
			res.Discrepancies = append(res.Discrepancies, d)
			r.logger.WithFields(logrus.Fields{
				"symbol":             sym,
				"local_quantity":     lq,
				"venue_quantity":     vq,
				"difference_percent": diff,
				"tolerance_percent":  r.tolerancePercent,
			}).Warn("position quantity mismatch")
		}
	}

	res.Healthy = len(res.Discrepancies) == 0
	if !res.Healthy {
		r.logger.WithFields(logrus.Fields{
			"discrepancies": len(res.Discrepancies),
			"warnings":      len(res.Warnings),
		}).Error("position reconciliation failed")
	} else if len(res.Warnings) > 0 {
		r.logger.WithField("warnings", res.Warnings).Warn("position reconciliation warnings")
	}
	return res
}

// Context flattens a failed result for a kill switch trip.
func (res Result) Context() map[string]any {
	return map[string]any{
		"discrepancies": len(res.Discrepancies),
		"warnings":      len(res.Warnings),
		"local_count":   res.LocalCount,
		"venue_count":   res.VenueCount,
	}
}

func bySymbol(ps []domain.Position) map[string]domain.Position {
	m := make(map[string]domain.Position, len(ps))
	for _, p := range ps {
		m[p.Symbol] = p
	}
	return m
}
