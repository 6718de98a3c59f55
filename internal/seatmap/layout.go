// Package seatmap describes the seating layout of the venue and
// selects free seats from it.  Everything here is a pure function of
// its inputs and safe for concurrent use without locking.
package seatmap

import (
	"sort"

	"github.com/iliyamo/concert-booking/internal/model"
)

// RowRange is an inclusive range of 1-based row indexes.
type RowRange struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

// Band describes the rows that make up one price band and how many
// seats each of those rows holds.
type Band struct {
	Rows        []RowRange `json:"rows"`
	SeatsPerRow int        `json:"seats_per_row"`
}

// Layout maps each price band to its rows.  A Layout must not be
// modified once it is shared.
type Layout struct {
	Bands map[model.PriceBand]Band `json:"bands"`
}

// DefaultLayout returns the layout of the concert hall: 26 rows of 26
// seats split into three price bands, front rows being the most
// expensive.
func DefaultLayout() Layout {
	return Layout{Bands: map[model.PriceBand]Band{
		model.PriceBandA: {Rows: []RowRange{{First: 1, Last: 8}}, SeatsPerRow: 26},
		model.PriceBandB: {Rows: []RowRange{{First: 9, Last: 17}}, SeatsPerRow: 26},
		model.PriceBandC: {Rows: []RowRange{{First: 18, Last: 26}}, SeatsPerRow: 26},
	}}
}

// HasBand reports whether the layout defines the band.
func (l Layout) HasBand(band model.PriceBand) bool {
	_, ok := l.Bands[band]
	return ok
}

// BandNames returns the defined bands in lexical order.
func (l Layout) BandNames() []model.PriceBand {
	out := make([]model.PriceBand, 0, len(l.Bands))
	for b := range l.Bands {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Capacity returns the number of seats in the band, or zero for an
// unknown band.
func (l Layout) Capacity(band model.PriceBand) int {
	b, ok := l.Bands[band]
	if !ok {
		return 0
	}
	n := 0
	for _, r := range b.Rows {
		if r.Last >= r.First {
			n += (r.Last - r.First + 1) * b.SeatsPerRow
		}
	}
	return n
}

// Contains reports whether seat lies inside the band.
func (l Layout) Contains(band model.PriceBand, seat model.Seat) bool {
	b, ok := l.Bands[band]
	if !ok || seat.Number < 1 || seat.Number > b.SeatsPerRow {
		return false
	}
	for _, r := range b.Rows {
		if seat.Row >= r.First && seat.Row <= r.Last {
			return true
		}
	}
	return false
}
