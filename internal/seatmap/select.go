package seatmap

import "github.com/iliyamo/concert-booking/internal/model"

// SelectSeats picks count seats of the band that are not in excluded.
// Seats are taken in row-major order so repeated calls with the same
// inputs return the same seats.  The boolean is false when the band
// is unknown, count is not positive or fewer than count seats remain;
// callers treat that as insufficient capacity rather than an empty
// booking.
func (l Layout) SelectSeats(band model.PriceBand, count int, excluded map[model.Seat]struct{}) ([]model.Seat, bool) {
	b, ok := l.Bands[band]
	if !ok || count <= 0 {
		return nil, false
	}
	if count > l.Capacity(band)-countInBand(l, band, excluded) {
		return nil, false
	}
	picked := make([]model.Seat, 0, count)
	for _, r := range b.Rows {
		for row := r.First; row <= r.Last; row++ {
			for num := 1; num <= b.SeatsPerRow; num++ {
				s := model.Seat{Row: row, Number: num}
				if _, taken := excluded[s]; taken {
					continue
				}
				picked = append(picked, s)
				if len(picked) == count {
					return picked, true
				}
			}
		}
	}
	return nil, false
}

// countInBand counts the excluded seats that actually belong to the
// band; stray seats from other bands must not shrink its capacity.
func countInBand(l Layout, band model.PriceBand, excluded map[model.Seat]struct{}) int {
	n := 0
	for s := range excluded {
		if l.Contains(band, s) {
			n++
		}
	}
	return n
}
