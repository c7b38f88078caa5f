package sim

import "time"

// Crossings counts the daily charge instants, midnight plus offset in loc,
// that fall in (prev, cur].
func Crossings(prev, cur time.Time, offset time.Duration, loc *time.Location) int {
	if !cur.After(prev) {
		return 0
	}
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := prev.In(loc).Date()
	n := 0
	for day := time.Date(y, m, d, 0, 0, 0, 0, loc); ; day = day.AddDate(0, 0, 1) {
		at := day.Add(offset)
		if at.After(cur) {
			return n
		}
		if at.After(prev) {
			n++
		}
	}
}
