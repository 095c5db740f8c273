package model

import "math"

// ADWIN is an adaptive-windowing drift detector. It maintains a variable
// length window of recent values compressed into an exponential histogram of
// buckets, and shrinks the window whenever two sub-windows show a
// statistically significant difference in mean (with confidence 1-Delta).
//
// The detector never resets itself on detection; it only drops the stale
// portion of its window. Callers decide what else to reset.
type ADWIN struct {
	Delta float64

	// Rows[r] holds buckets that each summarize 2^r values. Within a row
	// index 0 is the oldest bucket; rows with higher indexes are older.
	Rows [][]Bucket

	Width    int
	Total    float64
	Variance float64
}

// Bucket summarizes 2^row consecutive values.
type Bucket struct {
	Total    float64
	Variance float64
}

const (
	adwinMaxBucketsPerRow = 5
	adwinMinSubWindow     = 5
	adwinMinWidth         = 10
)

// NewADWIN creates a detector with the conventional delta of 0.002.
func NewADWIN() *ADWIN {
	return &ADWIN{
		Delta: 0.002,
		Rows:  [][]Bucket{{}},
	}
}

// Estimation returns the mean of the current window.
func (a *ADWIN) Estimation() float64 {
	if a.Width == 0 {
		return 0
	}
	return a.Total / float64(a.Width)
}

// WindowWidth returns the number of values currently summarized.
func (a *ADWIN) WindowWidth() int {
	return a.Width
}

// Reset empties the window.
func (a *ADWIN) Reset() {
	a.Rows = [][]Bucket{{}}
	a.Width = 0
	a.Total = 0
	a.Variance = 0
}

// Update feeds one value and reports whether a distribution change was just
// detected (the window shrank).
func (a *ADWIN) Update(v float64) bool {
	a.insert(v)
	return a.detect()
}

func (a *ADWIN) insert(v float64) {
	if a.Width > 0 {
		mean := a.Total / float64(a.Width)
		a.Variance += float64(a.Width) / float64(a.Width+1) * (v - mean) * (v - mean)
	}
	a.Width++
	a.Total += v

	a.Rows[0] = append(a.Rows[0], Bucket{Total: v})
	a.compress()
}

// compress merges the two oldest buckets of any overfull row into one bucket
// of the next row, keeping the histogram logarithmic in the window size.
func (a *ADWIN) compress() {
	for r := 0; r < len(a.Rows); r++ {
		if len(a.Rows[r]) <= adwinMaxBucketsPerRow {
			continue
		}
		if r+1 == len(a.Rows) {
			a.Rows = append(a.Rows, nil)
		}

		n := float64(int(1) << r)
		b1, b2 := a.Rows[r][0], a.Rows[r][1]
		u1, u2 := b1.Total/n, b2.Total/n
		merged := Bucket{
			Total:    b1.Total + b2.Total,
			Variance: b1.Variance + b2.Variance + n*n/(n+n)*(u1-u2)*(u1-u2),
		}
		a.Rows[r] = a.Rows[r][2:]
		a.Rows[r+1] = append(a.Rows[r+1], merged)
	}
}

// detect repeatedly tests every bucket boundary as a cut point, oldest first,
// and drops the oldest bucket while any cut shows a significant mean shift.
func (a *ADWIN) detect() bool {
	if a.Width < adwinMinWidth {
		return false
	}

	detected := false
	for reduced := true; reduced; {
		reduced = false

		n0 := 0
		sum0 := 0.0
		// Oldest to newest: highest row first, then within-row order.
		for r := len(a.Rows) - 1; r >= 0 && !reduced; r-- {
			size := int(1) << r
			for i := 0; i < len(a.Rows[r]); i++ {
				n0 += size
				sum0 += a.Rows[r][i].Total
				n1 := a.Width - n0
				if n0 < adwinMinSubWindow || n1 < adwinMinSubWindow {
					continue
				}
				u0 := sum0 / float64(n0)
				u1 := (a.Total - sum0) / float64(n1)
				if a.cutFound(n0, n1, u0, u1) {
					a.dropOldest()
					detected = true
					reduced = true
					break
				}
			}
		}
	}
	return detected
}

// cutFound applies the ADWIN bound: the two sub-window means differ by more
// than epsilon_cut derived from the window variance and confidence delta.
func (a *ADWIN) cutFound(n0, n1 int, u0, u1 float64) bool {
	v := a.Variance / float64(a.Width)
	m := 1 / (1/float64(n0) + 1/float64(n1))
	dd := math.Log(2 * math.Log(float64(a.Width)) / a.Delta)
	epsCut := math.Sqrt(2*v*dd/m) + 2*dd/(3*m)
	return math.Abs(u0-u1) > epsCut
}

// dropOldest removes the oldest bucket and restates the window statistics.
func (a *ADWIN) dropOldest() {
	r := len(a.Rows) - 1
	for r > 0 && len(a.Rows[r]) == 0 {
		r--
	}
	if len(a.Rows[r]) == 0 {
		return
	}

	n0 := float64(int(1) << r)
	b := a.Rows[r][0]
	a.Rows[r] = a.Rows[r][1:]

	n1 := float64(a.Width) - n0
	if n1 > 0 {
		u0 := b.Total / n0
		u1 := (a.Total - b.Total) / n1
		a.Variance -= b.Variance + n0*n1/(n0+n1)*(u0-u1)*(u0-u1)
		if a.Variance < 0 {
			a.Variance = 0
		}
	} else {
		a.Variance = 0
	}
	a.Width -= int(n0)
	a.Total -= b.Total

	// Trim empty trailing rows so the oldest-first scan stays cheap.
	for len(a.Rows) > 1 && len(a.Rows[len(a.Rows)-1]) == 0 {
		a.Rows = a.Rows[:len(a.Rows)-1]
	}
}
