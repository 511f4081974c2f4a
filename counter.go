package posenet

// FramePeriod Frame counter wraps to zero after this many ticks
const FramePeriod = 300

// FrameCounter Counts ticks modulo FramePeriod
type FrameCounter struct {
	n int
}

// Advance moves to the next tick
func (c *FrameCounter) Advance() {
	c.n = (c.n + 1) % FramePeriod
}

// Value returns the current position in [0, FramePeriod)
func (c *FrameCounter) Value() int {
	return c.n
}
