package conn

import "time"

// backoff yields the delay before each reconnect attempt: initial, doubling,
// capped at max, refusing once the attempt ceiling is reached.
type backoff struct {
	delay   time.Duration
	max     time.Duration
	attempt int
	ceiling int
}

func newBackoff(initial, max time.Duration, ceiling int) *backoff {
	return &backoff{delay: initial, max: max, ceiling: ceiling}
}

func (b *backoff) next() (time.Duration, bool) {
	if b.attempt >= b.ceiling {
		return 0, false
	}
	b.attempt++
	d := b.delay
	b.delay *= 2
	if b.delay > b.max {
		b.delay = b.max
	}
	return d, true
}
