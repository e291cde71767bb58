package lineage

import "time"

// Clock abstracts time.Now so sagas and sequencers are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock uses the real time in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Testing only.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }
