package phvl

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand"
	"sync/atomic"
	"time"
)

// volumeSeedCounter disambiguates volumes opened back-to-back within the
// same nanosecond, the same role lib/db/util's GenerateSeed gives a
// goroutine id.
var volumeSeedCounter atomic.Uint64

// newVolumeSeed mirrors the spirit of the teacher's GenerateSeed: prefer a
// crypto/rand draw, fall back to the wall clock if that's unavailable, and
// always fold in a monotonic counter so concurrently-opened volumes never
// collide.
func newVolumeSeed() int64 {
	counter := volumeSeedCounter.Add(1)
	var seed int64
	n, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err == nil {
		seed = n.Int64()
	} else {
		seed = time.Now().UnixNano()
	}
	return seed ^ int64(counter)<<17
}

// heightPRNG draws skip-list node heights per spec §4.4: 1 plus the count
// of trailing one-bits of a uniform 32-bit draw, capped at hMax.
type heightPRNG struct {
	r *mrand.Rand
}

func newHeightPRNG(seed int64) *heightPRNG {
	return &heightPRNG{r: mrand.New(mrand.NewSource(seed))}
}

func (p *heightPRNG) nextHeight() int {
	x := p.r.Uint32()
	h := 1
	for x&1 == 1 && h < hMax {
		h++
		x >>= 1
	}
	return h
}
