package combat

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// lockedRoller is a Roller safe for use from the sweeper and command handlers at once.
type lockedRoller struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRoller returns a goroutine-safe Roller seeded from crypto/rand.
func NewRoller() Roller {
	var b [16]byte
	if _, err := crand.Read(b[:]); err != nil {
		// fall back to the runtime-seeded global source
		return globalRoller{}
	}
	src := rand.NewPCG(binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:]))
	return &lockedRoller{r: rand.New(src)}
}

func (l *lockedRoller) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRoller) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

type globalRoller struct{}

func (globalRoller) Float64() float64 { return rand.Float64() }

func (globalRoller) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	return rand.IntN(n)
}
