package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	// ulid.Monotonic keeps ids minted within the same millisecond
	// lexicographically increasing.
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID string stamped with the current wall clock.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a ULID string whose time component is t.
//
// Orders and transactions are stamped with the bar time that caused them,
// so ids sort in simulated time rather than in wall-clock time.
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()

	u, err := ulid.New(ulid.Timestamp(t.UTC()), mono)
	if err != nil {
		// The monotonic reader only fails on entropy overflow within a
		// single millisecond; fall back to fresh entropy.
		u = ulid.MustNew(ulid.Timestamp(t.UTC()), cryptoRand.Reader)
	}
	return u.String()
}
