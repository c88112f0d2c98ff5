// Package billref generates bill identifiers: opaque row IDs, human-facing
// reference numbers, and machine-facing barcodes. References and barcodes are
// derived from the commit instant; a mutex-guarded generator bumps the instant
// forward when two commits land inside the same microsecond, so identifiers
// stay unique under normal clock monotonicity.
package billref

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// NewID returns an opaque identifier with the given prefix.
func NewID(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

type Generator struct {
	mu        sync.Mutex
	lastMicro int64
}

func NewGenerator() *Generator {
	return &Generator{}
}

// Next reserves a unique commit instant and returns the reference number and
// barcode derived from it. The reserved instant never moves backwards, so
// consecutive references sort in commit order.
func (g *Generator) Next(now time.Time) (reference string, barcode string) {
	micro := now.UTC().UnixMicro()

	g.mu.Lock()
	if micro <= g.lastMicro {
		micro = g.lastMicro + 1
	}
	g.lastMicro = micro
	g.mu.Unlock()

	instant := time.UnixMicro(micro).UTC()
	reference = fmt.Sprintf("INV-%s-%06d", instant.Format("20060102-150405"), micro%1_000_000)
	barcode = strconv.FormatInt(micro, 10)
	return reference, barcode
}
