package core

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"
	"strings"
)

// DeriveSeed maps a base seed and a stream name onto two independent 64-bit
// words suitable for a PCG source. Equal inputs always give equal seeds.
func DeriveSeed(base int64, parts ...string) (uint64, uint64) {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(base, 10))
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(p)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return binary.LittleEndian.Uint64(sum[0:8]), binary.LittleEndian.Uint64(sum[8:16])
}
