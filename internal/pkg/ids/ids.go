// Package ids generates prefixed, time-sortable identifiers for stored
// records (tasks, missions, campaigns, reports).
package ids

import (
	"crypto/rand"
	"strings"
	"time"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Record prefixes.
const (
	Task     = "tsk"
	Mission  = "msn"
	Campaign = "cmp"
	Report   = "rpt"
	Worker   = "wrk"
)

const (
	timestampLen = 6
	randomLen    = 18
)

// EncodeTimestamp encodes Unix seconds as a fixed-width base62 string, so ids
// created later sort after earlier ones.
func EncodeTimestamp(seconds int64) string {
	out := make([]byte, timestampLen)
	for i := timestampLen - 1; i >= 0; i-- {
		out[i] = alphabet[seconds%62]
		seconds /= 62
	}
	return string(out)
}

// random returns n base62 characters from crypto/rand. Values >= 62 drawn
// from 6-bit windows are rejected to keep the distribution uniform.
func random(n int) string {
	var b strings.Builder
	buf := make([]byte, n+8)
	for b.Len() < n {
		if _, err := rand.Read(buf); err != nil {
			panic("ids: read random bytes: " + err.Error())
		}
		for _, x := range buf {
			v := x & 0x3f
			if v < 62 {
				b.WriteByte(alphabet[v])
				if b.Len() == n {
					break
				}
			}
		}
	}
	return b.String()
}

// New returns "<prefix>_<timestamp><random>", e.g. "tsk_1rK5iqAb3cD5eF7gH9iJ1k".
func New(prefix string) string {
	return NewAt(prefix, time.Now())
}

// NewAt is New with an explicit creation time.
func NewAt(prefix string, at time.Time) string {
	return prefix + "_" + EncodeTimestamp(at.Unix()) + random(randomLen)
}
