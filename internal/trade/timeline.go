package trade

import (
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/zeebo/blake3"

	"github.com/vanshika/swapguard/internal/domain"
)

// timelineKey separates timeline digests from any other BLAKE3 use.
// NewKeyed requires exactly 32 bytes.
var timelineKey = [32]byte{'s', 'w', 'a', 'p', 'g', 'u', 'a', 'r', 'd', '/', 't', 'i', 'm', 'e', 'l', 'i', 'n', 'e', '/', 'v', '1'}

// appendEntry adds an entry whose digest covers the previous digest, so
// rewriting or reordering history breaks the chain.
func appendEntry(t *domain.Trade, step domain.Step, actor domain.Party, at time.Time, data map[string]string) {
	prev := ""
	if n := len(t.Security.Timeline); n > 0 {
		prev = t.Security.Timeline[n-1].Digest
	}
	entry := domain.TimelineEntry{
		Step:        step,
		ActingParty: actor,
		Timestamp:   at.UTC(),
		Data:        data,
	}
	entry.Digest = entryDigest(prev, entry)
	t.Security.Timeline = append(t.Security.Timeline, entry)
}

func entryDigest(prev string, e domain.TimelineEntry) string {
	hasher, err := blake3.NewKeyed(timelineKey[:])
	if err != nil {
		panic("trade: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	field := func(s string) {
		_, _ = hasher.Write([]byte(s))
		_, _ = hasher.Write([]byte{0})
	}
	field(prev)
	field(string(e.Step))
	field(string(e.ActingParty))
	field(e.Timestamp.UTC().Format(time.RFC3339Nano))

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		field(k)
		field(e.Data[k])
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// VerifyTimeline checks the digest chain and that timestamps never go
// backwards. It returns the first broken entry.
func VerifyTimeline(entries []domain.TimelineEntry) error {
	prev := ""
	var last time.Time
	for i, e := range entries {
		if e.Timestamp.Before(last) {
			return fmt.Errorf("timeline entry %d (%s) is out of order", i, e.Step)
		}
		if want := entryDigest(prev, e); e.Digest != want {
			return fmt.Errorf("timeline entry %d (%s) digest mismatch", i, e.Step)
		}
		prev = e.Digest
		last = e.Timestamp
	}
	return nil
}
