package merchant

import (
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// containmentFloor is the minimum similarity when every token of the shorter
// name appears in the longer one ("starbucks" vs "starbucks reserve").
const containmentFloor = 0.9

var jaroWinkler = func() *metrics.JaroWinkler {
	jw := metrics.NewJaroWinkler()
	jw.CaseSensitive = false
	return jw
}()

// Similarity compares two canonical merchant names in [0, 1]. Empty names
// score 0 so a missing merchant is never treated as a match.
func Similarity(a, b string) float64 {
	ka, kb := Key(a), Key(b)
	if ka == "" || kb == "" {
		return 0
	}
	if ka == kb {
		return 1
	}

	score := strutil.Similarity(ka, kb, jaroWinkler)
	if tokensContained(ka, kb) && score < containmentFloor {
		score = containmentFloor
	}
	return score
}

func tokensContained(a, b string) bool {
	short, long := strings.Fields(a), strings.Fields(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	set := make(map[string]struct{}, len(long))
	for _, t := range long {
		set[t] = struct{}{}
	}
	for _, t := range short {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}
