package reconcile

import (
	"regexp"
	"sort"
	"strings"
)

// Plan is the per-key decision for one collection. Every key of
// local ∪ remote lands in exactly one of the three lists.
type Plan struct {
	Push      []string
	Pull      []string
	Unchanged []string
}

// Total is the number of classified keys.
func (p Plan) Total() int {
	return len(p.Push) + len(p.Pull) + len(p.Unchanged)
}

var timestampShape = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[T ](\d{2}:\d{2}:\d{2})(\.\d+)?(Z|[+-]00(?::?00)?)?$`)

// normalizeTimestamp makes both sides compare lexically: a space separator
// becomes 'T', a UTC zone suffix is dropped and trailing zeros of the
// fraction are trimmed, so sub-second writes still order. Values of any
// other shape, including non-UTC offsets, are returned unchanged and
// compare raw.
func normalizeTimestamp(ts string) string {
	m := timestampShape.FindStringSubmatch(ts)
	if m == nil {
		return ts
	}
	frac := strings.TrimRight(m[3], "0")
	if frac == "." {
		frac = ""
	}
	return m[1] + "T" + m[2] + frac
}

// Classify decides the direction of every key. local and remote map a key
// to its timestamp; presence in the map means the row exists on that side.
//
//   - key only remote: pull
//   - remote timestamp empty: push
//   - local timestamp empty: pull
//   - otherwise the lexically greater normalized timestamp wins; a tie is
//     left alone
//
// Lists are sorted.
func Classify(local, remote map[string]string) Plan {
	var plan Plan

	keys := make([]string, 0, len(local)+len(remote))
	for k := range local {
		keys = append(keys, k)
	}
	for k := range remote {
		if _, ok := local[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		localTS, inLocal := local[k]
		remoteTS := remote[k]

		switch {
		case !inLocal:
			plan.Pull = append(plan.Pull, k)
		case remoteTS == "":
			plan.Push = append(plan.Push, k)
		case localTS == "":
			plan.Pull = append(plan.Pull, k)
		default:
			l, r := normalizeTimestamp(localTS), normalizeTimestamp(remoteTS)
			switch {
			case l > r:
				plan.Push = append(plan.Push, k)
			case r > l:
				plan.Pull = append(plan.Pull, k)
			default:
				plan.Unchanged = append(plan.Unchanged, k)
			}
		}
	}
	return plan
}
