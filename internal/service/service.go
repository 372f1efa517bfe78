// Package service implements the ClawBuds behaviours on top of storage:
// identity, friendships, circles and groups, message fan-out, the
// relationship and trust engines, pearls, heartbeats, reflexes, and
// briefings. Services own every invariant; handlers only translate HTTP.
//
// Services that react to bus events expose Start(bus) returning an
// unsubscribe func. Publication is synchronous, so by the time a mutating
// call returns, every subscriber has run.
package service

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func containsString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

// dedupeStrings keeps first occurrences, preserving order.
func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
