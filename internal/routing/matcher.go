// Package routing decides which registered clients receive a relayed line
// or attachment.
package routing

import (
	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/registry"
	"github.com/samber/lo"
)

// Normalize strips trailing punctuation from every token and returns the
// distinct non-empty results.
func Normalize(tokens []string) []string {
	return lo.Uniq(lo.Compact(lo.Map(tokens, func(tok string, _ int) string {
		return protocol.StripPunctuation(tok)
	})))
}

// Match returns, in registry order, every registration other than sender
// whose subscriptions contain at least one normalized token. A recipient
// appears once no matter how many of its terms match.
func Match[H comparable](regs []registry.Registration[H], sender string, tokens []string) []registry.Registration[H] {
	wanted := lo.Keyify(Normalize(tokens))
	if len(wanted) == 0 {
		return nil
	}

	return lo.Filter(regs, func(reg registry.Registration[H], _ int) bool {
		if reg.Identity == sender {
			return false
		}
		return lo.SomeBy(reg.Subscriptions, func(term string) bool {
			_, ok := wanted[term]
			return ok
		})
	})
}
