// Package contextwindow keeps conversation history inside a token
// budget before it is sent to the model provider.
//
// Priority order, highest first: the system instruction (reserved out
// of the budget, never truncated), the anchor (first message, which
// usually carries the task framing), then the most recent messages.
// Everything in the middle is dropped first, because mid-conversation
// detail is the least likely to still matter once newer turns have
// superseded it.
package contextwindow

import (
	"slices"

	"github.com/backstage-ai/backstage-agent/internal/domain"
	"github.com/backstage-ai/backstage-agent/internal/observability"
)

// MinRecentMessages is the hard floor: the last two messages are kept
// even when doing so exceeds the budget, since losing active
// turn-taking context is worse than a slight overrun.
const MinRecentMessages = 2

// perMessageOverhead accounts for role tags and framing the provider
// adds around each message.
const perMessageOverhead = 4

// EstimateTokens approximates the token count of text. Uses the ~4
// chars/token heuristic with a 20% safety margin, rounded up. Not
// billing-accurate; only used for budget math.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	// ceil(len/4 * 1.2) == ceil(len*3/10)
	return (len(text)*3 + 9) / 10
}

// EstimateContextTokens sums per-message estimates plus the fixed
// per-message overhead.
func EstimateContextTokens(messages []*domain.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Text) + perMessageOverhead
	}
	return total
}

// Truncate returns an ordered subsequence of history that fits
// tokenBudget after reserving room for systemText. The result always
// contains at least min(len(history), MinRecentMessages) messages; if
// even the floor overruns the budget, Truncate logs a warning and
// returns the floor anyway.
func Truncate(history []*domain.Message, tokenBudget int, systemText string) []*domain.Message {
	reserved := EstimateTokens(systemText)
	kept := slices.Clone(history)

	for EstimateContextTokens(kept)+reserved > tokenBudget && len(kept) > MinRecentMessages {
		if len(kept) > MinRecentMessages+1 {
			// Anchor plus at least one middle message remain: shrink
			// the middle, oldest-first, keeping the anchor in place.
			kept = append(kept[:1], kept[2:]...)
		} else {
			// Only anchor + floor left. Survival mode: the anchor is
			// sacrificed so the most recent turns survive.
			kept = kept[1:]
		}
	}

	if EstimateContextTokens(kept)+reserved > tokenBudget {
		observability.Logger().Warn("context exceeds budget even at minimum size",
			"kept_messages", len(kept),
			"budget", tokenBudget,
			"estimated", EstimateContextTokens(kept)+reserved,
		)
	}

	return kept
}
