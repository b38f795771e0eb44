package gateway

import (
	"math"
	"strings"

	"github.com/agentrun/agentrun/pkg/models"
)

// estimateFactor converts a whitespace word count into a token estimate.
// Deliberately rough and slightly generous; the admission check only needs to
// stop requests that clearly cannot fit the remaining budget, and the
// reconciler settles real usage afterwards.
const estimateFactor = 1.3

// EstimateTokens predicts the prompt token count of a request as
// ceil(1.3 * total words) across all message contents.
func EstimateTokens(messages []models.ChatMessage) int64 {
	words := 0
	for _, m := range messages {
		words += len(strings.Fields(m.Content))
	}
	return int64(math.Ceil(estimateFactor * float64(words)))
}
