package session

import (
	"strings"

	"helpdesk-chat-client/internal/types"
)

// ShouldOfferSchedule decides whether a scheduling offer may be surfaced.
// Both gates are required: the backend must have offered a schedule AND the
// user's own wording must contain one of the trigger phrases. A schedule the
// user never asked for is silently discarded.
func ShouldOfferSchedule(query string, resp *types.NormalizedResponse, phrases []string) bool {
	if resp == nil || resp.Schedule == nil {
		return false
	}
	q := strings.ToLower(query)
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(q, p) {
			return true
		}
	}
	return false
}
