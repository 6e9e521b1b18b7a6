package ratelimit

// Vote combines the three independent protection signals. Any single signal
// alone is tolerated as a possible false positive; two or more agreeing
// denies the request.
func Vote(ipBlocked, rateLimited, intrusionFlagged bool) bool {
	votes := 0
	if ipBlocked {
		votes++
	}
	if rateLimited {
		votes++
	}
	if intrusionFlagged {
		votes++
	}
	return votes >= 2
}
