package ratelimit

import (
	"fmt"
	"strings"
)

// AccountKey builds the limiter key for an account on a route group.
// An empty key disables throttling for the request.
func AccountKey(accountID uint64, group string) string {
	if accountID == 0 {
		return ""
	}
	group = strings.TrimSpace(group)
	if group == "" {
		return fmt.Sprintf("a:%d", accountID)
	}
	return fmt.Sprintf("a:%d:%s", accountID, group)
}
