package observability

import (
	"strings"
	"unicode"
)

const (
	maxRouteRunes     = 180
	maxMethodRunes    = 10
	maxPrincipalRunes = 64
	maxRemoteIPRunes  = 64
	maxUserAgentRunes = 256
)

// logSafe drops control characters, newlines included, and keeps at most limit runes.
func logSafe(value string, limit int) string {
	var b strings.Builder
	kept := 0
	for _, r := range value {
		if kept == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		kept++
	}
	return b.String()
}

func logRoute(route string) string {
	if route == "" {
		return "/"
	}
	return logSafe(route, maxRouteRunes)
}

func logMethod(method string) string {
	return logSafe(strings.ToUpper(method), maxMethodRunes)
}

// logPrincipal bounds principal keys; session keys arrive hashed.
func logPrincipal(key string) string {
	return logSafe(key, maxPrincipalRunes)
}
