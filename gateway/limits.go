package gateway

import (
	"strings"

	"quoteflow/logger"
)

// detectLimit inspects a Bybit error message and determines whether it
// signals a rate limit exceed or an IP ban. Bybit reports bans as "IP rate
// limit", so the ban check runs first.
func detectLimit(msg string) (rateLimit bool, ipBan bool) {
	lowerMsg := strings.ToLower(msg)
	ipBan = strings.Contains(lowerMsg, "ip rate limit") || (strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban"))
	rateLimit = !ipBan && (strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "too many visits"))
	return
}

// reportLimitFromMessage records rate limit and IP ban metrics when the
// provided exchange message matches known patterns.
func reportLimitFromMessage(log *logger.Log, symbol, operation, msg string) {
	rateLimit, ipBan := detectLimit(msg)
	if !rateLimit && !ipBan {
		return
	}

	l := log.WithComponent("order_gateway")
	fields := logger.Fields{
		"symbol":    symbol,
		"operation": operation,
	}
	if ipBan {
		l.LogMetric("order_gateway", "ip_ban", int64(1), "counter", fields)
		l.WithFields(fields).Error("ip banned")
		return
	}
	l.LogMetric("order_gateway", "rate_limit_exceeded", int64(1), "counter", fields)
	l.WithFields(fields).Warn("rate limit exceeded")
}
