package errtrack

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentwatch/agentwatch/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected models.ErrorType
	}{
		{name: "both empty", expected: models.ErrorTypeUnknown},
		{name: "whitespace only", code: " ", message: "  ", expected: models.ErrorTypeUnknown},
		{name: "429", code: "429", expected: models.ErrorTypeRateLimit},
		{name: "rate limit message", message: "Rate Limit exceeded", expected: models.ErrorTypeRateLimit},
		{name: "401", code: "401", expected: models.ErrorTypeAuth},
		{name: "403", code: "403", expected: models.ErrorTypeAuth},
		{name: "unauthorized message", message: "UNAUTHORIZED", expected: models.ErrorTypeAuth},
		{name: "400", code: "400", expected: models.ErrorTypeInvalidInput},
		{name: "422", code: "422", expected: models.ErrorTypeInvalidInput},
		{name: "invalid message", message: "invalid model name", expected: models.ErrorTypeInvalidInput},
		{name: "500", code: "500", expected: models.ErrorTypeServer},
		{name: "503", code: "503", expected: models.ErrorTypeServer},
		{name: "408", code: "408", expected: models.ErrorTypeTimeout},
		{name: "timeout message", message: "upstream Timeout", expected: models.ErrorTypeTimeout},
		{name: "404", code: "404", expected: models.ErrorTypeNotFound},
		{name: "not found message", message: "model Not Found", expected: models.ErrorTypeNotFound},
		{name: "econnrefused", message: "connect ECONNREFUSED 127.0.0.1:18789", expected: models.ErrorTypeConnection},
		{name: "connection refused", message: "dial tcp: connection refused", expected: models.ErrorTypeConnection},
		{name: "enotfound", message: "getaddrinfo ENOTFOUND gateway", expected: models.ErrorTypeDNS},
		{name: "dns", message: "DNS lookup failed", expected: models.ErrorTypeDNS},
		{name: "unmatched", code: "418", message: "teapot", expected: models.ErrorTypeAPI},
		{name: "code only unmatched", code: "302", expected: models.ErrorTypeAPI},
		{name: "5xx-looking text is not a server code", code: "5xx", expected: models.ErrorTypeAPI},

		// precedence
		{name: "429 beats message", code: "429", message: "unauthorized invalid timeout", expected: models.ErrorTypeRateLimit},
		{name: "rate limit message beats auth code", code: "401", message: "rate limit", expected: models.ErrorTypeRateLimit},
		{name: "invalid beats server code", code: "500", message: "invalid json", expected: models.ErrorTypeInvalidInput},
		{name: "server code beats timeout message", code: "504", message: "gateway timeout", expected: models.ErrorTypeServer},
		{name: "timeout beats connection", message: "timeout after connection refused", expected: models.ErrorTypeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.code, tt.message))
		})
	}
}

func TestClassify_Total(t *testing.T) {
	known := make(map[models.ErrorType]bool)
	for _, et := range models.AllErrorTypes {
		known[et] = true
	}

	codes := []string{"", "0", "200", "400", "429", "500", "599", "600", "abc", "-1", "4291"}
	messages := []string{"", "x", "rate limit", "DNS", "not found", "\x00\xff", "timeout"}

	for _, c := range codes {
		for _, m := range messages {
			got := Classify(c, m)
			assert.True(t, known[got], "Classify(%q, %q) = %q is not in the taxonomy", c, m, got)
			if c == "429" {
				assert.Equal(t, models.ErrorTypeRateLimit, got)
			}
		}
	}
}
