package errtrack

import (
	"strings"

	"github.com/agentwatch/agentwatch/pkg/models"
)

type rule struct {
	errorType models.ErrorType
	codes     []string
	phrases   []string
	matchCode func(code string) bool
}

// rules are checked in order; the first match wins
var rules = []rule{
	{errorType: models.ErrorTypeRateLimit, codes: []string{"429"}, phrases: []string{"rate limit"}},
	{errorType: models.ErrorTypeAuth, codes: []string{"401", "403"}, phrases: []string{"unauthorized"}},
	{errorType: models.ErrorTypeInvalidInput, codes: []string{"400", "422"}, phrases: []string{"invalid"}},
	{errorType: models.ErrorTypeServer, matchCode: isServerCode},
	{errorType: models.ErrorTypeTimeout, codes: []string{"408"}, phrases: []string{"timeout"}},
	{errorType: models.ErrorTypeNotFound, codes: []string{"404"}, phrases: []string{"not found"}},
	{errorType: models.ErrorTypeConnection, phrases: []string{"econnrefused", "connection refused"}},
	{errorType: models.ErrorTypeDNS, phrases: []string{"enotfound", "dns"}},
}

// Classify maps an error code and message to the error taxonomy. Message
// matching is case-insensitive. Anything unmatched is an api_error, unless
// both inputs are empty.
func Classify(code, message string) models.ErrorType {
	code = strings.TrimSpace(code)
	msg := strings.ToLower(message)

	if code == "" && strings.TrimSpace(msg) == "" {
		return models.ErrorTypeUnknown
	}

	for _, r := range rules {
		if r.matches(code, msg) {
			return r.errorType
		}
	}
	return models.ErrorTypeAPI
}

func (r rule) matches(code, msg string) bool {
	if code != "" {
		for _, c := range r.codes {
			if code == c {
				return true
			}
		}
		if r.matchCode != nil && r.matchCode(code) {
			return true
		}
	}
	for _, p := range r.phrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func isServerCode(code string) bool {
	return len(code) == 3 && code[0] == '5' && isDigit(code[1]) && isDigit(code[2])
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
