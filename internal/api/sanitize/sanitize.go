package sanitize

import (
	"html"
	"strings"
	"sync"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// Text reduces operator-entered free text, such as rule descriptions and
// deduction reasons, to plain text and cuts it to maxRunes when positive.
func Text(input string, maxRunes int) string {
	value := strings.TrimSpace(input)
	if value == "" {
		return ""
	}

	value = html.UnescapeString(getStrictPolicy().Sanitize(value))
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' {
			return -1
		}
		return r
	}, value)
	value = strings.TrimSpace(value)

	if maxRunes > 0 {
		runes := []rune(value)
		if len(runes) > maxRunes {
			value = strings.TrimSpace(string(runes[:maxRunes]))
		}
	}
	return value
}

func TextPtr(input *string, maxRunes int) *string {
	if input == nil {
		return nil
	}
	value := Text(*input, maxRunes)
	return &value
}

func getStrictPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}
