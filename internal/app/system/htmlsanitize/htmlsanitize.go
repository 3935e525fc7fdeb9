// Package htmlsanitize strips markup from user-supplied profile text.
// It uses bluemonday's strict policy so stored names are always plain text.
package htmlsanitize

import (
	"html"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// StripTags removes every element (and the content of script/style
// elements) from s. Entities produced by the sanitizer are decoded again so
// a name like O'Brien is stored as typed.
func StripTags(s string) string {
	if s == "" {
		return ""
	}
	return html.UnescapeString(getPolicy().Sanitize(s))
}
