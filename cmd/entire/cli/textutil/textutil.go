// Package textutil holds small string-cleanup helpers shared by the
// transcript parser and the commit-message strategies.
package textutil

import "regexp"

// ideContextTagRegex matches IDE-injected context blocks such as
// <ide_opened_file>...</ide_opened_file> that some editors prepend to the
// user's actual prompt text.
var ideContextTagRegex = regexp.MustCompile(`(?s)<ide_[a-z_]+>.*?</ide_[a-z_]+>\s*`)

// StripIDEContextTags removes IDE-injected context tags from s and trims the
// surrounding whitespace left behind.
func StripIDEContextTags(s string) string {
	return ideContextTagRegex.ReplaceAllString(s, "")
}
