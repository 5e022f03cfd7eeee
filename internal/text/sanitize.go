package text

import "strings"

// fillerPhrases are recognizer artifacts for the end-of-recording cue.
var fillerPhrases = map[string]struct{}{
	"录音结束": {},
	"结束录音": {},
	"停止录音": {},
}

var quotePairs = [][2]string{
	{`"`, `"`},
	{"“", "”"},
}

// Sanitize trims a transcript, strips enclosing quotes and blanks out filler phrases.
// Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	for {
		inner, ok := unquote(s)
		if !ok {
			break
		}
		s = strings.TrimSpace(inner)
	}
	if _, ok := fillerPhrases[s]; ok {
		return ""
	}
	return s
}

func unquote(s string) (string, bool) {
	for _, pair := range quotePairs {
		prefix, suffix := pair[0], pair[1]
		if len(s) >= len(prefix)+len(suffix) && strings.HasPrefix(s, prefix) && strings.HasSuffix(s, suffix) {
			return s[len(prefix) : len(s)-len(suffix)], true
		}
	}
	return s, false
}
