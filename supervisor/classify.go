package supervisor

import "strings"

// DefaultCriticalPatterns are error signatures meaning the server speaks a
// protocol the relay cannot decode. Matching is case-insensitive.
var DefaultCriticalPatterns = []string{
	"invalid character",
	"unexpected end of json input",
	"cannot unmarshal",
	"parse error",
	"failed to decode",
	"invalid message",
	"schema validation",
	"unsupported protocol version",
}

// Classifier recognizes critical error signatures.
type Classifier struct {
	patterns []string
}

// NewClassifier builds a classifier from the default patterns plus extra.
func NewClassifier(extra ...string) *Classifier {
	patterns := make([]string, 0, len(DefaultCriticalPatterns)+len(extra))
	for _, p := range append(append([]string{}, DefaultCriticalPatterns...), extra...) {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			patterns = append(patterns, p)
		}
	}
	return &Classifier{patterns: patterns}
}

// IsCritical reports whether err matches a critical signature.
func (c *Classifier) IsCritical(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range c.patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
