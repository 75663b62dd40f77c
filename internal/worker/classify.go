package worker

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Class is the caching strategy assigned to a request path.
type Class int

const (
	// ClassStatic requests are served stale-while-revalidate from the
	// static store.
	ClassStatic Class = iota
	// ClassAPI requests are served network-first with the dynamic store as
	// offline fallback.
	ClassAPI
	// ClassBypass requests skip the cache layer entirely.
	ClassBypass
)

func (c Class) String() string {
	switch c {
	case ClassAPI:
		return "api"
	case ClassBypass:
		return "bypass"
	default:
		return "static"
	}
}

// Classifier assigns a Class to request paths. Classification looks only at
// the path, never at headers or payloads.
type Classifier struct {
	apiPrefix string
	bypass    []string
}

// NewClassifier creates a Classifier. Paths starting with apiPrefix are API;
// bypass holds doublestar globs checked before the prefix rule.
func NewClassifier(apiPrefix string, bypass []string) *Classifier {
	return &Classifier{
		apiPrefix: apiPrefix,
		bypass:    append([]string(nil), bypass...),
	}
}

// Classify returns the Class for a request path. Pure: same path, same class.
func (c *Classifier) Classify(path string) Class {
	for _, pattern := range c.bypass {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return ClassBypass
		}
	}
	if c.apiPrefix != "" && strings.HasPrefix(path, c.apiPrefix) {
		return ClassAPI
	}
	return ClassStatic
}
