package storage

import (
	"path"
	"strings"
)

// LinkName returns the wiki-link name of a document: its base name without
// the .md extension.
func LinkName(p string) string {
	return strings.TrimSuffix(path.Base(p), ".md")
}

// ResolveLink resolves a wiki-link target name to one of docs. An empty name
// refers to from itself. A name containing a slash must match a path suffix;
// otherwise the base name is compared case-insensitively. Ties prefer the
// document in the same folder as from, then the shortest path.
func ResolveLink(docs []string, name, from string) (string, bool) {
	name = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(name), ".md"))
	if name == "" {
		return from, from != ""
	}
	want := name + ".md"

	best := ""
	for _, d := range docs {
		if d == want {
			return d, true
		}
		var match bool
		if strings.Contains(name, "/") {
			match = strings.HasSuffix(strings.ToLower(d), "/"+strings.ToLower(want))
		} else {
			match = strings.EqualFold(path.Base(d), want)
		}
		if !match {
			continue
		}
		if best == "" || betterCandidate(d, best, from) {
			best = d
		}
	}
	return best, best != ""
}

func betterCandidate(candidate, current, from string) bool {
	dir := path.Dir(from)
	cSame, bSame := path.Dir(candidate) == dir, path.Dir(current) == dir
	if cSame != bSame {
		return cSame
	}
	if len(candidate) != len(current) {
		return len(candidate) < len(current)
	}
	return candidate < current
}

// Resolver binds ResolveLink to a fixed document list.
type Resolver struct {
	docs []string
}

// NewResolver creates a resolver over the given document paths.
func NewResolver(docs []string) *Resolver {
	return &Resolver{docs: docs}
}

// Resolve implements resolveLinkTarget(name, contextDocument).
func (r *Resolver) Resolve(name, from string) (string, bool) {
	return ResolveLink(r.docs, name, from)
}
