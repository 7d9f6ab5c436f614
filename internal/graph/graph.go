// Package graph resolves annotation references into a directed graph keyed
// by annotation key (block ID, or document-line composite).
package graph

import (
	"strings"

	"github.com/starford/marginalia/internal/models"
)

// LinkResolver maps a wiki-link name to a document path, relative to the
// document the link appears in.
type LinkResolver interface {
	Resolve(name, from string) (string, bool)
}

// Target is a parsed reference of the form document[#^identity].
type Target struct {
	Document string `json:"document"`
	Identity string `json:"identity,omitempty"`
}

// ParseTarget splits a raw link target. Heading fragments ("#Heading") are
// dropped; only block fragments ("#^id") carry an identity.
func ParseTarget(raw string) Target {
	doc, frag, _ := strings.Cut(strings.TrimSpace(raw), "#")
	t := Target{Document: strings.TrimSpace(doc)}
	if id, ok := strings.CutPrefix(strings.TrimSpace(frag), "^"); ok {
		t.Identity = id
	}
	return t
}

// Edge is a resolved reference between two annotation keys.
type Edge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Target string `json:"target"`
}

// Broken is a reference that resolved to no annotation.
type Broken struct {
	From   string `json:"from"`
	Target string `json:"target"`
}

// Graph is an immutable snapshot built from one aggregate scan.
type Graph struct {
	nodes      []models.Annotation
	byKey      map[string]models.Annotation
	byIdentity map[string]models.Annotation
	backlinks  map[string][]models.Annotation
	outgoing   map[string][]string
	edges      []Edge
	broken     []Broken
}

// Build indexes anns and resolves every outgoing link. Targets are matched
// by identity first; a target without a block fragment falls back to the
// first annotation of the resolved document.
func Build(anns []models.Annotation, resolver LinkResolver) *Graph {
	g := &Graph{
		nodes:      anns,
		byKey:      make(map[string]models.Annotation, len(anns)),
		byIdentity: make(map[string]models.Annotation),
		backlinks:  make(map[string][]models.Annotation),
		outgoing:   make(map[string][]string),
	}
	firstInDoc := make(map[string]models.Annotation)
	docIdentity := make(map[string]models.Annotation)
	for _, a := range anns {
		if _, dup := g.byKey[a.Key()]; !dup {
			g.byKey[a.Key()] = a
		}
		if a.HasIdentity() {
			if _, dup := g.byIdentity[a.Identity]; !dup {
				g.byIdentity[a.Identity] = a
			}
			docIdentity[a.Document+"#"+a.Identity] = a
		}
		if _, ok := firstInDoc[a.Document]; !ok {
			firstInDoc[a.Document] = a
		}
	}

	resolve := func(from models.Annotation, raw string) (models.Annotation, bool) {
		t := ParseTarget(raw)
		doc, docOK := "", false
		if resolver != nil {
			doc, docOK = resolver.Resolve(t.Document, from.Document)
		}
		if t.Identity != "" {
			if docOK {
				if a, ok := docIdentity[doc+"#"+t.Identity]; ok {
					return a, true
				}
			}
			a, ok := g.byIdentity[t.Identity]
			return a, ok
		}
		if !docOK {
			return models.Annotation{}, false
		}
		a, ok := firstInDoc[doc]
		return a, ok
	}

	for _, a := range anns {
		from := a.Key()
		seen := make(map[string]struct{})
		for _, raw := range a.OutgoingLinks {
			target, ok := resolve(a, raw)
			if !ok {
				g.broken = append(g.broken, Broken{From: from, Target: raw})
				continue
			}
			to := target.Key()
			if to == from {
				continue
			}
			if _, dup := seen[to]; dup {
				continue
			}
			seen[to] = struct{}{}
			g.edges = append(g.edges, Edge{From: from, To: to, Target: raw})
			g.outgoing[from] = append(g.outgoing[from], to)
			g.backlinks[to] = append(g.backlinks[to], a)
		}
	}
	return g
}

// Nodes returns the annotations in scan order.
func (g *Graph) Nodes() []models.Annotation { return g.nodes }

// Lookup finds an annotation by identity or key.
func (g *Graph) Lookup(key string) (models.Annotation, bool) {
	if a, ok := g.byIdentity[key]; ok {
		return a, true
	}
	a, ok := g.byKey[key]
	return a, ok
}

// ByIdentity returns the annotation carrying identity id.
func (g *Graph) ByIdentity(id string) (models.Annotation, bool) {
	a, ok := g.byIdentity[id]
	return a, ok
}

// Backlinks returns the annotations whose links resolve to key.
func (g *Graph) Backlinks(key string) []models.Annotation {
	return g.backlinks[key]
}

// Outgoing returns the keys a's links resolve to.
func (g *Graph) Outgoing(a models.Annotation) []string {
	return g.outgoing[a.Key()]
}

// Edges returns every resolved reference in scan order.
func (g *Graph) Edges() []Edge { return g.edges }

// Broken returns every unresolved reference in scan order.
func (g *Graph) Broken() []Broken { return g.broken }

// Identities returns the set of identities present in the graph.
func (g *Graph) Identities() map[string]struct{} {
	out := make(map[string]struct{}, len(g.byIdentity))
	for id := range g.byIdentity {
		out[id] = struct{}{}
	}
	return out
}

// Neighborhood returns key together with every node one edge away from it,
// in either direction.
func (g *Graph) Neighborhood(key string) map[string]struct{} {
	out := map[string]struct{}{key: {}}
	for _, to := range g.outgoing[key] {
		out[to] = struct{}{}
	}
	for _, a := range g.backlinks[key] {
		out[a.Key()] = struct{}{}
	}
	return out
}
