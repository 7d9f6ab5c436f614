package timeline

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/graph"
)

// Mode is the focus state of a View.
type Mode string

const (
	Normal  Mode = "normal"
	Focused Mode = "focused"
)

// NodeState is the display state of one annotation node.
type NodeState struct {
	Key    string `json:"key"`
	Dimmed bool   `json:"dimmed"`
}

// BucketState is the display state of one day bucket.
type BucketState struct {
	Day       time.Time   `json:"day"`
	Nodes     []NodeState `json:"nodes"`
	Collapsed bool        `json:"collapsed"`
}

// Snapshot is everything a renderer needs to draw the timeline.
type Snapshot struct {
	Mode         Mode          `json:"mode"`
	Center       string        `json:"center,omitempty"`
	Neighborhood []string      `json:"neighborhood,omitempty"`
	Buckets      []BucketState `json:"buckets"`
	Edges        []graph.Edge  `json:"edges"`
}

// View tracks Normal ⇄ Focused(center) over one graph snapshot. Entering
// focus replaces any previous focus.
type View struct {
	mu      sync.Mutex
	graph   *graph.Graph
	buckets []Bucket
	center  string
	hood    map[string]struct{}
}

// NewView creates a view in Normal mode.
func NewView(g *graph.Graph, buckets []Bucket) *View {
	return &View{graph: g, buckets: buckets}
}

// Reset swaps in a fresh graph after a re-scan. Focus survives when the
// center still exists; otherwise the view returns to Normal.
func (v *View) Reset(g *graph.Graph, buckets []Bucket) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.graph, v.buckets = g, buckets
	if v.center == "" {
		return
	}
	if _, ok := g.Lookup(v.center); !ok {
		v.center, v.hood = "", nil
		return
	}
	v.hood = g.Neighborhood(v.center)
}

// Focus narrows the view to the 1-hop neighbourhood of center (a block ID or
// node key) and returns the neighbourhood.
func (v *View) Focus(center string) (Snapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	a, ok := v.graph.Lookup(center)
	if !ok {
		return Snapshot{}, fmt.Errorf("timeline: focus %s: %w", center, apperr.ErrNotFound)
	}
	v.center = a.Key()
	v.hood = v.graph.Neighborhood(v.center)
	return v.snapshotLocked(), nil
}

// Exit returns to Normal mode, clearing dimming, collapsing and edge filtering.
func (v *View) Exit() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.center, v.hood = "", nil
	return v.snapshotLocked()
}

// Snapshot returns the current display state.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *View) snapshotLocked() Snapshot {
	s := Snapshot{Mode: Normal}
	focused := v.center != ""
	if focused {
		s.Mode, s.Center = Focused, v.center
		for k := range v.hood {
			s.Neighborhood = append(s.Neighborhood, k)
		}
		sort.Strings(s.Neighborhood)
	}
	in := func(k string) bool {
		_, ok := v.hood[k]
		return !focused || ok
	}

	for _, b := range v.buckets {
		bs := BucketState{Day: b.Day, Collapsed: focused}
		for _, a := range b.Annotations {
			k := Key(a)
			ns := NodeState{Key: k, Dimmed: !in(k)}
			if !ns.Dimmed {
				bs.Collapsed = false
			}
			bs.Nodes = append(bs.Nodes, ns)
		}
		s.Buckets = append(s.Buckets, bs)
	}
	for _, e := range v.graph.Edges() {
		if in(e.From) && in(e.To) {
			s.Edges = append(s.Edges, e)
		}
	}
	return s
}

// VisibleEdges returns the edges of the current snapshot.
func (v *View) VisibleEdges() []graph.Edge {
	return v.Snapshot().Edges
}
