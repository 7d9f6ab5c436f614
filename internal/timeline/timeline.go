// Package timeline groups annotations into creation-day buckets, computes
// connector geometry between rendered nodes and tracks focus mode.
package timeline

import (
	"sort"
	"time"

	"github.com/starford/marginalia/internal/models"
)

// Bucket holds the annotations of documents created on one day.
type Bucket struct {
	Day         time.Time           `json:"day"`
	Annotations []models.Annotation `json:"annotations"`
}

// Key is the DOM-stable key of a rendered annotation.
func Key(a models.Annotation) string { return a.Key() }

// Day truncates t to midnight in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// GroupByDay buckets anns by the creation day of their document, oldest
// first. Annotations keep their scan order within a bucket. Documents with
// no known creation time fall into the zero-day bucket.
func GroupByDay(anns []models.Annotation, created map[string]time.Time, loc *time.Location) []Bucket {
	if loc == nil {
		loc = time.Local
	}
	index := make(map[time.Time]int)
	var buckets []Bucket
	for _, a := range anns {
		var day time.Time
		if c, ok := created[a.Document]; ok && !c.IsZero() {
			day = Day(c, loc)
		}
		i, ok := index[day]
		if !ok {
			i = len(buckets)
			index[day] = i
			buckets = append(buckets, Bucket{Day: day})
		}
		buckets[i].Annotations = append(buckets[i].Annotations, a)
	}
	sort.SliceStable(buckets, func(i, j int) bool { return buckets[i].Day.Before(buckets[j].Day) })
	return buckets
}
