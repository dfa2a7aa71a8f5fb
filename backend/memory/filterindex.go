package memory

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/engramdb/engram/backend"
	"github.com/engramdb/engram/record"
)

// filterIndex is a Roaring Bitmap inverted index over identity, lane, tags
// and state. Rows are dense uint32 identifiers assigned at persist time.
// Callers must hold the store lock.
type filterIndex struct {
	identity map[string]*roaring.Bitmap
	lane     map[string]*roaring.Bitmap
	tag      map[string]*roaring.Bitmap
	state    map[record.State]*roaring.Bitmap
	all      *roaring.Bitmap
}

func newFilterIndex() *filterIndex {
	return &filterIndex{
		identity: make(map[string]*roaring.Bitmap),
		lane:     make(map[string]*roaring.Bitmap),
		tag:      make(map[string]*roaring.Bitmap),
		state:    make(map[record.State]*roaring.Bitmap),
		all:      roaring.New(),
	}
}

func getOrCreate[K comparable](m map[K]*roaring.Bitmap, k K) *roaring.Bitmap {
	bm, ok := m[k]
	if !ok {
		bm = roaring.New()
		m[k] = bm
	}
	return bm
}

// add indexes a searchable (active or archived) record at row.
func (fi *filterIndex) add(row uint32, rec *record.Record) {
	fi.all.Add(row)
	getOrCreate(fi.identity, rec.Meta.Identity).Add(row)
	getOrCreate(fi.lane, rec.Meta.Lane).Add(row)
	for _, t := range rec.Meta.Tags {
		getOrCreate(fi.tag, t).Add(row)
	}
	getOrCreate(fi.state, rec.State).Add(row)
}

// remove drops the row from every posting list.
func (fi *filterIndex) remove(row uint32, rec *record.Record) {
	fi.all.Remove(row)
	if bm, ok := fi.identity[rec.Meta.Identity]; ok {
		bm.Remove(row)
	}
	if bm, ok := fi.lane[rec.Meta.Lane]; ok {
		bm.Remove(row)
	}
	for _, t := range rec.Meta.Tags {
		if bm, ok := fi.tag[t]; ok {
			bm.Remove(row)
		}
	}
	if bm, ok := fi.state[rec.State]; ok {
		bm.Remove(row)
	}
}

// candidates intersects the posting lists selected by f. The result may be
// mutated by the caller.
func (fi *filterIndex) candidates(f *backend.Filter) *roaring.Bitmap {
	states := f.EffectiveStates()
	out := roaring.New()
	for _, s := range states {
		if bm, ok := fi.state[s]; ok {
			out.Or(bm)
		}
	}

	if f == nil {
		return out
	}
	if f.Identity != "" {
		bm, ok := fi.identity[f.Identity]
		if !ok {
			return roaring.New()
		}
		out.And(bm)
	}
	if f.Lane != "" {
		bm, ok := fi.lane[f.Lane]
		if !ok {
			return roaring.New()
		}
		out.And(bm)
	}
	for _, t := range f.Tags {
		bm, ok := fi.tag[t]
		if !ok {
			return roaring.New()
		}
		out.And(bm)
	}
	return out
}
