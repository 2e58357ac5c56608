// Package profile exports the buddy allocator's per-order free-block
// histograms and the slab allocator's cache counters as a pprof
// profile.proto sample (SPEC_FULL.md §2 domain stack: "the buddy/slab
// allocators' order histograms and cache stats ... are exported as a
// profile.proto *profile.Profile sample, exposed through the VFS as the
// device the teacher already reserves for it (defs.D_PROF)"). The teacher
// declares github.com/google/pprof in its go.mod but never imports it (its
// compiler-hacking tooling never got that far); this package is the first
// real call site.
package profile

import (
	"io"

	"github.com/google/pprof/profile"

	"mentos/internal/config"
	"mentos/pkg/mem"
	"mentos/pkg/mem/pmm"
	"mentos/pkg/mem/pmm/buddy"
	"mentos/pkg/mem/slab"
)

const (
	unitBlocks = "blocks"
	unitBytes  = "bytes"
)

// idAllocator hands out the small sequential IDs profile.proto requires for
// functions and locations.
type idAllocator struct{ next uint64 }

func (a *idAllocator) next1() uint64 { a.next++; return a.next }

// funcLocation returns a single-frame Location labeled name, creating the
// backing Function on first use via fns.
func funcLocation(ids *idAllocator, fns map[string]*profile.Function, locs *[]*profile.Location, name string) *profile.Location {
	fn, ok := fns[name]
	if !ok {
		fn = &profile.Function{ID: ids.next1(), Name: name, SystemName: name}
		fns[name] = fn
	}
	loc := &profile.Location{ID: ids.next1(), Line: []profile.Line{{Function: fn}}}
	*locs = append(*locs, loc)
	return loc
}

// BuildSnapshot assembles a *profile.Profile describing every zone's buddy
// free-list histogram (spec.md §4.B `get_zone_buddy_system_status`) and
// every registered slab cache's total/free counters (spec.md §4.C).
// zones lists the zone kinds to report (ordinarily pmm.DMA, pmm.KERNEL,
// pmm.HIGHUSER); caches lists the live caches to report (ordinarily every
// cache returned by slab.Create, including an Allocator's internal kmalloc
// buckets).
func BuildSnapshot(mm *pmm.Memory, zones []pmm.ZoneKind, caches []*slab.Cache) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "free_blocks", Unit: unitBlocks},
			{Type: "bytes", Unit: unitBytes},
			{Type: "cached_bytes", Unit: unitBytes},
		},
		PeriodType: &profile.ValueType{Type: "snapshot", Unit: unitBlocks},
		Period:     1,
	}

	ids := &idAllocator{}
	fns := make(map[string]*profile.Function)
	var locs []*profile.Location

	for _, z := range zones {
		stats := mm.Stats(z)
		loc := funcLocation(ids, fns, &locs, "zone:"+z.String())
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{0, stats.FreeBytes, buddy.GetZoneCachedSpace(mm, z)},
			Label:    map[string][]string{"zone": {z.String()}, "kind": {"zone_total"}},
		})
		hist := buddy.OrderHistogram(mm, z)
		for order := 0; order <= config.MaxOrder; order++ {
			count := hist[order]
			if count == 0 {
				continue
			}
			oloc := funcLocation(ids, fns, &locs, "zone:"+z.String()+":order")
			p.Sample = append(p.Sample, &profile.Sample{
				Location: []*profile.Location{oloc},
				Value:    []int64{count, count * (1 << uint(order)) * int64(mem.PageSize), 0},
				Label:    map[string][]string{"zone": {z.String()}, "kind": {"order_histogram"}},
				NumLabel: map[string][]int64{"order": {int64(order)}},
			})
		}
	}

	for _, c := range caches {
		total, free := c.Stats()
		loc := funcLocation(ids, fns, &locs, "cache:"+c.Name)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(free), int64(total-free) * int64(c.ObjSize), 0},
			Label:    map[string][]string{"cache": {c.Name}},
		})
	}

	for _, fn := range fns {
		p.Function = append(p.Function, fn)
	}
	p.Location = locs
	return p
}

// Write serializes snap in the standard gzip-compressed profile.proto
// encoding pprof tooling consumes.
func Write(snap *profile.Profile, w io.Writer) error {
	return snap.Write(w)
}
