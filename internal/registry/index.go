package registry

import (
	"poflow/internal"
	"poflow/internal/util"
)

type Index struct {
	VendorsByID    map[int64]internal.Vendor
	ByName         map[string][]internal.Vendor
	ByAlias        map[string][]internal.Vendor
	NormalizedByID map[int64][]string
	ordered        []int64
}

// BuildIndex keys vendors by normalized name and alias. NormalizedByID holds
// the name first, then each alias.
func BuildIndex(vendors []internal.Vendor) *Index {
	idx := &Index{
		VendorsByID:    map[int64]internal.Vendor{},
		ByName:         map[string][]internal.Vendor{},
		ByAlias:        map[string][]internal.Vendor{},
		NormalizedByID: map[int64][]string{},
	}

	for _, v := range vendors {
		if _, dup := idx.VendorsByID[v.ID]; !dup {
			idx.ordered = append(idx.ordered, v.ID)
		}
		idx.VendorsByID[v.ID] = v
		norm := util.NormalizeName(v.Name)
		idx.ByName[norm] = append(idx.ByName[norm], v)
		forms := []string{norm}

		for _, alias := range v.Aliases {
			a := util.NormalizeName(alias)
			if a == "" || a == norm {
				continue
			}
			idx.ByAlias[a] = append(idx.ByAlias[a], v)
			forms = append(forms, a)
		}
		idx.NormalizedByID[v.ID] = forms
	}

	return idx
}

// Exact returns the vendor whose name, or failing that alias, equals name
// after normalization. Ties go to the lowest id.
func (idx *Index) Exact(name string) (internal.Vendor, bool) {
	norm := util.NormalizeName(name)
	if norm == "" {
		return internal.Vendor{}, false
	}
	if hits := idx.ByName[norm]; len(hits) > 0 {
		return lowestID(hits), true
	}
	if hits := idx.ByAlias[norm]; len(hits) > 0 {
		return lowestID(hits), true
	}
	return internal.Vendor{}, false
}

func lowestID(vendors []internal.Vendor) internal.Vendor {
	best := vendors[0]
	for _, v := range vendors[1:] {
		if v.ID < best.ID {
			best = v
		}
	}
	return best
}
