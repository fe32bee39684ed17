package potemplate

import (
	"fmt"

	"poflow/internal"
)

// GroupOrders merges rows that share vendor, project and order date into one
// record per purchase order, in first-seen order. Row errors are carried over
// with their source row so the merged record stays invalid if any row was.
func GroupOrders(records []internal.OrderRecord) []internal.OrderRecord {
	index := map[string]int{}
	out := make([]internal.OrderRecord, 0, len(records))

	for _, rec := range records {
		key := rec.GroupKey()
		pos, ok := index[key]
		if !ok {
			merged := rec
			merged.Items = append([]internal.LineItem(nil), rec.Items...)
			merged.SetErrors(tagErrors(rec))
			index[key] = len(out)
			out = append(out, merged)
			continue
		}

		g := &out[pos]
		g.Items = append(g.Items, rec.Items...)
		g.DeliveryDate = firstSet(g.DeliveryDate, rec.DeliveryDate)
		g.VendorEmail = firstSet(g.VendorEmail, rec.VendorEmail)
		g.DeliveryName = firstSet(g.DeliveryName, rec.DeliveryName)
		g.DeliveryEmail = firstSet(g.DeliveryEmail, rec.DeliveryEmail)
		g.SetErrors(append(g.Errors, tagErrors(rec)...))
	}
	return out
}

func tagErrors(rec internal.OrderRecord) []string {
	out := make([]string, 0, len(rec.Errors))
	for _, e := range rec.Errors {
		out = append(out, fmt.Sprintf("row %d: %s", rec.RowIndex, e))
	}
	return out
}

func firstSet(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
