package registry

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"poflow/internal"
	"poflow/internal/util"
)

// Source lists registry entries of one kind.
type Source interface {
	ListVendors(ctx context.Context, kind internal.PartyKind) ([]internal.Vendor, error)
}

type Options struct {
	TopK          int
	MinSimilarity float64
	// Timeout bounds a registry lookup; zero means no extra bound.
	Timeout time.Duration
}

type Matcher struct {
	source Source
	opts   Options
	logger *slog.Logger
}

func NewMatcher(source Source, opts Options, logger *slog.Logger) *Matcher {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = 0.3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{source: source, opts: opts, logger: logger.With("component", "matcher")}
}

// Match resolves each distinct non-blank name against registry entries of kind.
// When the registry cannot be read, results come from the fallback patterns
// and every result is marked degraded.
func (m *Matcher) Match(ctx context.Context, kind internal.PartyKind, names []string) ([]internal.VendorMatchResult, bool) {
	names = distinct(names)
	if len(names) == 0 {
		return []internal.VendorMatchResult{}, false
	}

	vendors, err := m.lookup(ctx, kind)
	if err != nil {
		m.logger.Warn("registry unavailable, using fallback patterns", "kind", kind, "error", err)
		out := make([]internal.VendorMatchResult, 0, len(names))
		for _, name := range names {
			out = append(out, internal.VendorMatchResult{
				VendorName:  name,
				Kind:        kind,
				Suggestions: FallbackSuggestions(name),
				Degraded:    true,
			})
		}
		return out, true
	}

	idx := BuildIndex(vendors)
	out := make([]internal.VendorMatchResult, 0, len(names))
	for _, name := range names {
		out = append(out, m.matchOne(idx, kind, name))
	}
	return out, false
}

func (m *Matcher) lookup(ctx context.Context, kind internal.PartyKind) ([]internal.Vendor, error) {
	if m.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()
	}
	vendors, err := m.source.ListVendors(ctx, kind)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return vendors, nil
}

func (m *Matcher) matchOne(idx *Index, kind internal.PartyKind, name string) internal.VendorMatchResult {
	res := internal.VendorMatchResult{VendorName: name, Kind: kind, Suggestions: []internal.VendorSuggestion{}}
	if v, ok := idx.Exact(name); ok {
		vc := v
		res.Exists = true
		res.ExactMatch = &vc
		return res
	}
	res.Suggestions = m.rankCandidates(idx, util.NormalizeName(name))
	return res
}

// rankCandidates scores every entry by its best form, keeps those at or above
// MinSimilarity, and orders by similarity desc, distance asc, id asc.
func (m *Matcher) rankCandidates(idx *Index, query string) []internal.VendorSuggestion {
	out := make([]internal.VendorSuggestion, 0)
	for _, id := range idx.ordered {
		best, bestDist := -1.0, 0
		for _, form := range idx.NormalizedByID[id] {
			sim, dist := util.Similarity(query, form)
			if sim > best || (sim == best && dist < bestDist) {
				best, bestDist = sim, dist
			}
		}
		if best < m.opts.MinSimilarity {
			continue
		}
		v := idx.VendorsByID[id]
		out = append(out, internal.VendorSuggestion{
			ID:            v.ID,
			Name:          v.Name,
			Email:         v.Email,
			Phone:         v.Phone,
			ContactPerson: v.ContactPerson,
			Similarity:    best,
			Distance:      bestDist,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > m.opts.TopK {
		out = out[:m.opts.TopK]
	}
	return out
}

// MatchOrders matches the vendor and delivery names of every order and checks
// the spreadsheet emails against exact registry hits.
func (m *Matcher) MatchOrders(ctx context.Context, orders []internal.OrderRecord) internal.MatchReport {
	var vendorNames, deliveryNames []string
	vendorEmails := map[string]string{}
	deliveryEmails := map[string]string{}
	for _, o := range orders {
		if n := strings.TrimSpace(o.VendorName); n != "" {
			vendorNames = append(vendorNames, n)
			if _, ok := vendorEmails[n]; !ok && o.VendorEmail != "" {
				vendorEmails[n] = o.VendorEmail
			}
		}
		if n := strings.TrimSpace(o.DeliveryName); n != "" {
			deliveryNames = append(deliveryNames, n)
			if _, ok := deliveryEmails[n]; !ok && o.DeliveryEmail != "" {
				deliveryEmails[n] = o.DeliveryEmail
			}
		}
	}

	report := internal.MatchReport{EmailConflicts: []internal.EmailConflict{}}
	var vDegraded, dDegraded bool
	report.Vendors, vDegraded = m.Match(ctx, internal.KindVendor, vendorNames)
	report.Deliveries, dDegraded = m.Match(ctx, internal.KindDelivery, deliveryNames)
	report.Degraded = vDegraded || dDegraded

	for _, r := range report.Vendors {
		if c, ok := CheckEmail(r, vendorEmails[r.VendorName]); ok {
			report.EmailConflicts = append(report.EmailConflicts, c)
		}
	}
	for _, r := range report.Deliveries {
		if c, ok := CheckEmail(r, deliveryEmails[r.VendorName]); ok {
			report.EmailConflicts = append(report.EmailConflicts, c)
		}
	}
	return report
}

// CheckEmail compares a spreadsheet email to the registry email of an exact
// match, case-insensitively. ok is false when there is nothing to compare.
func CheckEmail(res internal.VendorMatchResult, excelEmail string) (internal.EmailConflict, bool) {
	if res.ExactMatch == nil || strings.TrimSpace(excelEmail) == "" {
		return internal.EmailConflict{}, false
	}
	c := internal.EmailConflict{
		Type:       internal.NoConflict,
		ExcelEmail: excelEmail,
		DBEmail:    res.ExactMatch.Email,
		VendorID:   res.ExactMatch.ID,
		VendorName: res.ExactMatch.Name,
	}
	if util.NormalizeEmail(excelEmail) != util.NormalizeEmail(res.ExactMatch.Email) {
		c.Type = internal.Conflict
	}
	return c, true
}

func distinct(names []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
