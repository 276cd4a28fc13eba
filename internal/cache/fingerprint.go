package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/erikmackinnon/search-console-mcp-sub000/internal/domain"
)

// Fingerprint derives the cache key for a query. Filters are canonicalized
// by sorting before serialization, so two queries that differ only in filter
// order share one key.
func Fingerprint(q domain.AnalyticsQuery) string {
	var b strings.Builder

	b.WriteString(q.SiteURL)
	b.WriteByte('\n')
	b.WriteString(q.StartDate.Format(domain.DateLayout))
	b.WriteByte('\n')
	b.WriteString(q.EndDate.Format(domain.DateLayout))
	b.WriteByte('\n')
	b.WriteString(strings.Join(q.Dimensions, ","))
	b.WriteByte('\n')

	filters := make([]domain.DimensionFilter, len(q.Filters))
	copy(filters, q.Filters)
	sort.Slice(filters, func(i, j int) bool {
		if filters[i].Dimension != filters[j].Dimension {
			return filters[i].Dimension < filters[j].Dimension
		}
		if filters[i].Operator != filters[j].Operator {
			return filters[i].Operator < filters[j].Operator
		}
		return filters[i].Expression < filters[j].Expression
	})
	for _, f := range filters {
		b.WriteString(f.Dimension)
		b.WriteByte(':')
		b.WriteString(f.Operator)
		b.WriteByte(':')
		b.WriteString(f.Expression)
		b.WriteByte(';')
	}
	b.WriteByte('\n')
	b.WriteString(strconv.Itoa(q.RowLimit))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
