package analytics

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WindowMetrics is the order count and revenue of a product over a lookback.
type WindowMetrics struct {
	Orders  int             `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

// HourKey truncates t to the hour and formats it as the series key.
func HourKey(t time.Time) string {
	return t.UTC().Truncate(time.Hour).Format(time.RFC3339)
}

// RecordSale appends a sale of product to the stream's history and updates
// the running totals and hourly series.
func (s *State) RecordSale(product uuid.UUID, amount decimal.Decimal, now time.Time) {
	history := append(s.sales[product], sale{at: now, amount: amount})
	s.sales[product] = pruneSales(history, now.Add(-s.windows.salesRetention()))

	s.totalRevenue = s.totalRevenue.Add(amount)
	s.totalOrders++

	key := HourKey(now)
	s.hourlyRevenue[key] = s.hourlyRevenue[key].Add(amount)
	s.hourlyOrders[key]++
}

func pruneSales(history []sale, cutoff time.Time) []sale {
	i := 0
	for i < len(history) && history[i].at.Before(cutoff) {
		i++
	}
	if i == 0 {
		return history
	}
	return append(history[:0:0], history[i:]...)
}

// TrailingWindow reduces the product's sales within window of now (inclusive)
// to an order count and revenue sum.
func (s *State) TrailingWindow(product uuid.UUID, now time.Time, window time.Duration) WindowMetrics {
	cutoff := now.Add(-window)
	m := WindowMetrics{Revenue: decimal.Zero}
	for _, sl := range s.sales[product] {
		if sl.at.Before(cutoff) || sl.at.After(now) {
			continue
		}
		m.Orders++
		m.Revenue = m.Revenue.Add(sl.amount)
	}
	return m
}

// SalesTrend returns one revenue sum per trailing bucket, oldest first. Bucket
// i covers (now-(n-i)*width, now-(n-i-1)*width].
func (s *State) SalesTrend(product uuid.UUID, now time.Time) []decimal.Decimal {
	n, width := s.windows.TrendBuckets, s.windows.TrendBucketWidth
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = decimal.Zero
	}
	for _, sl := range s.sales[product] {
		age := now.Sub(sl.at)
		if age < 0 || age >= time.Duration(n)*width {
			continue
		}
		idx := n - 1 - int(age/width)
		out[idx] = out[idx].Add(sl.amount)
	}
	return out
}

// SetDurableOrderCount stores the latest count of durable orders attributed to
// the stream, as reported by the order store.
func (s *State) SetDurableOrderCount(n int) {
	if n >= 0 {
		s.durableOrders = n
	}
}

// ConversionRate is durable orders per connected viewer in percent, 0 with no
// viewers.
func (s *State) ConversionRate() float64 {
	if len(s.viewers) == 0 {
		return 0
	}
	return float64(s.durableOrders) / float64(len(s.viewers)) * 100
}

// TotalRevenue returns the revenue of every sale seen during the session.
func (s *State) TotalRevenue() decimal.Decimal { return s.totalRevenue }

// TotalOrders returns the number of sales seen during the session.
func (s *State) TotalOrders() int { return s.totalOrders }

// Products returns the ids of products that sold during the retained window.
func (s *State) Products() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s.sales))
	for p := range s.sales {
		out = append(out, p)
	}
	return out
}
