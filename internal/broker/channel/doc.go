// Package channel provides hierarchical channel names and wildcard matching
// for the broker.
//
// # Channel Format
//
// Channels are colon-delimited names:
//
//	orders:created
//	orders:eu:refunded
//	session:42:closed
//
// # Wildcards
//
// A "*" segment in a subscribed pattern matches exactly one concrete segment
// at that position. When "*" is the last segment of a pattern it also
// accepts anything that follows:
//
//	orders:*          matches orders:created, orders:eu:refunded
//	orders:*:refunded matches orders:eu:refunded (not orders:refunded)
//	*                 matches every channel
//	orders            matches orders only
//
// A pattern never matches a channel with fewer segments than itself.
//
// # Ordering
//
// Matcher.Match returns patterns most specific first: the concrete channel
// itself, then longer names, then names with fewer wildcards. Remaining ties
// are broken lexically so the order is total.
//
// # Usage
//
//	m := channel.NewMatcher()
//	m.Add("orders:*")
//	m.Add("orders:created")
//
//	matches := m.Match("orders:created")
//	// [orders:created orders:*]
package channel
