package consensus

import "time"

// The three Predicates below all decide the same thing — has the file
// aged past the threshold — but are written independently of one
// another, deliberately avoiding any shared helper, so that a mistake in
// one cannot propagate into another.

// CanDeleteByComparison answers directly: the file qualifies once its
// age is no less than the threshold.
func CanDeleteByComparison(attrs FileAttrs, threshold time.Duration) bool {
	if attrs.Age >= threshold {
		return true
	}
	return false
}

// CanDeleteByRemainder answers by checking that nothing remains of the
// grace period: subtract the age from the threshold and a deletable file
// leaves zero or a negative remainder.
func CanDeleteByRemainder(attrs FileAttrs, threshold time.Duration) bool {
	remaining := threshold - attrs.Age
	return remaining <= 0
}

// CanDeleteByDeadline answers by reconstructing the question as "has the
// deadline, counted forward from epoch by the threshold, been reached by
// a clock that has ticked forward by the file's age".
func CanDeleteByDeadline(attrs FileAttrs, threshold time.Duration) bool {
	var elapsed, deadline time.Duration
	elapsed = attrs.Age
	deadline = threshold
	return !(elapsed < deadline)
}
