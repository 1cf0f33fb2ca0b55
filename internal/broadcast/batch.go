package broadcast

import "iter"

// batches yields consecutive fixed-size slices of the frozen recipient list
// (the last slice may be shorter). Each slice aliases the input; the
// sequence can be ranged over from the start any number of times.
//
// The batch size bounds the fan-out per round; the actual rate ceiling is
// enforced by the sender.
func batches(recipients []Recipient, size int) iter.Seq[[]Recipient] {
	if size <= 0 {
		size = 1
	}
	return func(yield func([]Recipient) bool) {
		for i := 0; i < len(recipients); i += size {
			end := min(i+size, len(recipients))
			if !yield(recipients[i:end]) {
				return
			}
		}
	}
}
