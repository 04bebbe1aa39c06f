// Package distribution shards a dataset's images across annotators.
package distribution

import (
	"math/rand/v2"

	"github.com/lewtec/labelhub/internal/domain"
)

// BatchSize is how many images a task claims per request for more work
const BatchSize = 5

// Source is the subset of *rand.Rand the shuffle needs
type Source interface {
	IntN(n int) int
}

// Distributor assigns images to users by shuffle and round robin
type Distributor struct {
	rng Source
}

// New creates a Distributor drawing randomness from rng. A nil rng uses the
// global generator.
func New(rng Source) *Distributor {
	return &Distributor{rng: rng}
}

func (d *Distributor) intN(n int) int {
	if d.rng == nil {
		return rand.IntN(n)
	}
	return d.rng.IntN(n)
}

// Shuffle permutes ids in place with Fisher-Yates
func (d *Distributor) Shuffle(ids []string) {
	for i := len(ids) - 1; i > 0; i-- {
		j := d.intN(i + 1)
		ids[i], ids[j] = ids[j], ids[i]
	}
}

// Distribute shuffles a copy of imageIDs and deals it to userIDs round robin.
// Every user gets a bucket, possibly empty, and bucket sizes differ by at most one.
func (d *Distributor) Distribute(imageIDs []string, userIDs []string) (map[string][]string, error) {
	if len(userIDs) == 0 {
		return nil, domain.InvalidArgument("distribute", "at least one user is required")
	}
	seen := make(map[string]struct{}, len(userIDs))
	for _, u := range userIDs {
		if _, ok := seen[u]; ok {
			return nil, domain.InvalidArgument("distribute", "user %s listed more than once", u)
		}
		seen[u] = struct{}{}
	}

	shuffled := make([]string, len(imageIDs))
	copy(shuffled, imageIDs)
	d.Shuffle(shuffled)

	n := len(userIDs)
	result := make(map[string][]string, n)
	for _, u := range userIDs {
		result[u] = make([]string, 0, len(shuffled)/n+1)
	}
	for i, id := range shuffled {
		u := userIDs[i%n]
		result[u] = append(result[u], id)
	}
	return result, nil
}

// Distribute uses the global random generator
func Distribute(imageIDs []string, userIDs []string) (map[string][]string, error) {
	return New(nil).Distribute(imageIDs, userIDs)
}

// ValidateRange checks 0 <= start <= end < count
func ValidateRange(start, end int, count int64) error {
	if start < 0 || end < 0 {
		return domain.InvalidArgument("ValidateRange", "range bounds must be non-negative, got %d-%d", start, end)
	}
	if start > end {
		return domain.InvalidArgument("ValidateRange", "range start %d is after end %d", start, end)
	}
	if int64(end) >= count {
		return domain.InvalidArgument("ValidateRange", "range end %d is outside the dataset of %d images", end, count)
	}
	return nil
}
