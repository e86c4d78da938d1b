package fanout

import (
	"cmp"
	"context"
	"fmt"
)

// SortByKey computes key for every element concurrently, then sorts data in
// place by those keys. Ties are not kept in their original order.
func SortByKey[E any, K cmp.Ordered](
	ctx context.Context,
	data []E,
	key func(ctx context.Context, e E) (K, error),
	reverse bool,
) ([]E, error) {
	if len(data) < 2 {
		return data, nil
	}

	g := NewGroup[K](0)
	for _, e := range data {
		g.Add(func(ctx context.Context) (K, error) {
			return key(ctx, e)
		})
	}

	keys, err := g.RunAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute sort keys: %w", err)
	}

	less := cmp.Less[K]
	if reverse {
		less = func(a, b K) bool { return cmp.Less(b, a) }
	}
	quickSort(data, keys, 0, len(data)-1, less)
	return data, nil
}

// quickSort sorts data[lo..hi] and keys[lo..hi] together with a Hoare
// partition around the middle element.
func quickSort[E any, K any](data []E, keys []K, lo, hi int, less func(a, b K) bool) {
	if lo >= hi {
		return
	}

	pivot := keys[(lo+hi)/2]
	i, j := lo-1, hi+1
	for {
		i++
		for less(keys[i], pivot) {
			i++
		}
		j--
		for less(pivot, keys[j]) {
			j--
		}
		if i >= j {
			break
		}
		keys[i], keys[j] = keys[j], keys[i]
		data[i], data[j] = data[j], data[i]
	}

	quickSort(data, keys, lo, j, less)
	quickSort(data, keys, j+1, hi, less)
}
