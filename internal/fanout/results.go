package fanout

// Values returns the values of the successful results, in order.
func Values[T any](results []Result[T]) []T {
	values := make([]T, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			values = append(values, r.Value)
		}
	}
	return values
}

// Partition splits results into successes and failures, preserving order.
func Partition[T any](results []Result[T]) (succeeded, failed []Result[T]) {
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		} else {
			succeeded = append(succeeded, r)
		}
	}
	return succeeded, failed
}

// AllSucceeded reports whether no result carries an error.
func AllSucceeded[T any](results []Result[T]) bool {
	for _, r := range results {
		if r.Err != nil {
			return false
		}
	}
	return true
}
