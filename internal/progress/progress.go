package progress

import (
	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"
)

// #region each
// Each calls fn for i in [0, n) and stops at the first error. With show set it
// draws a tqdm bar labelled desc on stderr.
func Each(n int, desc string, show bool, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}
	if !show {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	var callErr error
	err := tqdm.With(iterators.Interval(0, n), desc, func(v interface{}) (brk bool) {
		if callErr = fn(v.(int)); callErr != nil {
			return true
		}
		return false
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// #endregion each
