package changes

import "errors"

// ErrNoReview is returned by review responses when no review is active.
var ErrNoReview = errors.New("no review in progress")
