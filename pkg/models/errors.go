package models

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrProductNotFound  = errors.New("product not found")
	ErrEmptyQuery       = errors.New("query must not be empty")
	ErrNoStores         = errors.New("at least one store is required")
	ErrUnsupportedStore = errors.New("store not supported")

	// ErrTransient marks failures worth another attempt: navigation
	// timeouts, missing result markers, blocked or rate limited responses.
	ErrTransient = errors.New("transient scrape failure")

	// ErrMalformedData never leaves an extractor; items carrying it are skipped.
	ErrMalformedData = errors.New("malformed product data")

	// ErrSession is returned when a browsing context cannot be acquired or used.
	ErrSession = errors.New("scrape session failure")
)
