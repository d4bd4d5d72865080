package logging

// #region options
// Options configure New.
type Options struct {
	Level string // debug | info | warn | error
	JSON  bool   // JSON encoding instead of console
}

// DefaultOptions returns info-level console logging.
func DefaultOptions() Options {
	return Options{Level: "info"}
}

// #endregion options
