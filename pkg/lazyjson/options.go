package lazyjson

// Option configures a Store.
type Option[T any] func(*options[T])

// WithDefaultValue supplies the value used for a missing or unreadable file.
func WithDefaultValue[T any](fn func() *T) Option[T] {
	return func(o *options[T]) {
		o.defaultValue = fn
	}
}

// WithRecoverCorrupt makes a file that cannot be read or decoded load as the
// default value.
func WithRecoverCorrupt[T any]() Option[T] {
	return func(o *options[T]) {
		o.recoverCorrupt = true
	}
}

// WithDegradeOnError makes the store keep working in memory once its file
// cannot be read or written.
func WithDegradeOnError[T any]() Option[T] {
	return func(o *options[T]) {
		o.degradeOnError = true
	}
}
