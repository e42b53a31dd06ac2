// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package result provides the tagged success/failure value every step
// primitive in pkg/flow produces: exactly one of a typed value or a typed
// error is inhabited, and an opaque cause travels alongside a failure
// unchanged from the point it was first attached.
package result

import "fmt"

// Result is a tagged union of a successful T or a failed E, with an
// optional opaque cause carried alongside the error. The zero value is not
// meaningful; always construct with Ok or Err.
type Result[T any, E any] struct {
	ok    bool
	value T
	err   E
	cause any
}

// Ok constructs a successful result.
func Ok[T any, E any](value T) Result[T, E] {
	return Result[T, E]{ok: true, value: value}
}

// Err constructs a failed result. cause, if supplied, is preserved
// unchanged; only the first variadic argument is used.
func Err[T any, E any](err E, cause ...any) Result[T, E] {
	r := Result[T, E]{ok: false, err: err}
	if len(cause) > 0 {
		r.cause = cause[0]
	}
	return r
}

// IsOk reports whether the result is a success.
func (r Result[T, E]) IsOk() bool { return r.ok }

// IsErr reports whether the result is a failure.
func (r Result[T, E]) IsErr() bool { return !r.ok }

// Value returns the success value. It is the zero value of T if the result
// is a failure; callers must check IsOk first.
func (r Result[T, E]) Value() T { return r.value }

// Error returns the failure value. It is the zero value of E if the result
// is a success; callers must check IsErr first.
func (r Result[T, E]) Error() E { return r.err }

// Cause returns the opaque cause attached at construction, or nil.
func (r Result[T, E]) Cause() any { return r.cause }

// Unwrap returns (value, nil) on success and (zero, err) on failure, where
// err is wrapped so that errors.As/errors.Is can recover the original E via
// TypedError. This is a convenience bridge into Go's (T, error) idiom for
// callers outside the step handle.
func (r Result[T, E]) Unwrap() (T, error) {
	if r.ok {
		return r.value, nil
	}
	var zero T
	return zero, &wrappedError[E]{err: r.err, cause: r.cause}
}

// wrappedError adapts a typed E into the standard error interface so a
// Result can cross an (T, error) boundary without losing its payload.
type wrappedError[E any] struct {
	err   E
	cause any
}

func (w *wrappedError[E]) Error() string {
	return fmt.Sprintf("%v", w.err)
}

// Unwrap exposes the cause for errors.Is/errors.As chains when the cause
// itself is an error.
func (w *wrappedError[E]) Unwrap() error {
	if c, ok := w.cause.(error); ok {
		return c
	}
	return nil
}

// TypedError recovers the original E from an error produced by Unwrap, if
// any. Returns the zero value and false if err was not produced by this
// package or carries a different E.
func TypedError[E any](err error) (E, bool) {
	var zero E
	w, ok := err.(*wrappedError[E])
	if !ok {
		return zero, false
	}
	return w.err, true
}
