package require

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alecthomas/assert"
	"github.com/davecgh/go-spew/spew"
	"github.com/pmezard/go-difflib/difflib"
)

// this is a subset of github.com/stretchr/testify/require
// on top of github.com/alecthomas/assert, plus a few helpers for errors
// and multi-line text. All functions stop the test on failure.

// TestingT is an interface wrapper around *testing.T
type TestingT = assert.TestingT

// Len asserts that the specified object has specific length.
//
//	require.Len(t, mySlice, 3)
func Len(t TestingT, object any, length int, msgAndArgs ...any) {
	assert.Len(t, object, length, msgAndArgs...)
}

// Nil asserts that the specified object is nil.
func Nil(t TestingT, object any, msgAndArgs ...any) {
	assert.Nil(t, object, msgAndArgs...)
}

// NotNil asserts that the specified object is not nil.
func NotNil(t TestingT, object any, msgAndArgs ...any) {
	assert.NotNil(t, object, msgAndArgs...)
}

// NoError asserts that a function returned no error (i.e. `nil`).
func NoError(t TestingT, err error, msgAndArgs ...any) {
	assert.NoError(t, err, msgAndArgs...)
}

// Error asserts that a function returned an error
func Error(t TestingT, err error, msgAndArgs ...any) {
	assert.Error(t, err, msgAndArgs...)
}

// Equal asserts that two objects are equal.
//
//	require.Equal(t, 123, 123)
//
// Note that []byte{} and nil []byte are not equal.
func Equal(t TestingT, expected any, actual any, msgAndArgs ...any) {
	assert.Equal(t, expected, actual, msgAndArgs...)
}

// NotEqual asserts that the specified values are NOT equal.
func NotEqual(t TestingT, expected any, actual any, msgAndArgs ...any) {
	assert.NotEqual(t, expected, actual, msgAndArgs...)
}

// True asserts that the specified value is true.
func True(t TestingT, value bool, msgAndArgs ...any) {
	assert.True(t, value, msgAndArgs...)
}

// False asserts that the specified value is false.
func False(t TestingT, value bool, msgAndArgs ...any) {
	assert.False(t, value, msgAndArgs...)
}

// ErrorIs asserts that errors.Is(err, target) is true.
//
//	_, err := s.Get("missing")
//	require.ErrorIs(t, err, kvstore.ErrKeyNotFound)
func ErrorIs(t TestingT, err error, target error, msgAndArgs ...any) {
	if errors.Is(err, target) {
		return
	}
	msg := fmt.Sprintf("Error chain doesn't contain target.\nexpected: %v\ngot: %v\n%s", target, err, spew.Sdump(err))
	assert.Fail(t, msg, msgAndArgs...)
}

// ErrorAs asserts that errors.As(err, target) is true.
// target must be a non-nil pointer to a type implementing error.
func ErrorAs(t TestingT, err error, target any, msgAndArgs ...any) {
	if errors.As(err, target) {
		return
	}
	msg := fmt.Sprintf("Error chain doesn't contain %T.\ngot: %v\n%s", target, err, spew.Sdump(err))
	assert.Fail(t, msg, msgAndArgs...)
}

// EqualBytes asserts that 2 byte slices have the same content.
// Unlike Equal, nil and empty slice are equal.
func EqualBytes(t TestingT, expected []byte, actual []byte, msgAndArgs ...any) {
	if string(expected) == string(actual) {
		return
	}
	msg := fmt.Sprintf("Bytes not equal:\nexpected:\n%s\nactual:\n%s", spew.Sdump(expected), spew.Sdump(actual))
	assert.Fail(t, msg, msgAndArgs...)
}

// EqualLines asserts that 2 multi-line strings are equal and shows
// a unified diff if they're not
func EqualLines(t TestingT, expected string, actual string, msgAndArgs ...any) {
	if expected == actual {
		return
	}
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: "Expected",
		ToFile:   "Actual",
		Context:  2,
	})
	msg := "Strings not equal:\n\n" + strings.TrimSpace(diff)
	assert.Fail(t, msg, msgAndArgs...)
}
