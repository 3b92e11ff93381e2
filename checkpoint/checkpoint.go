// Package checkpoint decorates errors with caller information so that a
// failing build surfaces the whole trail, similar to a lightweight stacktrace.
// Every error attached to a checkpoint stays visible to errors.Is and
// errors.As, so sentinel errors can be matched through any number of layers.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
)

// From wraps err into a new checkpoint carrying the caller's file and line.
// It returns nil if err is nil.
func From(err error) error {
	// io.EOF and io.ErrUnexpectedEOF are part of the io contract and must be
	// returned unwrapped.
	// https://github.com/golang/go/issues/39155
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return err
	}

	if err == nil {
		return nil
	}

	_, file, line, ok := runtime.Caller(1)

	return &checkpoint{
		kind:    err,
		cause:   nil,
		hasInfo: ok,
		file:    filepath.Base(file),
		line:    line,
	}
}

// Wrap adds a checkpoint on top of cause and attaches kind as an additional
// error describing this checkpoint. It returns nil if cause is nil.
//
// The typical use is to predefine sentinel errors and attach them on the way
// up:
//  var ErrVolumeTooSmall = errors.New("volume too small for FAT32")
//
//  func plan() error {
//  	err := solve()
//  	return checkpoint.Wrap(err, ErrVolumeTooSmall)
//  }
// Callers can then match either error:
//  if errors.Is(err, ErrVolumeTooSmall) { ... }
func Wrap(cause, kind error) error {
	if cause == io.EOF {
		return io.EOF
	}

	if cause == nil {
		return nil
	}

	_, file, line, ok := runtime.Caller(1)

	return &checkpoint{
		kind:    kind,
		cause:   cause,
		hasInfo: ok,
		file:    filepath.Base(file),
		line:    line,
	}
}

type checkpoint struct {
	kind  error
	cause error

	hasInfo bool
	file    string
	line    int
}

func (c *checkpoint) Error() string {
	causeText := "File: unknown"
	if c.cause != nil {
		causeText = c.cause.Error()
		if _, ok := c.cause.(*checkpoint); !ok {
			causeText = "File: unknown\n\t" + strings.ReplaceAll(causeText, "\n", "\n\t")
		}
	}

	if c.hasInfo {
		return fmt.Sprintf("File: %s:%d\n\t%v\n%v", c.file, c.line, c.kind, causeText)
	}
	return fmt.Sprintf("File: unknown\n\t%v\n%v", c.kind, causeText)
}

func (c *checkpoint) Unwrap() error {
	return c.cause
}

func (c *checkpoint) Is(target error) bool {
	return errors.Is(c.kind, target)
}

func (c *checkpoint) As(target interface{}) bool {
	return errors.As(c.kind, target)
}
