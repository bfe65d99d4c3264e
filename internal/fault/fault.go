// Package fault captures the call trail of a fatal error so it can be
// reported to the controller as a single printable line of the form
//
//	description <- frame() in file.go:123 <- caller() in file.go:45 <- ...
//
// The controller logs the line verbatim; the trail points back at the
// site where the fault was first observed.
package fault

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

const maxFrames = 16

// Fault is an error annotated with the program counters of the site
// that captured it.
type Fault struct {
	err error
	pcs []uintptr
}

// Error returns the description without the trail.
func (f *Fault) Error() string { return f.err.Error() }

// Unwrap exposes the wrapped error to errors.Is / errors.As.
func (f *Fault) Unwrap() error { return f.err }

// New returns a fault with the given description, captured at the
// caller.
func New(msg string) error {
	return capture(fmt.Errorf("%s", msg))
}

// Errorf formats a description like fmt.Errorf (including %w wrapping)
// and captures the trail at the caller.
func Errorf(format string, args ...any) error {
	return capture(fmt.Errorf(format, args...))
}

// Wrap annotates err with the caller's trail. A nil err stays nil; an
// err that already carries a trail is returned unchanged so the
// original capture site wins.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*Fault); ok {
		return err
	}
	return capture(err)
}

func capture(err error) error {
	pcs := make([]uintptr, maxFrames)
	// Skip runtime.Callers, capture, and the exported constructor.
	n := runtime.Callers(3, pcs)
	return &Fault{err: err, pcs: pcs[:n]}
}

// Describe renders err with its call trail, if it carries one.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	f, ok := err.(*Fault)
	if !ok {
		return err.Error()
	}

	var b strings.Builder
	b.WriteString(f.err.Error())

	frames := runtime.CallersFrames(f.pcs)
	for {
		fr, more := frames.Next()
		if fr.Function != "" {
			fmt.Fprintf(&b, " <- %s() in %s:%d", funcName(fr.Function), filepath.Base(fr.File), fr.Line)
		}
		if !more {
			break
		}
	}
	return b.String()
}

// funcName trims the package path from a fully qualified function name.
func funcName(full string) string {
	if i := strings.LastIndexByte(full, '/'); i >= 0 {
		full = full[i+1:]
	}
	if i := strings.IndexByte(full, '.'); i >= 0 {
		full = full[i+1:]
	}
	return full
}
