// Package fmtx is the formatting and log-line surface shared by services and
// the simulated host. Output defaults to stderr and can be redirected in tests.
package fmtx

import (
	"fmt"
	"io"
	"os"
)

// DefaultOutput receives Print, Printf and the log helpers.
var DefaultOutput io.Writer = os.Stderr

func Sprintf(format string, a ...any) string                    { return fmt.Sprintf(format, a...) }
func Printf(format string, a ...any) (int, error)               { return fmt.Fprintf(DefaultOutput, format, a...) }
func Fprintf(w io.Writer, format string, a ...any) (int, error) { return fmt.Fprintf(w, format, a...) }
func Errorf(format string, a ...any) error                      { return fmt.Errorf(format, a...) }
func Sprint(a ...any) string                                    { return fmt.Sprint(a...) }
func Print(a ...any) (int, error)                               { return fmt.Fprint(DefaultOutput, a...) }

// Info and Warn write one prefixed line to DefaultOutput.
func Info(format string, a ...any) { logLine("Info: ", format, a) }
func Warn(format string, a ...any) { logLine("Warn: ", format, a) }

func logLine(prefix, format string, a []any) {
	_, _ = io.WriteString(DefaultOutput, prefix+fmt.Sprintf(format, a...)+"\n")
}
