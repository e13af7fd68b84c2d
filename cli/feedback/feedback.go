/*
	arduino-fwupdater
	Copyright (c) 2026 Arduino LLC.  All right reserved.

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package feedback prints results and errors to the user, either as plain
// text or as JSON depending on the --format flag.
package feedback

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// ExitCode to be used for Fatal.
type ExitCode int

const (
	// Success (0 is the no-error return code in Unix)
	Success ExitCode = iota

	// ErrGeneric Generic error (1 is the reserved "catchall" code in Unix)
	ErrGeneric

	_ // (2 Is reserved in Unix)

	// ErrNoConfigFile is returned when the config file is not found or invalid (3)
	ErrNoConfigFile

	_ // (4 is not used)

	// ErrDevice is returned when the flash device cannot be opened (5)
	ErrDevice

	// ErrUpdate is returned when an update or a verification fails (6)
	ErrUpdate

	// ErrBadArgument is returned when the arguments are not valid (7)
	ErrBadArgument
)

// OutputFormat is an output format
type OutputFormat int

const (
	// Text is the plain text format, suitable for interactive terminals
	Text OutputFormat = iota
	// JSON format
	JSON
)

var formats = map[string]OutputFormat{
	"json": JSON,
	"text": Text,
}

func (f OutputFormat) String() string {
	for res, format := range formats {
		if format == f {
			return res
		}
	}
	panic("unknown output format")
}

// ParseOutputFormat parses a string and returns the corresponding OutputFormat.
// The boolean returned is true if the string was a valid OutputFormat.
func ParseOutputFormat(in string) (OutputFormat, bool) {
	format, found := formats[in]
	return format, found
}

var (
	format OutputFormat = Text
	stdout io.Writer    = os.Stdout
	stderr io.Writer    = os.Stderr

	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
)

// Result is anything more complex than a sentence that needs to be printed
// for the user.
type Result interface {
	fmt.Stringer
	Data() interface{}
}

// ErrorResult is a result embedding also an error. In case of textual output
// the error will be printed on stderr.
type ErrorResult interface {
	Result
	ErrorString() string
}

// SetFormat changes the output format.
func SetFormat(f OutputFormat) {
	format = f
}

// GetFormat returns the output format currently set
func GetFormat() OutputFormat {
	return format
}

// SetOut redirects the standard and error output, mostly useful in tests.
func SetOut(out, err io.Writer) {
	stdout, stderr = out, err
}

// Printf prints a status line in text mode. Nothing is printed in JSON mode
// so that the output stays parsable.
func Printf(msg string, args ...interface{}) {
	if format != Text {
		return
	}
	fmt.Fprintf(stdout, msg+"\n", args...)
}

// Successf prints a status line in green in text mode.
func Successf(msg string, args ...interface{}) {
	if format != Text {
		return
	}
	fmt.Fprintln(stdout, green(fmt.Sprintf(msg, args...)))
}

// Errorf prints an error line in red on stderr in text mode.
func Errorf(msg string, args ...interface{}) {
	if format != Text {
		return
	}
	fmt.Fprintln(stderr, red(fmt.Sprintf(msg, args...)))
}

// FatalError outputs the error and exits with status exitCode.
func FatalError(err error, exitCode ExitCode) {
	Fatal(err.Error(), exitCode)
}

// FatalResult outputs the result and exits with status exitCode.
func FatalResult(res ErrorResult, exitCode ExitCode) {
	PrintResult(res)
	os.Exit(int(exitCode))
}

// Fatal outputs the errorMsg and exits with status exitCode.
func Fatal(errorMsg string, exitCode ExitCode) {
	printError(errorMsg)
	os.Exit(int(exitCode))
}

func printError(errorMsg string) {
	if format == Text {
		fmt.Fprintln(stderr, red(errorMsg))
		return
	}
	d, _ := json.MarshalIndent(struct {
		Error string `json:"error"`
	}{errorMsg}, "", "  ")
	fmt.Fprintln(stdout, string(d))
}

// PrintResult is a convenient wrapper to provide feedback for complex data,
// where the contents can't be just serialized to JSON but requires more
// structure.
func PrintResult(res Result) {
	var data string
	var dataErr string
	switch format {
	case JSON:
		d, err := json.MarshalIndent(res.Data(), "", "  ")
		if err != nil {
			Fatal(fmt.Sprintf("Error during JSON encoding of the output: %v", err), ErrGeneric)
		}
		data = string(d)
	case Text:
		data = res.String()
		if resErr, ok := res.(ErrorResult); ok {
			dataErr = resErr.ErrorString()
		}
	default:
		panic("unknown output format")
	}
	if data != "" {
		fmt.Fprintln(stdout, data)
	}
	if dataErr != "" {
		fmt.Fprintln(stderr, red(dataErr))
	}
}
