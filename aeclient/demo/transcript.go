package demo

import (
	"fmt"
	"io"

	"go-aeclient/aeclient/errors"
	"go-aeclient/aeclient/schema"
)

// Transcript writes the console output of a run. The first write error is kept
// and later writes are skipped.
type Transcript struct {
	w   io.Writer
	err error
}

// NewTranscript writes to w; a nil writer discards output
func NewTranscript(w io.Writer) *Transcript {
	if w == nil {
		w = io.Discard
	}
	return &Transcript{w: w}
}

// Line writes one formatted line
func (t *Transcript) Line(format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, format+"\n", args...)
}

// Blank writes an empty line
func (t *Transcript) Blank() {
	t.Line("")
}

// Banner announces a scenario
func (t *Transcript) Banner(title string) {
	t.Line("*** %s ***", title)
	t.Blank()
}

// Rows writes one line per customer followed by a blank line
func (t *Transcript) Rows(rows []schema.Customer) {
	for _, r := range rows {
		t.Line("%s", r)
	}
	t.Blank()
}

// Failure writes a step's failure message and the database's error text
func (t *Transcript) Failure(message string, err error) {
	t.Line("%s", message)
	t.Line("%s", errors.ServerMessage(err))
	t.Blank()
}

// Err returns the first write error
func (t *Transcript) Err() error {
	return t.err
}
