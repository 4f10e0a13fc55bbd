package dispatcher

import (
	"strings"

	"github.com/illmade-knight/backpack/pkg/types"
)

// Status is the three-tier severity every caller renders.
type Status int

const (
	StatusSuccess Status = iota
	StatusWarning
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusWarning:
		return "warning"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome is the result of one dispatch cycle.
type Outcome struct {
	Status Status
	// Message is "Success", "Warning: <reason>" or "Error: <cause>".
	Message string
	// Delivered holds the records the transport confirmed, in fetch order.
	Delivered []types.Record
	// Annotations are non-fatal diagnostics: dropped records, bookkeeping failures.
	Annotations []string
	// DryRun is set when the transport only simulated delivery.
	DryRun bool

	Fetched    int
	Duplicates int
	Dropped    int
}

func success() Outcome {
	return Outcome{Status: StatusSuccess, Message: "Success"}
}

func (o *Outcome) fail(cause string) {
	o.Status = StatusError
	o.Message = "Error: " + cause
}

func (o *Outcome) warn(reason string) {
	o.Status = StatusWarning
	o.Message = "Warning: " + reason
}

func (o *Outcome) annotate(note string) {
	o.Annotations = append(o.Annotations, note)
}

// String renders the status line followed by any annotations, one per line.
func (o Outcome) String() string {
	if len(o.Annotations) == 0 {
		return o.Message
	}
	var b strings.Builder
	b.WriteString(o.Message)
	for _, a := range o.Annotations {
		b.WriteString("\n  ")
		b.WriteString(a)
	}
	return b.String()
}
