package notification

import (
	"time"
)

type Action int

const (
	ActionMerge Action = iota + 1
	ActionBatch
	ActionConsolidate
)

type Sender interface {
	CanSend() bool
	Send(title string, description string, runTime time.Duration, fields []Field, dryRun bool) error
	BuildField(action Action, options BuildOptions) Field
	Name() string
}

type Field struct {
	Name  string
	Value string
}

type BuildOptions struct {
	// merged group fields
	Base      string
	Size      int64
	Relinked  int
	Failed    int
	Reclaimed int64

	// directory segment fields
	Directory string
	Files     int
	Merged    int
}
