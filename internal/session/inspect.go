package session

import (
	"errors"
	"os"
	"time"
)

// Inspection is a read-only view of one participant's stored session.
// Status displays use it instead of Open, which creates folders, writes
// a fresh document and cleans up artifacts.
type Inspection struct {
	ParticipantID string
	HasSession    bool
	LoadError     string
	Doc           *Document
	Recoverable   bool
	Reason        string
}

// Inspect reads the stored session document without side effects. A
// missing file is not an error: HasSession is false and everything else
// is zero. A present but unreadable or invalid file sets LoadError and
// leaves Doc nil.
func Inspect(storageRoot, participantID string, now time.Time, maxAge time.Duration) Inspection {
	out := Inspection{ParticipantID: participantID}
	paths := NewPaths(storageRoot, participantID)

	data, err := os.ReadFile(paths.SessionFile())
	if errors.Is(err, os.ErrNotExist) {
		return out
	}
	out.HasSession = true
	if err != nil {
		out.LoadError = err.Error()
		return out
	}
	doc, err := decodeDocument(data)
	if err != nil {
		out.LoadError = err.Error()
		return out
	}
	out.Doc = doc
	verdict := Evaluate(doc, now, maxAge)
	out.Recoverable = verdict.Recoverable
	out.Reason = verdict.Reason
	return out
}
