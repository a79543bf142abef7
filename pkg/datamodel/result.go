package datamodel

// Status classifies the outcome of a single scan invocation.
type Status int

const (
	StatusClean Status = iota
	StatusInfected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusClean:
		return "clean"
	case StatusInfected:
		return "infected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Result holds the outcome of one scanner invocation. It is consumed by the
// walker actions right after the scan and never persisted.
type Result struct {
	Path     string `json:"path"`
	Status   Status `json:"status"`
	Detail   string `json:"detail,omitempty"`
	ExitCode int    `json:"exit-code"`
	FileSize int64  `json:"size,omitempty"`
	// ArchivePath names the archive the file was unpacked from, when the
	// walker extracted it before scanning.
	ArchivePath string `json:"archive,omitempty"`
}
