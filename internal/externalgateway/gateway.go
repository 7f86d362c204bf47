// Package externalgateway defines the boundary between the core and the
// external file systems step bodies read from and write to. The core never
// calls these methods itself; step bodies receive a Gateway by dependency
// injection from outside the core and call it directly. Step bodies run
// without a context.Context (cancellation is cooperative via CancelToken),
// so this contract takes none either.
package externalgateway

// Metadata describes a resource on an external system without transferring
// its contents.
type Metadata struct {
	Reference   string
	Name        string
	RecordCount int64
	Size        int64
}

// Gateway is implemented outside this module. No implementation ships here.
type Gateway interface {
	// IsAvailable reports whether the named system and resource type can be
	// reached right now.
	IsAvailable(system, resourceType string) (bool, error)

	// Metadata returns descriptive information about a resource without
	// fetching its records.
	Metadata(system, resourceType string) (Metadata, error)

	// Fetch streams records of the given record type from a resource. The
	// returned Cursor is exhausted by repeated calls to Next.
	Fetch(system, resourceType, recordType string) (Cursor, error)

	// Send writes records to a resource and returns a reference to what was
	// written.
	Send(system, resourceType string, records Cursor) (string, error)

	// Acknowledge confirms a resource was consumed and may be released or
	// archived by the external system.
	Acknowledge(system, resourceType, reference string) error

	// ReportError notifies the external system that processing of a
	// resource failed.
	ReportError(system, resourceType, reference string, cause error) error
}

// Cursor is a lazy sequence of records of an unspecified type, shaped the
// same way internal/aggregator's RecordReader is: Next returns (zero, false,
// nil) at the end of the sequence.
type Cursor interface {
	Next() (any, bool, error)
}
