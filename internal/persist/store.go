package persist

import (
	"context"

	"github.com/shopspring/decimal"
)

// TimestampLayout is the wall-clock format used for ErrorItem
// timestamps in the errors table.
const TimestampLayout = "2006-01-02 15:04:05"

// Item is one unit of queued persistence work.
type Item interface {
	item()
}

// ValueItem appends one telemetry sample to a row's record series.
// The row is addressed by name; the consumer resolves and caches the
// numeric row identifier, producers never see it.
type ValueItem struct {
	// RowName is the stable row key: the source key for device
	// readings, the group ID for group aggregates.
	RowName string

	// DisplayName and Unit refresh the row's metadata on first touch.
	DisplayName string
	Unit        string

	// Value is the sample value.
	Value decimal.Decimal

	// UnixSeconds is the sample timestamp.
	UnixSeconds int64

	// IsGroup marks synthesized group aggregates.
	IsGroup bool
}

func (ValueItem) item() {}

// ErrorItem appends one entry to the errors table.
type ErrorItem struct {
	// Timestamp is the formatted local time of the failure.
	Timestamp string

	// Source names the failing endpoint or component.
	Source string

	// Message is the error text.
	Message string

	// Detail carries optional context, such as the raw line.
	Detail string
}

func (ErrorItem) item() {}

// Store is the storage backend the consumer writes to.
type Store interface {
	// GetOrCreateRow upserts a row by name, refreshing display name and
	// unit, and returns its identifier.
	GetOrCreateRow(ctx context.Context, name, displayName, unit string) (int64, error)

	// AppendRecord appends one sample to a row's series.
	AppendRecord(ctx context.Context, rowID int64, value decimal.Decimal, unixSeconds int64) error

	// AppendError appends one entry to the errors table.
	AppendError(ctx context.Context, item ErrorItem) error

	// Checkpoint truncates the write-ahead log.
	Checkpoint(ctx context.Context) error
}
