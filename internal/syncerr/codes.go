package syncerr

// Machine-readable error codes returned by the sync API.
const (
	// CodeCursorTooOld means the cursor points into a range the server no longer retains.
	CodeCursorTooOld = "SYNC_CURSOR_TOO_OLD"

	CodeSegmentObjectMissing     = "SYNC_SEGMENT_OBJECT_MISSING"
	CodeSegmentOffsetInvalid     = "SYNC_SEGMENT_OFFSET_INVALID"
	CodeSegmentChecksumMismatch  = "SYNC_SEGMENT_CHECKSUM_MISMATCH"
	CodeSegmentStreamMismatch    = "SYNC_SEGMENT_STREAM_MISMATCH"
	CodeEventIndexMismatch       = "SYNC_EVENT_INDEX_MISMATCH"
	CodeSnapshotObjectMissing    = "SYNC_SNAPSHOT_OBJECT_MISSING"
	CodeSnapshotChecksumMismatch = "SYNC_SNAPSHOT_CHECKSUM_MISMATCH"
)

// IsIntegrityCode reports whether code means previously fetched or requested
// data cannot be trusted and the stream must be bootstrapped from a snapshot.
func IsIntegrityCode(code string) bool {
	switch code {
	case CodeSegmentObjectMissing,
		CodeSegmentOffsetInvalid,
		CodeSegmentChecksumMismatch,
		CodeSegmentStreamMismatch,
		CodeEventIndexMismatch,
		CodeSnapshotObjectMissing,
		CodeSnapshotChecksumMismatch:
		return true
	default:
		return false
	}
}
