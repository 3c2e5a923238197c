package constants

// DraftStatus is the lifecycle state of a draft product card.
type DraftStatus string

// Stable values (store these exact strings in DB).
const (
	DraftStatusNew            DraftStatus = "new"              // accepted, not yet picked up
	DraftStatusProcessing     DraftStatus = "processing"       // extraction in progress
	DraftStatusReadyForReview DraftStatus = "ready_for_review" // extraction done, editable
	DraftStatusSynced         DraftStatus = "synced"           // committed to the catalog
	DraftStatusError          DraftStatus = "error"            // terminal failure
)

var allDraftStatuses = []DraftStatus{
	DraftStatusNew,
	DraftStatusProcessing,
	DraftStatusReadyForReview,
	DraftStatusSynced,
	DraftStatusError,
}

// AllDraftStatuses returns every known status in lifecycle order.
func AllDraftStatuses() []DraftStatus {
	out := make([]DraftStatus, len(allDraftStatuses))
	copy(out, allDraftStatuses)
	return out
}

// ParseDraftStatus maps a raw string onto a known status.
func ParseDraftStatus(s string) (DraftStatus, bool) {
	for _, st := range allDraftStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Terminal reports whether no further transition can leave s.
func (s DraftStatus) Terminal() bool {
	return s == DraftStatusSynced || s == DraftStatusError
}

// Pending reports whether the backend still owes work on a draft in s.
func (s DraftStatus) Pending() bool {
	return s == DraftStatusNew || s == DraftStatusProcessing
}

// SourceType is the provenance of a draft.
type SourceType string

const (
	SourceTypeURL  SourceType = "url"
	SourceTypeText SourceType = "text"
	SourceTypeFile SourceType = "file"
)

// ParseSourceType maps a raw string onto a known source type.
func ParseSourceType(s string) (SourceType, bool) {
	switch SourceType(s) {
	case SourceTypeURL, SourceTypeText, SourceTypeFile:
		return SourceType(s), true
	}
	return "", false
}

// MatchType classifies an analog search hit.
type MatchType string

const (
	MatchTypeDuplicate MatchType = "duplicate"
	MatchTypeAnalog    MatchType = "analog"
	MatchTypeRelated   MatchType = "related"
)

// CommitStatus is reported by the commit endpoint.
type CommitStatus string

const (
	CommitStatusSynced      CommitStatus = "synced"
	CommitStatusReadyToSync CommitStatus = "ready_to_sync" // accepted by an async catalog front-end
)
