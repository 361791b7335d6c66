package domain

import "regexp"

type BoardID string
type SlideID string

var boardIDRe = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// ValidBoardID reports whether an id is well formed. Malformed ids are a
// fatal client error, not a lookup miss.
func ValidBoardID(id BoardID) bool {
	return boardIDRe.MatchString(string(id))
}

// Manifest is the persisted per-board record: the ordered slide list, the
// per-slide grant sets and the permission table, plus bookkeeping.
type Manifest struct {
	Name         string                `json:"name"`
	CreatedAt    int64                 `json:"createdAt"`
	LastModified int64                 `json:"lastModified"`
	Permissions  PermissionTable       `json:"permissions"`
	SlideIDs     []SlideID             `json:"slideIds"`
	SlideGrants  map[SlideID][]string  `json:"slideGrants"`
}

// SlideSnapshot is the persisted canonical element list of one slide.
type SlideSnapshot struct {
	Elements []Element `json:"elements"`
	ChangeID int64     `json:"changeId,omitempty"`
}

// HistoryEntry records that an identity viewed a board.
type HistoryEntry struct {
	BoardID   BoardID `json:"boardId"`
	Name      string  `json:"name"`
	Timestamp int64   `json:"timestamp"`
}
