package domain

// Server-to-participant event names.
const (
	EventCreatedBoard    = "createdBoard"
	EventBoardNameUpdate = "boardNameUpdate"
	EventSlidesList      = "slidesListUpdate"
	EventRoleUpdated     = "roleUpdated"
	EventMembersList     = "updateMembersList"
	EventSwitchSlide     = "switchSlide"
	EventSlideDeleted    = "slideDeleted"
	EventSessionEnded    = "sessionEnded"
	EventNewElement      = "newElement"
	EventElementDeleted  = "elementDeleted"
	EventElementModified = "elementModified"
	EventPropModified    = "propModified"
	EventPropAppend      = "propAppend"
	EventSyncCompleted   = "syncCompleted"
	EventError           = "error"
)

// NewElementEvent fans out an accepted add mutation.
type NewElementEvent struct {
	SlideID     SlideID `json:"slideId"`
	ChangeID    int64   `json:"changeId"`
	ElementData Element `json:"elementData"`
}

// ElementDeletedEvent fans out an accepted delete mutation.
type ElementDeletedEvent struct {
	SlideID   SlideID `json:"slideId"`
	ChangeID  int64   `json:"changeId"`
	ElementID string  `json:"elementId"`
}

// ElementModifiedEvent fans out an accepted full-replacement mutation.
type ElementModifiedEvent struct {
	SlideID     SlideID `json:"slideId"`
	ChangeID    int64   `json:"changeId"`
	ElementData Element `json:"elementData"`
}

// PropModifiedEvent fans out an accepted single-property mutation. A nil
// PropValue means the property was removed.
type PropModifiedEvent struct {
	SlideID   SlideID `json:"slideId"`
	ChangeID  int64   `json:"changeId"`
	ElementID string  `json:"elementId"`
	PropKey   string  `json:"propKey"`
	PropValue any     `json:"propValue"`
}

// PropAppendEvent fans out an accepted string-append mutation; subscribers
// concatenate AppendStr onto their local copy of the property.
type PropAppendEvent struct {
	SlideID   SlideID `json:"slideId"`
	ChangeID  int64   `json:"changeId"`
	ElementID string  `json:"elementId"`
	PropKey   string  `json:"propKey"`
	AppendStr string  `json:"appendStr"`
}

// MembersListEvent carries the role-filtered roster plus the unfiltered
// participant count.
type MembersListEvent struct {
	Members   []RosterEntry `json:"members"`
	UserCount int           `json:"userCount"`
}

// ErrorEvent reports a failure to one participant. Fatal errors are
// followed by a disconnect; non-fatal ones carry the intent's changeId so
// the client can unblock its queue.
type ErrorEvent struct {
	Fatal    bool   `json:"fatal"`
	Error    string `json:"error,omitempty"`
	ChangeID *int64 `json:"changeId,omitempty"`
}

// CreatedBoardEvent acknowledges startNew with the fresh board id.
type CreatedBoardEvent struct {
	BoardID BoardID `json:"boardId"`
}
