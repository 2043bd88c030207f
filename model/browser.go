package model

import (
	"fmt"
	"time"
)

// BrowserNode is a folder row of the collapsed root list. It is only known
// relative to its siblings: expanding an earlier sibling shifts every later
// offset by that sibling's child count.
type BrowserNode struct {
	Name           string `json:"name" yaml:"name"`
	RelativeOffset int    `json:"relativeOffset" yaml:"offset"`
	Expanded       bool   `json:"expanded" yaml:"-"`
	ChildCount     int    `json:"childCount" yaml:"children"`
}

// BrowserLocation addresses a row. A nil Folder means Index counts rows of
// the collapsed root list; otherwise Index counts rows inside that folder.
type BrowserLocation struct {
	Folder *int `json:"folder,omitempty"`
	Index  int  `json:"index"`
}

func (l BrowserLocation) String() string {
	if l.Folder == nil {
		return fmt.Sprintf("root/%d", l.Index)
	}
	return fmt.Sprintf("%d/%d", *l.Folder, l.Index)
}

// Equal compares by value; folder pointers may differ.
func (l BrowserLocation) Equal(o BrowserLocation) bool {
	if l.Index != o.Index || (l.Folder == nil) != (o.Folder == nil) {
		return false
	}
	return l.Folder == nil || *l.Folder == *o.Folder
}

// OffsetEntry is a learned row together with the metadata location it was
// learned for. Once the metadata moves the entry no longer applies.
type OffsetEntry struct {
	Location BrowserLocation `json:"location"`
	Source   BrowserLocation `json:"source"`
}

// NavigationState is owned by exactly one navigation engine.
type NavigationState struct {
	Grounded      bool `json:"grounded"`
	CurrentOffset int  `json:"currentOffset"`
	LastTarget    int  `json:"lastTarget"`
	Depth         int  `json:"depth"` // folders entered since the last grounding
}

// Direction of a relative move.
type Direction string

const (
	DirectionNone Direction = "none"
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// NavigationResult describes one absolute navigation.
type NavigationResult struct {
	Target     int           `json:"target"`
	Moves      int           `json:"moves"`
	Direction  Direction     `json:"direction"`
	Regrounded bool          `json:"regrounded"`
	Elapsed    time.Duration `json:"elapsed"`
}
