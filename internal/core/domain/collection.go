package domain

import "fmt"

type CollectionType string

const (
	CollectionTrack  CollectionType = "track"
	CollectionFollow CollectionType = "follow"
)

// Valid reports whether the collection type is one the stream endpoint accepts.
func (c CollectionType) Valid() bool {
	return c == CollectionTrack || c == CollectionFollow
}

// FlagsKey returns the default control document key for a collection type,
// e.g. "collector-track".
func (c CollectionType) FlagsKey() string {
	return fmt.Sprintf("collector-%s", c)
}
