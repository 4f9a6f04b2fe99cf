package profile

import "partnerflow/resource"

// Store is the process-wide holder of the signed-in user's profile.
// Data is nil until the first fetch and after logout.
type Store = resource.Slice[*UserProfile]

// State is a snapshot of a Store.
type State = resource.State[*UserProfile]

// NewStore returns an empty profile store.
func NewStore() *Store {
	return resource.NewSlice[*UserProfile]("profile")
}
