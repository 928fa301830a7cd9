package credentials

import "github.com/justapithecus/setscout/types"

// Slot names, also used as readiness source keys.
const (
	NameClientID = "client_id"
	NameAuth     = "auth"
	NameCookie   = "datadome"
)

// Store groups the three credential slots.
type Store struct {
	ClientID   *Slot[string]
	AuthHeader *Slot[types.Secret]
	Cookie     *Slot[string]
}

// NewStore creates a store with empty slots.
func NewStore() *Store {
	return &Store{
		ClientID:   NewSlot[string](NameClientID),
		AuthHeader: NewSlot[types.Secret](NameAuth),
		Cookie:     NewSlot[string](NameCookie),
	}
}

// ClientIDValue returns the intercepted client id, or "" before it arrives.
func (s *Store) ClientIDValue() string {
	v, _ := s.ClientID.Peek()
	return v
}

// Authorization returns the intercepted auth header, or a zero Secret.
func (s *Store) Authorization() types.Secret {
	v, _ := s.AuthHeader.Peek()
	return v
}
