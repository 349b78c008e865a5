// README: Typed room keys for the realtime broadcast layer.
package types

import "fmt"

// RoomKind tags the three broadcast topic families.
type RoomKind string

const (
	RoomKindUser  RoomKind = "user"
	RoomKindRole  RoomKind = "role"
	RoomKindOrder RoomKind = "order"
)

// RoomKey identifies a broadcast group. Using a struct instead of ad-hoc
// topic strings keeps the event→room dispatch table type-checked.
type RoomKey struct {
	Kind RoomKind
	Name string
}

func UserRoom(id ID) RoomKey {
	return RoomKey{Kind: RoomKindUser, Name: string(id)}
}

func RoleRoom(r Role) RoomKey {
	return RoomKey{Kind: RoomKindRole, Name: string(r)}
}

func OrderRoom(orderID ID) RoomKey {
	return RoomKey{Kind: RoomKindOrder, Name: string(orderID)}
}

// String renders the wire form, e.g. "order:o123".
func (k RoomKey) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.Name)
}
