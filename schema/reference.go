package schema

import "bytes"

// ConnHandle identifies the connection an ObjectReference belongs to.
// It is deliberately an opaque, comparable value — concrete connection
// types (e.g. *rpcconn.Connection) satisfy it for free — so this
// package never needs to import the connection machinery that decodes
// Class values.
type ConnHandle interface{}

// ObjectReference is a remote object handle: an opaque id scoped to a
// class name and a connection. It does not own any server-side
// resource; the server garbage collects on disconnect. Equality is by
// (connection, class, id), matching spec §3.
type ObjectReference struct {
	Conn  ConnHandle
	Class string
	ID    []byte
}

// IsNull reports whether this is the null reference: a zero-length id,
// or the single zero byte the Class wire convention uses for null.
func (o ObjectReference) IsNull() bool {
	return len(o.ID) == 0 || (len(o.ID) == 1 && o.ID[0] == 0)
}

// Equal reports whether o and other name the same remote object.
func (o ObjectReference) Equal(other ObjectReference) bool {
	return o.Conn == other.Conn && o.Class == other.Class && bytes.Equal(o.ID, other.ID)
}
