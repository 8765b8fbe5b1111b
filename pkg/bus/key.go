package bus

import "reflect"

// Key identifies a message type. Subscribers are partitioned by Key and a
// message is delivered only to subscribers of exactly its own type: T and
// *T are different keys, and an interface never matches its implementations.
type Key struct {
	t reflect.Type
}

// KeyOf returns the Key of message type M. The descriptor comes from the
// type parameter, never from a runtime value.
func KeyOf[M any]() Key {
	return Key{t: reflect.TypeOf((*M)(nil)).Elem()}
}

// String returns the type's name, e.g. "events.WindowResized".
func (k Key) String() string {
	if k.t == nil {
		return "<nil>"
	}
	return k.t.String()
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool {
	return k.t == nil
}

// Abstract reports whether k names an interface type. Abstract keys cannot be
// published or subscribed.
func (k Key) Abstract() bool {
	return k.t != nil && k.t.Kind() == reflect.Interface
}

// Type returns the underlying reflect.Type.
func (k Key) Type() reflect.Type {
	return k.t
}
