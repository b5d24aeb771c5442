// Package registry maps integer type codes to message constructors so that
// any registered message can be encoded as rlp([code, msg]) and decoded back
// without the caller knowing its concrete type.
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
)

var (
	// ErrUnknownCode is returned when decoding a payload whose code is not
	// registered.
	ErrUnknownCode = errors.New("unknown message code")
	// ErrUnregisteredType is returned when encoding a message whose type is
	// not registered.
	ErrUnregisteredType = errors.New("unregistered message type")
	// ErrMalformedMessage is returned for payloads which are not a two item
	// list carrying a non-empty message body.
	ErrMalformedMessage = errors.New("malformed message")
)

// Message is a value which can be carried by a Registry. Its raw
// representation is the rlp encoding of the concrete struct, so every
// registered type must be a pointer to an rlp-encodable struct.
type Message interface {
	// ValidateBasic performs structural checks on a decoded message.
	ValidateBasic() error
}

// Registry is an explicit code -> constructor table. It is not safe for
// concurrent registration; build it once and share it read-only.
type Registry struct {
	name  string
	ctors map[uint64]func() Message
	codes map[reflect.Type]uint64
}

// New returns an empty registry. The name is only used in error messages.
func New(name string) *Registry {
	return &Registry{
		name:  name,
		ctors: make(map[uint64]func() Message),
		codes: make(map[reflect.Type]uint64),
	}
}

// Register binds code to the type returned by ctor. Registering a code or a
// type twice is an error.
func (r *Registry) Register(code uint64, ctor func() Message) error {
	if ctor == nil {
		return fmt.Errorf("%s: nil constructor for code %d", r.name, code)
	}
	if _, ok := r.ctors[code]; ok {
		return fmt.Errorf("%s: code %d already registered", r.name, code)
	}

	msg := ctor()
	typ := reflect.TypeOf(msg)
	if typ == nil || typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%s: code %d: constructor must return a pointer to a struct, got %v", r.name, code, typ)
	}
	if prev, ok := r.codes[typ]; ok {
		return fmt.Errorf("%s: type %v already registered with code %d", r.name, typ, prev)
	}

	r.ctors[code] = ctor
	r.codes[typ] = code
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(code uint64, ctor func() Message) {
	if err := r.Register(code, ctor); err != nil {
		panic(err)
	}
}

// Code returns the code msg's type was registered with.
func (r *Registry) Code(msg Message) (uint64, error) {
	code, ok := r.codes[reflect.TypeOf(msg)]
	if !ok {
		return 0, fmt.Errorf("%s: %w: %T", r.name, ErrUnregisteredType, msg)
	}
	return code, nil
}

// Codes returns the registered codes in ascending order.
func (r *Registry) Codes() []uint64 {
	codes := make([]uint64, 0, len(r.ctors))
	for code := range r.ctors {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Serialize encodes msg as rlp([code, msg]).
func (r *Registry) Serialize(msg Message) ([]byte, error) {
	code, err := r.Code(msg)
	if err != nil {
		return nil, err
	}
	bz, err := rlp.EncodeToBytes([]interface{}{code, msg})
	if err != nil {
		return nil, fmt.Errorf("%s: encoding %T: %w", r.name, msg, err)
	}
	return bz, nil
}

// Deserialize decodes a payload produced by Serialize and runs ValidateBasic
// on the result. Unknown codes, malformed wrappers, empty bodies and
// messages failing validation are all errors.
func (r *Registry) Deserialize(bz []byte) (Message, error) {
	var items []rlp.RawValue
	if err := rlp.DecodeBytes(bz, &items); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", r.name, ErrMalformedMessage, err)
	}
	if len(items) != 2 {
		return nil, fmt.Errorf("%s: %w: expected 2 items, got %d", r.name, ErrMalformedMessage, len(items))
	}

	var code uint64
	if err := rlp.DecodeBytes(items[0], &code); err != nil {
		return nil, fmt.Errorf("%s: %w: bad code: %v", r.name, ErrMalformedMessage, err)
	}
	ctor, ok := r.ctors[code]
	if !ok {
		return nil, fmt.Errorf("%s: %w: %d", r.name, ErrUnknownCode, code)
	}

	kind, content, _, err := rlp.Split(items[1])
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", r.name, ErrMalformedMessage, err)
	}
	if kind != rlp.List || len(content) == 0 {
		return nil, fmt.Errorf("%s: %w: empty body for code %d", r.name, ErrMalformedMessage, code)
	}

	msg := ctor()
	if err := rlp.DecodeBytes(items[1], msg); err != nil {
		return nil, fmt.Errorf("%s: %w: code %d: %v", r.name, ErrMalformedMessage, code, err)
	}
	if err := msg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("%s: invalid %T: %w", r.name, msg, err)
	}
	return msg, nil
}
