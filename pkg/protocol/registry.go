package protocol

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// DecodeFunc decodes a packet body. The decoder holds exactly the body
// bytes of one frame.
type DecodeFunc func(d *Decoder) (Packet, error)

// Registry maps packet types to their decoders.
//
// A Registry is populated once at startup and then sealed. After Seal it is
// read-only: Register refuses new entries and Lookup is safe for concurrent
// use without locking.
type Registry struct {
	mu       sync.Mutex // serializes Register
	decoders map[PacketType]DecodeFunc
	sealed   atomic.Bool
}

var defaultDecoders = map[PacketType]DecodeFunc{
	TypeProtocolHandshake: decodeProtocolHandshake,
	TypeProtocolAccepted:  decodeProtocolAccepted,
	TypeConnectRequest:    decodeConnectRequest,
	TypeConnectAccepted:   decodeConnectAccepted,
	TypePing:              decodePingPong(TypePing),
	TypePong:              decodePingPong(TypePong),
	TypeServerNotice:      decodeServerNotice,
	TypeDisconnect:        decodeDisconnect,
	TypeLoginRequest:      decodeLoginRequest,
	TypeLoginResult:       decodeLoginResult,
	TypeLogout:            decodeLogout,
	TypeSessionJoin:       decodeSessionJoin,
	TypeEntityMove:        decodeEntityMove,
	TypeSessionLeave:      decodeSessionLeave,
	TypeChatMessage:       decodeChatMessage,
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		decoders: make(map[PacketType]DecodeFunc),
	}
}

// NewDefaultRegistry creates a registry with every packet kind defined in
// this package registered.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for pt, fn := range defaultDecoders {
		r.Register(pt, fn)
	}
	return r
}

// Register binds a decoder to a packet type. It returns false if the type is
// already taken (ids are never overwritten), if fn is nil, or if the
// registry has been sealed.
func (r *Registry) Register(pt PacketType, fn DecodeFunc) bool {
	if fn == nil || r.sealed.Load() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return false
	}
	if _, exists := r.decoders[pt]; exists {
		return false
	}
	r.decoders[pt] = fn
	return true
}

// MustRegister is like Register but panics when the binding is refused.
// Intended for package-level setup code.
func (r *Registry) MustRegister(pt PacketType, fn DecodeFunc) {
	if !r.Register(pt, fn) {
		panic(fmt.Sprintf("protocol: cannot register decoder for %s", pt))
	}
}

// Seal makes the registry read-only. Sealing twice is harmless.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed.Store(true)
	r.mu.Unlock()
}

// Sealed reports whether the registry is read-only.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Lookup returns the decoder registered for pt. Lookups on a sealed
// registry take no lock.
func (r *Registry) Lookup(pt PacketType) (DecodeFunc, bool) {
	if !r.sealed.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	fn, ok := r.decoders[pt]
	return fn, ok
}

// Types returns the registered packet types in ascending order.
func (r *Registry) Types() []PacketType {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]PacketType, 0, len(r.decoders))
	for pt := range r.decoders {
		types = append(types, pt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// DecodePacket decodes the body of f into a typed packet. The body must be
// consumed exactly; leftover bytes make the packet malformed.
func (r *Registry) DecodePacket(f *Frame) (Packet, error) {
	fn, ok := r.Lookup(f.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPacketType, f.Type)
	}

	d := NewDecoder(f.Body)
	p, err := fn(d)
	if err != nil {
		return nil, err
	}
	if d.Remaining() != 0 {
		return nil, fieldError(f.Type, "body", fmt.Errorf("%d trailing bytes", d.Remaining()))
	}
	return p, nil
}

// Decode decodes one complete frame (header and body) into a typed packet.
func (r *Registry) Decode(data []byte) (Packet, error) {
	f, err := DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	return r.DecodePacket(f)
}
