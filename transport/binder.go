package transport

import (
	"errors"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Handle is a numeric completion handle. Sent handles live in [0, 2^32) and
// delivered handles in [2^32, 2^33).
type Handle uint64

// DeliveredOffset separates the delivered-handle range from the sent range.
const DeliveredOffset Handle = 1 << 32

// Kind tells which signal a handle belongs to.
type Kind int

const (
	KindSent Kind = iota
	KindDelivered
)

func (k Kind) String() string {
	if k == KindDelivered {
		return "delivered"
	}
	return "sent"
}

var (
	ErrAlreadyBound = errors.New("transport: id already bound")
	ErrHandleInUse  = errors.New("transport: completion handle in use")
)

// Binding holds the two handles derived for one id.
type Binding struct {
	ID        string
	Sent      Handle
	Delivered Handle
}

// SentHandle derives the sent handle of id.
func SentHandle(id string) Handle {
	return Handle(murmur3.Sum32([]byte(id)))
}

// DeliveredHandle derives the delivered handle of id.
func DeliveredHandle(id string) Handle {
	return SentHandle(id) + DeliveredOffset
}

type boundHandle struct {
	id   string
	kind Kind
}

// Binder registers live handles and resolves fired handles back to ids.
type Binder struct {
	mu       sync.Mutex
	byHandle map[Handle]boundHandle
	byID     map[string]Binding
}

// NewBinder returns an empty registry.
func NewBinder() *Binder {
	return &Binder{
		byHandle: make(map[Handle]boundHandle),
		byID:     make(map[string]Binding),
	}
}

// Bind allocates the handles for id. It fails when either derived handle is
// held by another live id.
func (b *Binder) Bind(id string) (Binding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.byID[id]; ok {
		return Binding{}, ErrAlreadyBound
	}
	binding := Binding{ID: id, Sent: SentHandle(id), Delivered: DeliveredHandle(id)}
	if _, taken := b.byHandle[binding.Sent]; taken {
		return Binding{}, ErrHandleInUse
	}
	if _, taken := b.byHandle[binding.Delivered]; taken {
		return Binding{}, ErrHandleInUse
	}
	b.byHandle[binding.Sent] = boundHandle{id: id, kind: KindSent}
	b.byHandle[binding.Delivered] = boundHandle{id: id, kind: KindDelivered}
	b.byID[id] = binding
	return binding, nil
}

// Resolve returns the id and kind behind h.
func (b *Binder) Resolve(h Handle) (string, Kind, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bh, ok := b.byHandle[h]
	return bh.id, bh.kind, ok
}

// Binding returns the live handles of id.
func (b *Binder) Binding(id string) (Binding, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	binding, ok := b.byID[id]
	return binding, ok
}

// Release frees both handles of id.
func (b *Binder) Release(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	binding, ok := b.byID[id]
	if !ok {
		return
	}
	delete(b.byHandle, binding.Sent)
	delete(b.byHandle, binding.Delivered)
	delete(b.byID, id)
}

// Reset frees every handle.
func (b *Binder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byHandle = make(map[Handle]boundHandle)
	b.byID = make(map[string]Binding)
}

// Len returns the number of bound ids.
func (b *Binder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byID)
}
