package vsq

import (
	"sync/atomic"
	"unsafe"
)

// Tail is the producer-owned half of a split queue: the arena, the
// idxTail cursor, and producer-local scratch, all inside memory owned by
// the producer's address space. It reaches the consumer's idxHead only
// through a weak reference installed by LinkTailWithHead.
type Tail[W Width] struct {
	buf      []byte
	hdr      *tailHeader
	arena    []byte
	align    uint32
	diag     *diagnostics
	peerHead *uint32
}

// Head is the consumer-owned half of a split queue: just the idxHead
// cursor, inside memory owned by the consumer's address space. It reaches
// the producer's arena and idxTail only through weak references installed
// by LinkHeadWithTail.
type Head[W Width] struct {
	hdr       *headHeader
	align     uint32
	peerArena []byte
	peerTail  *uint32
	diag      *diagnostics
}

// NewTail constructs the producer-owned half of a split queue over buf,
// which must be at least SizeOfTail[W](maxStdElems, sizeOfStdElem, align)
// bytes.
func NewTail[W Width](buf []byte, maxStdElems, sizeOfStdElem, align uint32, withDiagnostics bool) (*Tail[W], error) {
	need := SizeOfTail[W](maxStdElems, sizeOfStdElem, align)
	if need == 0 {
		return nil, ErrInvalidParams
	}
	if uint32(len(buf)) < need {
		return nil, ErrBufferTooSmall
	}
	if uintptr(unsafe.Pointer(&buf[0]))%uintptr(align) != 0 {
		return nil, ErrMisaligned
	}

	hdrSize := roundUp(uint32(unsafe.Sizeof(tailHeader{})), align)
	t := &Tail[W]{
		buf:   buf,
		hdr:   overlay[tailHeader](buf),
		arena: buf[hdrSize:need],
		align: align,
	}
	t.hdr.bufLen = uint32(len(t.arena))
	t.hdr.idxReservedTail = noneOffset
	if withDiagnostics {
		t.diag = &diagnostics{}
	}

	seed := initSeed[W](t.arena, align)
	t.hdr.idxTail = seed
	if t.diag != nil {
		t.diag.idxHeadCopy = seed
	}
	return t, nil
}

// OpenTail overlays a Tail view onto a buffer an earlier NewTail call (in
// a different address space mapping the same physical memory) already
// initialized. Unlike NewTail, it never seeds the arena — calling it on a
// buffer NewTail hasn't already initialized produces a Tail that never
// observes a consistent idxTail. A consumer process uses OpenTail to read
// its producer's arena and idxTail cursor without risking a second seed
// write racing the producer's own.
func OpenTail[W Width](buf []byte, maxStdElems, sizeOfStdElem, align uint32) (*Tail[W], error) {
	need := SizeOfTail[W](maxStdElems, sizeOfStdElem, align)
	if need == 0 {
		return nil, ErrInvalidParams
	}
	if uint32(len(buf)) < need {
		return nil, ErrBufferTooSmall
	}
	hdrSize := roundUp(uint32(unsafe.Sizeof(tailHeader{})), align)
	return &Tail[W]{
		buf:   buf,
		hdr:   overlay[tailHeader](buf),
		arena: buf[hdrSize:need],
		align: align,
	}, nil
}

// NewHead constructs the consumer-owned half of a split queue over buf,
// which must be at least SizeOfHead(align) bytes. The idxHead cursor is
// left uninitialized until LinkHeadWithTail runs — until then the handle
// is not yet usable.
func NewHead[W Width](buf []byte, align uint32) (*Head[W], error) {
	need := SizeOfHead(align)
	if need == 0 {
		return nil, ErrInvalidParams
	}
	if uint32(len(buf)) < need {
		return nil, ErrBufferTooSmall
	}
	if uintptr(unsafe.Pointer(&buf[0]))%uintptr(align) != 0 {
		return nil, ErrMisaligned
	}
	return &Head[W]{hdr: overlay[headHeader](buf), align: align, diag: &diagnostics{}}, nil
}

// LinkHeadWithTail tells head where to find the producer's arena and
// idxTail cursor, and — the first time a given tail is linked — seeds
// idxHead with the tail's current idxTail so both sides start out
// agreeing that the queue holds nothing new. Calling it again with the
// same tail is a no-op; calling it with a different tail re-links and
// re-seeds idxHead from that tail's current idxTail.
func LinkHeadWithTail[W Width](head *Head[W], tail *Tail[W]) {
	newPeerTail := &tail.hdr.idxTail
	if head.peerTail == newPeerTail {
		return
	}
	head.peerArena = tail.arena
	head.peerTail = newPeerTail
	head.hdr.idxHead = atomic.LoadUint32(newPeerTail)
}

// LinkTailWithHead tells tail where to find the consumer's idxHead cursor.
// Idempotent like LinkHeadWithTail.
func LinkTailWithHead[W Width](tail *Tail[W], head *Head[W]) {
	newPeerHead := &head.hdr.idxHead
	if tail.peerHead == newPeerHead {
		return
	}
	tail.peerHead = newPeerHead
}

// AllocTail mirrors Queue.AllocTail. tail must already be linked to its
// consumer's Head via LinkTailWithHead.
func (t *Tail[W]) AllocTail(length uint32) ([]byte, error) {
	if t.peerHead == nil {
		panic("vsq: Tail used before LinkTailWithHead")
	}
	if t.hdr.idxReservedTail != noneOffset {
		panic("vsq: AllocTail called while a previous reservation is unposted")
	}
	off, ok := allocTail[W](t.arena, t.align, t.peerHead, &t.hdr.idxTail, length, t.diag)
	if !ok {
		return nil, ErrFull
	}
	t.hdr.idxReservedTail = off
	return payloadAt[W](t.arena, off, t.align, length), nil
}

// PostTail mirrors Queue.PostTail.
func (t *Tail[W]) PostTail() {
	if t.hdr.idxReservedTail == noneOffset {
		panic("vsq: PostTail called without a pending AllocTail reservation")
	}
	postTail(&t.hdr.idxTail, t.hdr.idxReservedTail)
	t.hdr.idxReservedTail = noneOffset
}

// WriteTail mirrors Queue.WriteTail.
func (t *Tail[W]) WriteTail(data []byte) error {
	dst, err := t.AllocTail(uint32(len(data)))
	if err != nil {
		return err
	}
	copy(dst, data)
	t.PostTail()
	return nil
}

// MaxQueueUsage mirrors Queue.MaxQueueUsage (producer-context only).
func (t *Tail[W]) MaxQueueUsage() uint32 {
	if t.diag == nil {
		return 0
	}
	return atomic.LoadUint32(&t.diag.maxUsage)
}

// MaxBytesInUse mirrors Queue.MaxBytesInUse.
func (t *Tail[W]) MaxBytesInUse() uint32 {
	if t.diag == nil {
		return 0
	}
	return atomic.LoadUint32(&t.diag.maxBytesInUse)
}

// FullCount mirrors Queue.FullCount.
func (t *Tail[W]) FullCount() uint64 {
	if t.diag == nil {
		return 0
	}
	return atomic.LoadUint64(&t.diag.fullCount)
}

// ReadHead mirrors Queue.ReadHead. head must already be linked to its
// producer's Tail via LinkHeadWithTail.
func (h *Head[W]) ReadHead() (payload []byte, ok bool) {
	if h.peerTail == nil {
		panic("vsq: Head used before LinkHeadWithTail")
	}
	p, _, ok := readHead[W](h.peerArena, h.align, &h.hdr.idxHead, h.peerTail, h.diag)
	return p, ok
}

// EmptyCount returns the number of times ReadHead observed nothing new.
func (h *Head[W]) EmptyCount() uint64 {
	return atomic.LoadUint64(&h.diag.emptyCount)
}
