package vsq

import (
	"sync/atomic"
	"unsafe"
)

// Queue is a single-instance SPSC variable-size byte-record queue: one
// buffer, carved into a header and an arena, with both endpoints operating
// on the same in-process memory. Use Tail/Head instead when producer and
// consumer do not share an address space.
//
// A *Queue must be used from exactly two call sites: one goroutine calling
// AllocTail/PostTail/WriteTail, and (at most) one other calling ReadHead.
// Neither side's calls may overlap with themselves.
type Queue[W Width] struct {
	buf    []byte
	hdr    *queueHeader
	arena  []byte
	align  uint32
	diag   *diagnostics
	pinned uint32 // holds idxReservedTail across AllocTail/PostTail
}

// NewQueue constructs a queue over buf, which must be at least
// SizeOfQueue[W](maxStdElems, sizeOfStdElem, align) bytes and aligned to at
// least align. withDiagnostics enables the optional usage/peak tracking.
func NewQueue[W Width](buf []byte, maxStdElems, sizeOfStdElem, align uint32, withDiagnostics bool) (*Queue[W], error) {
	need := SizeOfQueue[W](maxStdElems, sizeOfStdElem, align)
	if need == 0 {
		return nil, ErrInvalidParams
	}
	if uint32(len(buf)) < need {
		return nil, ErrBufferTooSmall
	}
	if uintptr(unsafe.Pointer(&buf[0]))%uintptr(align) != 0 {
		return nil, ErrMisaligned
	}

	hdrSize := roundUp(uint32(unsafe.Sizeof(queueHeader{})), align)
	q := &Queue[W]{
		buf:   buf,
		hdr:   overlay[queueHeader](buf),
		arena: buf[hdrSize:need],
		align: align,
	}
	q.hdr.bufLen = uint32(len(q.arena))
	q.pinned = noneOffset
	if withDiagnostics {
		q.diag = &diagnostics{}
	}

	seed := initSeed[W](q.arena, align)
	q.hdr.idxHead = seed
	q.hdr.idxTail = seed
	if q.diag != nil {
		q.diag.idxHeadCopy = seed
	}
	return q, nil
}

// AllocTail reserves space for a payload of the given length and returns a
// pointer to where the caller should write it. The slice remains valid,
// and exclusively owned by the producer, until the matching PostTail.
// AllocTail panics if a previous reservation hasn't been posted yet — that
// is a contract violation, not a runtime condition callers are expected to
// recover from.
func (q *Queue[W]) AllocTail(length uint32) ([]byte, error) {
	if q.pinned != noneOffset {
		panic("vsq: AllocTail called while a previous reservation is unposted")
	}
	off, ok := allocTail[W](q.arena, q.align, &q.hdr.idxHead, &q.hdr.idxTail, length, q.diag)
	if !ok {
		return nil, ErrFull
	}
	q.pinned = off
	return payloadAt[W](q.arena, off, q.align, length), nil
}

// PostTail publishes the record reserved by the preceding AllocTail call.
// It panics if there is no pending reservation.
func (q *Queue[W]) PostTail() {
	if q.pinned == noneOffset {
		panic("vsq: PostTail called without a pending AllocTail reservation")
	}
	postTail(&q.hdr.idxTail, q.pinned)
	q.pinned = noneOffset
}

// WriteTail is the convenience wrapper: allocate, copy, publish.
func (q *Queue[W]) WriteTail(data []byte) error {
	dst, err := q.AllocTail(uint32(len(data)))
	if err != nil {
		return err
	}
	copy(dst, data)
	q.PostTail()
	return nil
}

// ReadHead returns the next newly published record, if any. The returned
// slice is owned by the consumer until the next call to ReadHead,
// including calls that themselves return ok == false.
func (q *Queue[W]) ReadHead() (payload []byte, ok bool) {
	p, _, ok := readHead[W](q.arena, q.align, &q.hdr.idxHead, &q.hdr.idxTail, q.diag)
	return p, ok
}

// MaxQueueUsage returns the largest number of records ever simultaneously
// queued. Must only be called from the producer side — it mixes
// producer-local bookkeeping with an atomic read of idxHead.
func (q *Queue[W]) MaxQueueUsage() uint32 {
	if q.diag == nil {
		return 0
	}
	return atomic.LoadUint32(&q.diag.maxUsage)
}

// MaxBytesInUse returns the largest cyclic byte span ever occupied between
// idxHead and the end of the newest record. Producer-side only, see
// MaxQueueUsage.
func (q *Queue[W]) MaxBytesInUse() uint32 {
	if q.diag == nil {
		return 0
	}
	return atomic.LoadUint32(&q.diag.maxBytesInUse)
}

// FullCount returns the number of times AllocTail/WriteTail observed the
// queue full. Producer-local.
func (q *Queue[W]) FullCount() uint64 {
	if q.diag == nil {
		return 0
	}
	return atomic.LoadUint64(&q.diag.fullCount)
}

// EmptyCount returns the number of times ReadHead observed nothing new.
// Consumer-local.
func (q *Queue[W]) EmptyCount() uint64 {
	if q.diag == nil {
		return 0
	}
	return atomic.LoadUint64(&q.diag.emptyCount)
}
