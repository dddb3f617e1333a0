package vsq

import "unsafe"

// queueHeader is the shared control block placed at the start of a
// single-instance queue's buffer, immediately followed by the arena. Its
// layout mirrors the perf ring's shared metadata page: a small fixed-size
// struct overlaid directly onto caller-provided bytes via unsafe.Pointer,
// with idxHead/idxTail accessed exclusively through sync/atomic.
type queueHeader struct {
	idxHead uint32 // consumer-owned atomic cursor
	idxTail uint32 // producer-owned atomic cursor
	bufLen  uint32 // arena size in bytes, constant after construction
	_       uint32 // padding to keep the struct a multiple of 8 bytes
}

// tailHeader is the producer-owned half of a split queue: arena metadata,
// the producer's own idxTail cursor, and producer-local scratch.
// It carries no idxHead word — that lives in the consumer's separate
// headHeader and is reached only through a weak reference set up by
// LinkTailWithHead.
type tailHeader struct {
	idxTail         uint32
	bufLen          uint32
	idxReservedTail uint32
	_               uint32
}

// headHeader is the consumer-owned half of a split queue: just the
// idxHead cursor. The producer reaches it only through a weak reference
// set up by LinkTailWithHead.
type headHeader struct {
	idxHead uint32
	_       uint32
}

func overlay[T any](buf []byte) *T {
	return (*T)(unsafe.Pointer(&buf[0]))
}

// recordHeader is the per-record metadata: the byte offset of the
// successor record's header, and this record's payload length. It is
// written only by the producer and read by both sides, and never
// needs atomic access itself — the idxHead/idxTail cursors are what
// establish the happens-before relationship that makes plain reads safe.
type recordHeader[W Width] struct {
	link       W
	payloadLen W
}

func recordAt[W Width](arena []byte, off uint32) *recordHeader[W] {
	return (*recordHeader[W])(unsafe.Pointer(&arena[off]))
}

func payloadAt[W Width](arena []byte, off uint32, align uint32, length uint32) []byte {
	start := off + headerSize[W](align)
	return arena[start : start+length]
}
