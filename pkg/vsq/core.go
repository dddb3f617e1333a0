package vsq

import "sync/atomic"

// diagnostics holds the optional producer-side usage counters plus the
// full/empty occurrence counters. None of these fields are shared across a
// split queue's two address spaces: MaxQueueUsage/MaxBytesInUse are
// documented as producer-context-only, and FullCount/EmptyCount are each
// local to the side that observes them.
type diagnostics struct {
	idxHeadCopy   uint32
	usage         uint32
	maxUsage      uint32 // accessed via atomic, may be polled by other producer-side goroutines
	maxBytesInUse uint32
	fullCount     uint64
	emptyCount    uint64
}

// allocTail implements the slot-selection algorithm exactly, including its
// "no explicit else" refusal semantics: when candidate > idxHead and
// neither the tail remainder nor the head remainder fit the request, the
// call fails rather than searching further.
//
// idxHeadPtr and idxTailPtr may live in the same buffer (single-instance
// Queue) or in two different buffers belonging to different address spaces
// (split Tail/Head) — allocTail only ever reads *idxHeadPtr and
// *idxTailPtr and writes record bytes in the arena plus *idxTailPtr itself
// is left untouched until postTail.
func allocTail[W Width](arena []byte, align uint32, idxHeadPtr, idxTailPtr *uint32, length uint32, diag *diagnostics) (newOff uint32, ok bool) {
	idxH := atomic.LoadUint32(idxHeadPtr)
	idxT := atomic.LoadUint32(idxTailPtr)
	bufLen := uint32(len(arena))

	if diag != nil && diag.idxHeadCopy != idxH {
		idxHeadCopy, usage := diag.idxHeadCopy, diag.usage
		for idxHeadCopy != idxH {
			usage--
			idxHeadCopy = uint32(recordAt[W](arena, idxHeadCopy).link)
		}
		diag.idxHeadCopy = idxHeadCopy
		diag.usage = usage
	}

	candidate := uint32(recordAt[W](arena, idxT).link)
	need := recordCell[W](length, align)

	idxNew := noneOffset
	switch {
	case candidate > idxH:
		if candidate+need <= bufLen {
			idxNew = candidate
		} else if need <= idxH {
			idxNew = 0
		}
	case candidate < idxH:
		if candidate+need <= idxH {
			idxNew = candidate
		}
	}
	// candidate == idxH is never free: a record's link never points at
	// itself, so equality only arises with records in flight whose chain
	// has caught up with the consumer-held record, i.e. the queue is full.

	if idxNew == noneOffset {
		if diag != nil {
			atomic.AddUint64(&diag.fullCount, 1)
		}
		return 0, false
	}

	succ := idxNew + need
	if succ == bufLen {
		succ = 0
	}

	// Fix the chain: the record currently at idxT is the one the consumer
	// still owns (or will own next); its link is only read by the
	// consumer after idxTail has moved past it, which hasn't happened yet.
	recordAt[W](arena, idxT).link = W(idxNew)
	newRecord := recordAt[W](arena, idxNew)
	newRecord.link = W(succ)
	newRecord.payloadLen = W(length)

	if diag != nil {
		diag.usage++
		if diag.usage > diag.maxUsage {
			atomic.StoreUint32(&diag.maxUsage, diag.usage)
		}
		usageInByte := succ - idxH
		if succ < idxH {
			usageInByte = succ + bufLen - idxH
		}
		if usageInByte > diag.maxBytesInUse {
			atomic.StoreUint32(&diag.maxBytesInUse, usageInByte)
		}
	}

	return idxNew, true
}

// initSeed places the zero-length seed record at the high end of the
// arena and returns its offset. The seed's link points to offset 0: the
// first record a producer ever allocates will land there, since
// candidate(0) < idxHead(seed offset) and the head remainder is the whole
// arena below the seed.
func initSeed[W Width](arena []byte, align uint32) uint32 {
	off := uint32(len(arena)) - headerSize[W](align)
	rec := recordAt[W](arena, off)
	rec.link = 0
	rec.payloadLen = 0
	return off
}

// postTail publishes a previously allocated record. The atomic store
// below stands in for a full memory barrier followed by a plain store:
// Go's memory model treats a synchronizing atomic store together with a
// corresponding atomic load in readHead as establishing happens-before,
// which is what the barrier was protecting on architectures with weaker
// ordering guarantees.
func postTail(idxTailPtr *uint32, newOff uint32) {
	atomic.StoreUint32(idxTailPtr, newOff)
}

// readHead returns the oldest published record not yet returned (the
// successor of the record the consumer holds) and retires whatever the
// consumer held before.
func readHead[W Width](arena []byte, align uint32, idxHeadPtr, idxTailPtr *uint32, diag *diagnostics) (payload []byte, payloadLen uint32, ok bool) {
	idxH := atomic.LoadUint32(idxHeadPtr)
	idxT := atomic.LoadUint32(idxTailPtr)
	if idxH == idxT {
		if diag != nil {
			atomic.AddUint64(&diag.emptyCount, 1)
		}
		return nil, 0, false
	}

	newIdxH := uint32(recordAt[W](arena, idxH).link)
	// The atomic store below is the consumer-side counterpart of the full
	// barrier this replaces: every read of the retired record must
	// complete, in program order, before this store becomes visible to the
	// producer.
	atomic.StoreUint32(idxHeadPtr, newIdxH)

	rec := recordAt[W](arena, newIdxH)
	length := uint32(rec.payloadLen)
	return payloadAt[W](arena, newIdxH, align, length), length, true
}
