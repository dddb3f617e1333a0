package vsq

import "testing"

func newLinkedSplitQueue(t *testing.T, maxStdElems, elemSize, align uint32) (*Tail[uint32], *Head[uint32]) {
	t.Helper()
	tailBuf := make([]byte, SizeOfTail[uint32](maxStdElems, elemSize, align))
	tail, err := NewTail[uint32](tailBuf, maxStdElems, elemSize, align, true)
	if err != nil {
		t.Fatalf("NewTail: %v", err)
	}
	headBuf := make([]byte, SizeOfHead(align))
	head, err := NewHead[uint32](headBuf, align)
	if err != nil {
		t.Fatalf("NewHead: %v", err)
	}
	LinkTailWithHead(tail, head)
	LinkHeadWithTail(head, tail)
	return tail, head
}

func TestSplitQueueEmptyAfterLink(t *testing.T) {
	_, head := newLinkedSplitQueue(t, 4, 16, 8)
	if _, ok := head.ReadHead(); ok {
		t.Fatal("ReadHead on freshly linked split queue returned ok=true")
	}
}

func TestSplitQueueWriteThenRead(t *testing.T) {
	tail, head := newLinkedSplitQueue(t, 4, 16, 8)

	want := []byte("split-queue-payload")
	if err := tail.WriteTail(want); err != nil {
		t.Fatalf("WriteTail: %v", err)
	}
	got, ok := head.ReadHead()
	if !ok {
		t.Fatal("ReadHead returned ok=false after a write")
	}
	if string(got) != string(want) {
		t.Fatalf("ReadHead = %q, want %q", got, want)
	}
}

func TestSplitQueueFullAndDrain(t *testing.T) {
	const maxStdElems, elemSize, align = 4, 16, 8
	tail, head := newLinkedSplitQueue(t, maxStdElems, elemSize, align)

	payload := make([]byte, elemSize)
	written := 0
	for {
		if err := tail.WriteTail(payload); err != nil {
			if err != ErrFull {
				t.Fatalf("WriteTail: unexpected error %v", err)
			}
			break
		}
		written++
		if written > maxStdElems+1 {
			t.Fatal("queue accepted more writes than its configured capacity")
		}
	}
	if tail.FullCount() == 0 {
		t.Fatal("FullCount() = 0 after filling the tail to capacity")
	}

	for i := 0; i < written; i++ {
		if _, ok := head.ReadHead(); !ok {
			t.Fatalf("ReadHead %d: expected a record", i)
		}
	}
	if _, ok := head.ReadHead(); ok {
		t.Fatal("ReadHead returned ok=true after draining every written record")
	}
}

func TestLinkHeadWithTailIsIdempotent(t *testing.T) {
	tail, head := newLinkedSplitQueue(t, 4, 16, 8)
	if err := tail.WriteTail([]byte("x")); err != nil {
		t.Fatalf("WriteTail: %v", err)
	}

	// Re-linking the same pair must not reset idxHead and must not disturb
	// the record already published.
	LinkHeadWithTail(head, tail)

	if _, ok := head.ReadHead(); !ok {
		t.Fatal("ReadHead returned ok=false after a redundant LinkHeadWithTail")
	}
}

func TestTailPanicsBeforeLink(t *testing.T) {
	buf := make([]byte, SizeOfTail[uint32](4, 16, 8))
	tail, err := NewTail[uint32](buf, 4, 16, 8, false)
	if err != nil {
		t.Fatalf("NewTail: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic calling AllocTail before LinkTailWithHead")
		}
	}()
	tail.AllocTail(8)
}

func TestHeadPanicsBeforeLink(t *testing.T) {
	buf := make([]byte, SizeOfHead(8))
	head, err := NewHead[uint32](buf, 8)
	if err != nil {
		t.Fatalf("NewHead: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic calling ReadHead before LinkHeadWithTail")
		}
	}()
	head.ReadHead()
}
