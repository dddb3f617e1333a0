package vsq

import (
	"encoding/binary"
	"math/rand"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unvariance/vsq/pkg/saej1850"
)

// stressRecords is sized so the test exercises many thousand wrap-arounds
// on a small arena while still finishing quickly under -race.
const stressRecords = 200_000

// buildStressRecord fills buf with seq, random filler, and a trailing SAE
// J1850 checksum over everything before it. Minimum record length is 9:
// an 8-byte sequence number plus the checksum byte.
func buildStressRecord(buf []byte, seq uint64, rng *rand.Rand) {
	binary.LittleEndian.PutUint64(buf[:8], seq)
	rng.Read(buf[8 : len(buf)-1])
	buf[len(buf)-1] = saej1850.Checksum(buf[:len(buf)-1])
}

func checkStressRecord(t *testing.T, rec []byte, nextSeq uint64) {
	t.Helper()
	require.GreaterOrEqual(t, len(rec), 9, "record shorter than its tag")
	payload, sum := rec[:len(rec)-1], rec[len(rec)-1]
	require.Equal(t, sum, saej1850.Checksum(payload), "checksum mismatch at seq %d", nextSeq)
	require.Equal(t, nextSeq, binary.LittleEndian.Uint64(payload[:8]), "sequence gap")
}

func TestQueueConcurrentStress(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}
	const maxStdElems, elemSize, align = 64, 48, 8

	buf := make([]byte, SizeOfQueue[uint32](maxStdElems, elemSize, align))
	q, err := NewQueue[uint32](buf, maxStdElems, elemSize, align, true)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(1))
		for seq := uint64(0); seq < stressRecords; seq++ {
			record := make([]byte, 9+rng.Intn(elemSize-8))
			buildStressRecord(record, seq, rng)
			for q.WriteTail(record) != nil {
				runtime.Gosched()
			}
		}
	}()

	for nextSeq := uint64(0); nextSeq < stressRecords; nextSeq++ {
		var rec []byte
		var ok bool
		for {
			if rec, ok = q.ReadHead(); ok {
				break
			}
			runtime.Gosched()
		}
		checkStressRecord(t, rec, nextSeq)
	}
	wg.Wait()

	if _, ok := q.ReadHead(); ok {
		t.Fatal("queue not empty after the consumer drained every record")
	}
	require.Greater(t, q.MaxQueueUsage(), uint32(0))
	require.LessOrEqual(t, q.MaxBytesInUse(), uint32(len(q.arena)))
}

func TestSplitQueueConcurrentStress(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}
	const maxStdElems, elemSize, align = 64, 48, 8
	tail, head := newLinkedSplitQueue(t, maxStdElems, elemSize, align)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(2))
		for seq := uint64(0); seq < stressRecords; seq++ {
			record := make([]byte, 9+rng.Intn(elemSize-8))
			buildStressRecord(record, seq, rng)
			for tail.WriteTail(record) != nil {
				runtime.Gosched()
			}
		}
	}()

	for nextSeq := uint64(0); nextSeq < stressRecords; nextSeq++ {
		var rec []byte
		var ok bool
		for {
			if rec, ok = head.ReadHead(); ok {
				break
			}
			runtime.Gosched()
		}
		checkStressRecord(t, rec, nextSeq)
	}
	wg.Wait()

	if _, ok := head.ReadHead(); ok {
		t.Fatal("split queue not empty after the consumer drained every record")
	}
}
