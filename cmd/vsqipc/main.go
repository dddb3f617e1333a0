// Command vsqipc demonstrates a split Tail/Head queue crossing a real
// process boundary: an orchestrator creates two memfd-backed shared
// regions (one for the producer's tail header and arena, one for the
// consumer's head cursor) plus a pair of rendezvous pipes, then re-execs
// itself twice with -role=producer and -role=consumer, handing each
// child its own independent mmap of the same physical pages.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"github.com/unvariance/vsq/pkg/saej1850"
	"github.com/unvariance/vsq/pkg/vsq"
)

const (
	maxElems  = 256
	elemSize  = 64
	align     = 8
	numRecord = 2000
)

// Inherited file descriptor layout for both children (fd 0-2 are stdio):
//
//	fd 3: tail region memfd
//	fd 4: head region memfd
//	fd 5: "tail seeded" pipe  (producer writes, consumer reads)
//	fd 6: "head linked" pipe  (consumer writes, producer reads)
const (
	fdTail = 3 + iota
	fdHead
	fdSeeded
	fdLinked
)

func main() {
	role := flag.String("role", "", "internal: \"producer\" or \"consumer\"; empty runs the orchestrator")
	flag.Parse()

	switch *role {
	case "producer":
		runProducer()
	case "consumer":
		runConsumer()
	case "":
		runOrchestrator()
	default:
		fmt.Printf("unknown role %q\n", *role)
		os.Exit(1)
	}
}

func runOrchestrator() {
	tailSize := vsq.SizeOfTail[uint32](maxElems, elemSize, align)
	headSize := vsq.SizeOfHead(align)

	tailFd, err := unix.MemfdCreate("vsqipc-tail", 0)
	must(err)
	must(unix.Ftruncate(tailFd, int64(tailSize)))

	headFd, err := unix.MemfdCreate("vsqipc-head", 0)
	must(err)
	must(unix.Ftruncate(headFd, int64(headSize)))

	seededR, seededW, err := os.Pipe()
	must(err)
	linkedR, linkedW, err := os.Pipe()
	must(err)

	tailFile := os.NewFile(uintptr(tailFd), "vsqipc-tail")
	headFile := os.NewFile(uintptr(headFd), "vsqipc-head")

	producer := exec.Command(os.Args[0], "-role=producer")
	producer.ExtraFiles = []*os.File{tailFile, headFile, seededW, linkedR}
	producer.Stdout, producer.Stderr = os.Stdout, os.Stderr

	consumer := exec.Command(os.Args[0], "-role=consumer")
	consumer.ExtraFiles = []*os.File{tailFile, headFile, seededR, linkedW}
	consumer.Stdout, consumer.Stderr = os.Stdout, os.Stderr

	must(producer.Start())
	must(consumer.Start())

	pErr := producer.Wait()
	cErr := consumer.Wait()
	if pErr != nil {
		fmt.Printf("producer exited with error: %v\n", pErr)
	}
	if cErr != nil {
		fmt.Printf("consumer exited with error: %v\n", cErr)
	}
}

func inheritedStorage(fd int, size uint32) *vsq.SharedStorage {
	st, err := vsq.OpenSharedStorage(fd, size)
	must(err)
	return st
}

func runProducer() {
	tailSize := vsq.SizeOfTail[uint32](maxElems, elemSize, align)
	headSize := vsq.SizeOfHead(align)

	tailSt := inheritedStorage(fdTail, tailSize)
	headSt := inheritedStorage(fdHead, headSize)
	seeded := os.NewFile(fdSeeded, "seeded")
	linked := os.NewFile(fdLinked, "linked")

	tail, err := vsq.NewTail[uint32](tailSt.Data(), maxElems, elemSize, align, true)
	must(err)
	head, err := vsq.NewHead[uint32](headSt.Data(), align)
	must(err)
	vsq.LinkTailWithHead(tail, head)

	// Tell the consumer idxTail has been seeded, then wait until it has
	// linked its Head (seeding idxHead from idxTail) before publishing
	// anything. Publishing earlier would let the consumer's link seed
	// idxHead past already-published records.
	_, err = seeded.Write([]byte{1})
	must(err)
	seeded.Close()

	var b [1]byte
	_, err = linked.Read(b[:])
	must(err)
	linked.Close()

	payload := make([]byte, elemSize-1)
	for seq := uint64(0); seq < numRecord; seq++ {
		binary.LittleEndian.PutUint64(payload[:8], seq)
		record := append(payload, saej1850.Checksum(payload))
		for {
			if err := tail.WriteTail(record); err == nil {
				break
			}
			time.Sleep(time.Microsecond)
		}
	}
	fmt.Printf("producer: sent %d records, full_count=%d\n", numRecord, tail.FullCount())
}

func runConsumer() {
	tailSize := vsq.SizeOfTail[uint32](maxElems, elemSize, align)
	headSize := vsq.SizeOfHead(align)

	seeded := os.NewFile(fdSeeded, "seeded")
	var b [1]byte
	_, err := seeded.Read(b[:])
	must(err)
	seeded.Close()

	tailSt := inheritedStorage(fdTail, tailSize)
	headSt := inheritedStorage(fdHead, headSize)

	tail, err := vsq.OpenTail[uint32](tailSt.Data(), maxElems, elemSize, align)
	must(err)
	head, err := vsq.NewHead[uint32](headSt.Data(), align)
	must(err)
	vsq.LinkHeadWithTail(head, tail)

	linked := os.NewFile(fdLinked, "linked")
	_, err = linked.Write([]byte{1})
	must(err)
	linked.Close()

	var received, corrupted, outOfOrder uint64
	var nextSeq uint64
	for received < numRecord {
		rec, ok := head.ReadHead()
		if !ok {
			time.Sleep(time.Microsecond)
			continue
		}
		payload, want := rec[:len(rec)-1], rec[len(rec)-1]
		if saej1850.Checksum(payload) != want {
			corrupted++
		}
		if seq := binary.LittleEndian.Uint64(payload[:8]); seq != nextSeq {
			outOfOrder++
			nextSeq = seq
		}
		nextSeq++
		received++
	}
	fmt.Printf("consumer: received %d records, corrupted=%d, out_of_order=%d, empty_count=%d\n",
		received, corrupted, outOfOrder, head.EmptyCount())
}

func must(err error) {
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
