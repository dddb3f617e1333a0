// Command vsqbench runs a single-process producer/consumer pair over a
// vsq.Queue for a fixed duration, validating every record with a SAE
// J1850 checksum and writing throughput statistics to a CSV file.
package main

import (
	"encoding/binary"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unvariance/vsq/pkg/aggregate"
	"github.com/unvariance/vsq/pkg/saej1850"
	"github.com/unvariance/vsq/pkg/vsq"
	"github.com/unvariance/vsq/pkg/vsqmetrics"
)

func main() {
	duration := flag.Duration("duration", 10*time.Second, "duration to run the benchmark")
	csvFile := flag.String("csv", "results.csv", "output CSV file for benchmark results")
	experimentName := flag.String("experiment", "", "name of the experiment (e.g. baseline, small_records)")
	maxElems := flag.Uint("max-elems", 1024, "queue capacity in standard-sized records")
	elemSize := flag.Uint("elem-size", 64, "standard record payload size in bytes")
	align := flag.Uint("align", 8, "payload alignment in bytes")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :2112)")
	flag.Parse()

	size := vsq.SizeOfQueue[uint32](uint32(*maxElems), uint32(*elemSize), uint32(*align))
	if size == 0 {
		fmt.Println("invalid queue parameters")
		os.Exit(1)
	}
	buf := make([]byte, size)
	q, err := vsq.NewQueue[uint32](buf, uint32(*maxElems), uint32(*elemSize), uint32(*align), true)
	if err != nil {
		fmt.Printf("NewQueue: %v\n", err)
		os.Exit(1)
	}

	var collector *vsqmetrics.Collector
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		collector = vsqmetrics.NewCollector(reg, "vsqbench", "queue", q, q)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	outputFile, err := os.Create(*csvFile)
	if err != nil {
		fmt.Printf("creating CSV file: %v\n", err)
		os.Exit(1)
	}
	defer outputFile.Close()

	csvWriter := csv.NewWriter(outputFile)
	defer csvWriter.Flush()
	if err := csvWriter.Write([]string{
		"experiment", "duration_seconds", "produced", "consumed",
		"corrupted", "out_of_order", "full_count", "empty_count", "max_queue_usage", "max_bytes_in_use",
	}); err != nil {
		fmt.Printf("writing CSV header: %v\n", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	stop := make(chan struct{})
	var produced, consumed, corrupted, outOfOrder, bytesMoved uint64

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		payload := make([]byte, *elemSize-1) // leave room for the checksum byte
		var seq uint64
		for {
			select {
			case <-stop:
				return
			default:
			}
			binary.LittleEndian.PutUint64(payload[:8], seq)
			record := append(payload, saej1850.Checksum(payload))
			if err := q.WriteTail(record); err != nil {
				continue // queue full, producer spins until the consumer drains
			}
			seq++
			atomic.AddUint64(&produced, 1)
		}
	}()

	go func() {
		defer wg.Done()
		var nextSeq uint64
		for {
			select {
			case <-stop:
				return
			default:
			}
			rec, ok := q.ReadHead()
			if !ok {
				continue
			}
			payload, want := rec[:len(rec)-1], rec[len(rec)-1]
			if saej1850.Checksum(payload) != want {
				atomic.AddUint64(&corrupted, 1)
			}
			if seq := binary.LittleEndian.Uint64(payload[:8]); seq != nextSeq {
				atomic.AddUint64(&outOfOrder, 1)
				nextSeq = seq
			}
			nextSeq++
			atomic.AddUint64(&consumed, 1)
			atomic.AddUint64(&bytesMoved, uint64(len(rec)))
		}
	}()

	agg, err := aggregate.NewAggregator(8)
	if err != nil {
		fmt.Printf("NewAggregator: %v\n", err)
		os.Exit(1)
	}
	observe := func(now time.Time) {
		// Sample the consumer side before the producer side so the
		// consumed total can never exceed the produced total.
		c := atomic.LoadUint64(&consumed)
		b := atomic.LoadUint64(&bytesMoved)
		p := atomic.LoadUint64(&produced)
		iv, ok, err := agg.Observe(aggregate.Sample{
			Timestamp:   uint64(now.UnixNano()),
			Produced:    p,
			Consumed:    c,
			Bytes:       b,
			FullEvents:  q.FullCount(),
			EmptyEvents: q.EmptyCount(),
		})
		if err != nil {
			log.Printf("dropping sample: %v", err)
			return
		}
		if ok {
			log.Printf("interval: %.0f rec/s, %.0f B/s, backlog=%d, full=+%d, empty=+%d",
				iv.RecordsPerSecond(), iv.BytesPerSecond(), iv.Backlog,
				iv.FullEvents, iv.EmptyEvents)
		}
	}
	observe(time.Now())

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	deadline := time.After(*duration)
loop:
	for {
		select {
		case <-deadline:
			break loop
		case <-sig:
			fmt.Println("received signal, stopping benchmark")
			break loop
		case now := <-ticker.C:
			if collector != nil {
				collector.Refresh()
			}
			observe(now)
		}
	}
	close(stop)
	wg.Wait()
	observe(time.Now())

	summary := agg.Summary()
	log.Printf("overall: %.0f rec/s, %.0f B/s, peak_backlog=%d",
		summary.RecordsPerSecond(), summary.BytesPerSecond(), summary.PeakBacklog)

	if err := csvWriter.Write([]string{
		*experimentName,
		strconv.FormatFloat((*duration).Seconds(), 'f', 3, 64),
		strconv.FormatUint(produced, 10),
		strconv.FormatUint(consumed, 10),
		strconv.FormatUint(corrupted, 10),
		strconv.FormatUint(outOfOrder, 10),
		strconv.FormatUint(q.FullCount(), 10),
		strconv.FormatUint(q.EmptyCount(), 10),
		strconv.FormatUint(uint64(q.MaxQueueUsage()), 10),
		strconv.FormatUint(uint64(q.MaxBytesInUse()), 10),
	}); err != nil {
		fmt.Printf("writing CSV row: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("produced=%d consumed=%d corrupted=%d out_of_order=%d full=%d empty=%d\n",
		produced, consumed, corrupted, outOfOrder, q.FullCount(), q.EmptyCount())
}
