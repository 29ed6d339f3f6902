// Command benchmark measures NervusDB's write, scan, traversal, and index
// lookup throughput against a synthetic social graph.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	nervusdb "github.com/nervusdb/nervusdb"
	"github.com/nervusdb/nervusdb/value"
)

func main() {
	nodes := flag.Int("nodes", 5000, "number of nodes to create")
	fanout := flag.Int("fanout", 4, "outgoing edges per node")
	lookups := flag.Int("lookups", 1000, "number of indexed point lookups")
	compact := flag.Bool("compact", true, "compact between the write and read phases")
	flag.Parse()

	tmp, err := os.MkdirTemp("", "nervusdb-bench-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(tmp)

	db, err := nervusdb.Open(tmp + "/bench")
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer db.Close()

	fmt.Println("NervusDB Benchmark")
	fmt.Println("==================")
	fmt.Printf("nodes=%d fanout=%d lookups=%d\n\n", *nodes, *fanout, *lookups)

	// Write phase: batched creates, one statement per batch.
	const batch = 500
	start := time.Now()
	for lo := 0; lo < *nodes; lo += batch {
		hi := lo + batch
		if hi > *nodes {
			hi = *nodes
		}
		params := map[string]value.Value{
			"lo": value.Int(int64(lo)),
			"hi": value.Int(int64(hi - 1)),
		}
		if _, err := db.Query(`UNWIND range($lo, $hi) AS i CREATE (:User {uid: i})`, params); err != nil {
			log.Fatalf("create batch: %v", err)
		}
	}
	report("create nodes", *nodes, start)

	if err := db.CreateIndex("User", "uid"); err != nil {
		log.Fatalf("create index: %v", err)
	}

	start = time.Now()
	edges := 0
	for lo := 0; lo < *nodes; lo += batch {
		hi := lo + batch
		if hi > *nodes {
			hi = *nodes
		}
		for f := 1; f <= *fanout; f++ {
			params := map[string]value.Value{
				"lo":   value.Int(int64(lo)),
				"hi":   value.Int(int64(hi - 1)),
				"step": value.Int(int64(f)),
				"n":    value.Int(int64(*nodes)),
			}
			res, err := db.Query(
				`UNWIND range($lo, $hi) AS i
				 MATCH (a:User {uid: i}), (b:User {uid: (i + $step) % $n})
				 CREATE (a)-[:FOLLOWS]->(b)
				 RETURN count(*) AS c`, params)
			if err != nil {
				log.Fatalf("create edges: %v", err)
			}
			if len(res.Rows) > 0 && res.Rows[0][0].Kind == value.KindInt {
				edges += int(res.Rows[0][0].Int)
			}
		}
	}
	report("create edges", edges, start)

	if *compact {
		start = time.Now()
		if err := db.Compact(); err != nil {
			log.Fatalf("compact: %v", err)
		}
		fmt.Printf("%-16s %v\n", "compact", time.Since(start).Round(time.Millisecond))
	}

	start = time.Now()
	res, err := db.Query(`MATCH (u:User) RETURN count(u) AS c`, nil)
	if err != nil {
		log.Fatalf("scan: %v", err)
	}
	report("full scan", int(res.Rows[0][0].Int), start)

	start = time.Now()
	res, err = db.Query(`MATCH (:User {uid: 0})-[:FOLLOWS*1..3]->(x) RETURN count(*) AS c`, nil)
	if err != nil {
		log.Fatalf("traverse: %v", err)
	}
	report("3-hop traverse", int(res.Rows[0][0].Int), start)

	start = time.Now()
	for i := 0; i < *lookups; i++ {
		params := map[string]value.Value{"uid": value.Int(int64(i % *nodes))}
		if _, err := db.Query(`MATCH (u:User {uid: $uid}) RETURN u.uid`, params); err != nil {
			log.Fatalf("lookup: %v", err)
		}
	}
	report("index lookups", *lookups, start)

	stats := db.Engine().Stats()
	pages := db.Engine().Pager().Stats()
	fmt.Printf("\nnodes=%s segments=%d commits=%d page-writes=%s bytes=%s\n",
		humanize.Comma(int64(stats.Nodes)), stats.Segments, stats.Commits,
		humanize.Comma(pages.PageWrites), humanize.IBytes(uint64(pages.BytesWritten)))
}

func report(name string, n int, start time.Time) {
	elapsed := time.Since(start)
	perSec := float64(n) / elapsed.Seconds()
	fmt.Printf("%-16s %8s ops in %8v  (%s ops/s)\n",
		name, humanize.Comma(int64(n)), elapsed.Round(time.Millisecond),
		humanize.CommafWithDigits(perSec, 0))
}
