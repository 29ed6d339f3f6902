// Command demo opens a NervusDB database, runs a scripted tour of the
// Cypher surface (create, match, merge, optional match, aggregation,
// secondary indexes), and prints each result as an aligned table.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rivo/uniseg"

	nervusdb "github.com/nervusdb/nervusdb"
	"github.com/nervusdb/nervusdb/value"
)

func main() {
	dir := flag.String("dir", "", "data directory (default: a fresh temp dir)")
	flag.Parse()

	dataDir := *dir
	if dataDir == "" {
		tmp, err := os.MkdirTemp("", "nervusdb-demo-*")
		if err != nil {
			log.Fatal(err)
		}
		defer os.RemoveAll(tmp)
		dataDir = tmp + "/demo"
	}

	db, err := nervusdb.Open(dataDir)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer db.Close()

	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("NervusDB Demo: an embedded property graph with Cypher")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println()

	run(db, `CREATE (a:Person {name: 'Alice', age: 34})-[:KNOWS {since: 2015}]->(b:Person {name: 'Bob', age: 29})`)
	run(db, `CREATE (c:Person {name: 'Carol', age: 41})`)
	run(db, `MATCH (a:Person {name: 'Bob'}), (c:Person {name: 'Carol'}) CREATE (a)-[:KNOWS {since: 2020}]->(c)`)

	run(db, `MATCH (p:Person) RETURN p.name, p.age ORDER BY p.age`)
	run(db, `MATCH (a:Person)-[:KNOWS*1..2]->(b:Person) RETURN a.name, b.name`)
	run(db, `MATCH (p:Person) OPTIONAL MATCH (p)-[:KNOWS]->(q) RETURN p.name, q.name ORDER BY p.name`)
	run(db, `MATCH (p:Person) RETURN count(p) AS people, avg(p.age) AS avgAge`)
	run(db, `MERGE (d:Person {name: 'Dave'}) ON CREATE SET d.age = 55 RETURN d.name, d.age`)

	if err := db.CreateIndex("Person", "name"); err != nil {
		log.Fatalf("create index: %v", err)
	}
	run(db, `MATCH (p:Person {name: 'Carol'}) RETURN p.age`)

	run(db, `UNWIND range(1, 3) AS i CREATE (:Tag {ord: i})`)
	run(db, `MATCH (t:Tag) RETURN collect(t.ord) AS ords`)
	run(db, `CALL db.labels() YIELD label RETURN label`)

	printStats(db)
}

// run executes one statement stamped with a correlation id, printing the
// result table (or the error) to stdout.
func run(db *nervusdb.DB, cypher string) {
	corr := uuid.NewString()[:8]
	fmt.Printf("[%s] %s\n", corr, cypher)
	res, err := db.Query(cypher, nil)
	if err != nil {
		fmt.Printf("  error: %v\n\n", err)
		return
	}
	printTable(res)
	fmt.Println()
}

// printTable right-pads each column to its widest cell, measuring by
// grapheme cluster so multi-byte names stay aligned.
func printTable(res *nervusdb.Result) {
	if len(res.Columns) == 0 {
		fmt.Println("  (no rows)")
		return
	}
	widths := make([]int, len(res.Columns))
	for i, col := range res.Columns {
		widths[i] = uniseg.StringWidth(col)
	}
	cells := make([][]string, len(res.Rows))
	for r, row := range res.Rows {
		cells[r] = make([]string, len(row))
		for c, v := range row {
			cells[r][c] = renderValue(v)
			if w := uniseg.StringWidth(cells[r][c]); w > widths[c] {
				widths[c] = w
			}
		}
	}
	line := func(parts []string) {
		fmt.Print("  | ")
		for i, s := range parts {
			fmt.Print(s, strings.Repeat(" ", widths[i]-uniseg.StringWidth(s)), " | ")
		}
		fmt.Println()
	}
	line(res.Columns)
	sep := make([]string, len(res.Columns))
	for i := range sep {
		sep[i] = strings.Repeat("-", widths[i])
	}
	line(sep)
	for _, row := range cells {
		line(row)
	}
	fmt.Printf("  %d row(s)\n", len(res.Rows))
}

func renderValue(v value.Value) string {
	if v.Kind == value.KindString {
		return "'" + v.Str + "'"
	}
	return v.String()
}

func printStats(db *nervusdb.DB) {
	stats := db.Engine().Stats()
	pages := db.Engine().Pager().Stats()
	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("nodes=%s  runs=%d  segments=%d  commits=%d\n",
		humanize.Comma(int64(stats.Nodes)), stats.Runs, stats.Segments, stats.Commits)
	fmt.Printf("page reads=%s  page writes=%s  bytes written=%s\n",
		humanize.Comma(pages.PageReads), humanize.Comma(pages.PageWrites),
		humanize.IBytes(uint64(pages.BytesWritten)))
}
