// guardian-export dumps a node's transaction ledger into CSV and parquet
// report files. Intended to run against a stopped node's data directory.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"guardian/audit"
	"guardian/native/txrecord"
	"guardian/storage"
)

func main() {
	dataDir := flag.String("data", "./guardian-data", "Path to the node data directory")
	outDir := flag.String("out", "./exports", "Directory to write report files into")
	flag.Parse()

	db, err := storage.NewLevelDB(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := txrecord.NewStore(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open ledger: %v\n", err)
		os.Exit(1)
	}
	records := store.ListRange(1, store.NextID())

	csvPath, parquetPath, err := audit.Export(*outDir, time.Now(), records)
	if err != nil {
		fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("exported %d records\n%s\n%s\n", len(records), csvPath, parquetPath)
}
