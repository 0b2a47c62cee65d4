// tidemark is a small CLI over a local TidemarkDB instance, mainly for
// poking at a store and driving manual sync against a relay.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	tidemark "github.com/tidemark-io/tidemark-db"
	transport "github.com/tidemark-io/tidemark-db/internal/cloud"
	"github.com/tidemark-io/tidemark-db/pkg/crypt"
	"github.com/tidemark-io/tidemark-db/pkg/logging"
	"github.com/tidemark-io/tidemark-db/pkg/types"
)

func usage() {
	fmt.Println("Usage: tidemark <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  put <page-hex> <key> <value>")
	fmt.Println("  get <page-hex> <key>")
	fmt.Println("  delete <page-hex> <key>")
	fmt.Println("  heads <page-hex>")
	fmt.Println("  sync <page-hex> <relay-address>")
	fmt.Println("  gc")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	db, err := tidemark.New(tidemark.Config{
		Paths:     []string{getDataDir()},
		MasterKey: loadMasterKey(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing DB: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()

	switch os.Args[1] {
	case "put":
		args := parseArgs(3)
		page := parsePage(args[0])
		commit, err := db.Storage.PutKey(ctx, page, args[1], []byte(args[2]), types.Eager)
		if err != nil {
			fail("put", err)
		}
		fmt.Printf("Committed %s\n", commit.ID.String())

	case "get":
		args := parseArgs(2)
		page := parsePage(args[0])
		value, err := db.Storage.GetKey(ctx, page, args[1])
		if err != nil {
			fail("get", err)
		}
		os.Stdout.Write(value)
		fmt.Println()

	case "delete":
		args := parseArgs(2)
		page := parsePage(args[0])
		commit, err := db.Storage.DeleteKey(ctx, page, args[1])
		if err != nil {
			fail("delete", err)
		}
		fmt.Printf("Committed %s\n", commit.ID.String())

	case "heads":
		args := parseArgs(1)
		page := parsePage(args[0])
		heads, err := db.Storage.GetHeads(ctx, page)
		if err != nil {
			fail("heads", err)
		}
		for _, head := range heads {
			commit, err := db.Storage.GetCommit(ctx, page, head)
			if err != nil {
				fail("heads", err)
			}
			commit.PrettyPrint()
		}

	case "sync":
		args := parseArgs(2)
		page := parsePage(args[0])
		provider := transport.NewQUICProvider(logging.Logger, args[1])
		defer func() { _ = provider.Close() }()
		manager := db.AttachProvider(provider)
		if err := manager.SyncNow(ctx, page); err != nil {
			fail("sync", err)
		}
		fmt.Println("Sync complete.")

	case "gc":
		if err := db.Storage.GarbageCollect(ctx); err != nil {
			fail("gc", err)
		}
		fmt.Println("Garbage collection complete.")

	default:
		usage()
	}
}

func parseArgs(n int) []string {
	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < n {
		usage()
	}
	return fs.Args()
}

func parsePage(s string) types.PageID {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(types.PageID{}) {
		fmt.Fprintf(os.Stderr, "Invalid page id %q: want %d hex bytes\n", s, len(types.PageID{}))
		os.Exit(1)
	}
	var page types.PageID
	copy(page[:], raw)
	return page
}

func fail(op string, err error) {
	fmt.Fprintf(os.Stderr, "Error in %s: %v\n", op, err)
	os.Exit(1)
}

func getDataDir() string {
	if dir := os.Getenv("TIDEMARK_DATA"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./tidemark-data"
	}
	return filepath.Join(home, ".tidemark")
}

// loadMasterKey reads the key file next to the data dir, creating a
// fresh random key on first use.
func loadMasterKey() []byte {
	path := filepath.Join(getDataDir(), "master.key")
	if raw, err := os.ReadFile(path); err == nil && len(raw) >= 32 {
		return raw
	}
	key := make([]byte, 32)
	crypt.RandBytes(key)
	if err := os.MkdirAll(getDataDir(), 0o700); err == nil {
		_ = os.WriteFile(path, key, 0o600)
	}
	return key
}
