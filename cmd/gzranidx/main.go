// Command gzranidx builds, inspects, and reads from a gzip access-point
// index, styled on the teacher's cmd/zstdseek CLI.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/climech/gzran"
	"github.com/climech/gzran/source"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gzranidx:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		input     = flag.String("input", "", "path to the compressed input file")
		indexPath = flag.String("index", "", "path to read/write the ZRAN_v1 index file")
		build     = flag.Bool("build", false, "build a full index and write it to -index")
		spacing   = flag.Uint64("spacing", 1<<20, "minimum uncompressed distance between access points")
		readAt    = flag.Int64("pread", -1, "if >= 0, read -length bytes at this uncompressed offset and print them")
		length    = flag.Int("length", 64, "number of bytes to read with -pread")
		verbose   = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *input == "" {
		return fmt.Errorf("missing -input")
	}

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	desc, err := source.OpenDescriptor(*input)
	if err != nil {
		return err
	}
	defer desc.Close()

	driver, err := gzran.Open(desc, gzran.WithSpacing(*spacing), gzran.WithLogger(logger))
	if err != nil {
		return err
	}
	defer driver.Close()

	if *build || *indexPath != "" && !fileExists(*indexPath) {
		if err := driver.BuildFullIndex(); err != nil {
			return fmt.Errorf("build index: %w", err)
		}
		if *indexPath != "" {
			f, err := os.Create(*indexPath)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := driver.ExportIndex(f); err != nil {
				return fmt.Errorf("export index: %w", err)
			}
		}
		points := driver.SeekPoints()
		fmt.Printf("built index with %d access points\n", len(points))
	} else if *indexPath != "" {
		f, err := os.Open(*indexPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := driver.ImportIndex(f); err != nil {
			return fmt.Errorf("import index: %w", err)
		}
	}

	if *readAt >= 0 {
		buf := make([]byte, *length)
		n, err := driver.PRead(buf, uint64(*readAt))
		if err != nil && err != io.EOF {
			return fmt.Errorf("pread at %d: %w", *readAt, err)
		}
		os.Stdout.Write(buf[:n])
	}

	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
