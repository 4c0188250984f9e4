// Command vcalfmt parses an iCalendar stream, normalizes it through the
// native value model and writes it back out.  It exists both as a
// command-line normalizer and as a smoke test for round-tripping real
// calendar files.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/icalkit/vcal"
)

func main() {
	var (
		inPath   = flag.String("in", "-", "input file, - for stdin")
		outPath  = flag.String("out", "-", "output file, - for stdout")
		strict   = flag.Bool("strict", false, "fail on validation errors instead of reporting them")
		implicit = flag.Bool("implicit", true, "fill in implicit properties (PRODID, UID, VTIMEZONE)")
		crlf     = flag.Bool("crlf", true, "terminate lines with CRLF")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	if err := run(*inPath, *outPath, *strict, *implicit, *crlf); err != nil {
		logger.Error("vcalfmt failed", "err", err)
		os.Exit(1)
	}
}

func run(inPath, outPath string, strict, implicit, crlf bool) error {
	in := io.Reader(os.Stdin)
	if inPath != "-" {
		f, err := os.Open(inPath)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	cal, err := vcal.ParseCalendar(in)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", inPath, err)
	}
	slog.Debug("parsed calendar", "components", len(cal.Components), "properties", len(cal.Properties))

	if err := cal.TransformToNative(nil); err != nil {
		return fmt.Errorf("transforming %s: %w", inPath, err)
	}

	ok, err := cal.Validate(nil, strict)
	if err != nil {
		return fmt.Errorf("validating %s: %w", inPath, err)
	}
	if !ok {
		slog.Warn("calendar has validation problems", "file", inPath)
	}

	if implicit {
		if err := cal.GenerateImplicitParameters(nil); err != nil {
			return fmt.Errorf("generating implicit properties: %w", err)
		}
	}

	out := io.Writer(os.Stdout)
	if outPath != "-" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	newLine := vcal.WithNewLineUnix
	if crlf {
		newLine = vcal.WithNewLineWindows
	}
	return cal.SerializeTo(out, newLine)
}
