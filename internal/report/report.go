package report

import (
	"fmt"
	"io"

	"photo-squeeze/internal/compressor"
)

var sizeUnits = []string{"B", "KB", "MB", "GB"}

// FormatSize renders a byte count with no decimals in the largest unit
// that keeps the value under 1024, capped at TB.
func FormatSize(size int64) string {
	value := float64(size)
	for _, unit := range sizeUnits {
		if value < 1024 {
			return fmt.Sprintf("%.0f%s", value, unit)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.0fTB", value)
}

// Status is the report label for a result.
func Status(res compressor.Result) string {
	if res.Succeeded {
		return "success"
	}
	return "not met"
}

// Line formats a single result.
func Line(res compressor.Result) string {
	line := fmt.Sprintf("%s: %s | original %s -> final %s",
		Status(res), res.Path, FormatSize(res.OriginalSize), FormatSize(res.FinalSize))
	if res.Note != "" {
		line += " | " + res.Note
	}
	return line
}

// Write prints the target header followed by one line per result, in order.
func Write(w io.Writer, results []compressor.Result, targetSize int64) error {
	if _, err := fmt.Fprintf(w, "target size: %s\n", FormatSize(targetSize)); err != nil {
		return err
	}
	for _, res := range results {
		if _, err := fmt.Fprintln(w, Line(res)); err != nil {
			return err
		}
	}
	return nil
}
