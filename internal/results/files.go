// Package results reads and writes the flat text files the inference
// server produces: speaker labels, subtitles paired with audio files, and
// pipe-delimited dataset manifests.
package results

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o750

	fieldSeparator = "|"
)

// nonEmptyLines splits data into lines with surrounding whitespace removed,
// skipping blank lines.
func nonEmptyLines(data []byte) []string {
	var lines []string

	for line := range strings.Lines(string(data)) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		lines = append(lines, trimmed)
	}

	return lines
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}

// copyInto copies src into dir under its base name unless a file of that
// name is already there, and returns the destination path.
func copyInto(src, dir string) (string, error) {
	dst := filepath.Join(dir, filepath.Base(src))

	found, err := exists(dst)
	if err != nil {
		return "", err
	}

	if found {
		return dst, nil
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePermissions)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dst, err)
	}

	_, err = io.Copy(out, in)
	closeErr := out.Close()

	if err != nil {
		return "", fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}

	if closeErr != nil {
		return "", fmt.Errorf("failed to close %s: %w", dst, closeErr)
	}

	return dst, nil
}
