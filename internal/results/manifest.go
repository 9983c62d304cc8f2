package results

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadManifest parses a dataset manifest such as "PATH|NAME|LANG|TEXT".
// Each line is keyed by its first field resolved against the manifest's
// directory and maps to the whole trimmed line.
func ReadManifest(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	dir := filepath.Dir(path)
	lines := nonEmptyLines(data)
	manifest := make(map[string]string, len(lines))

	for _, line := range lines {
		audio, _, _ := strings.Cut(line, fieldSeparator)
		if !filepath.IsAbs(audio) {
			audio = filepath.Join(dir, audio)
		}

		manifest[filepath.Clean(audio)] = line
	}

	return manifest, nil
}

// SaveManifest writes lines joined by newlines in a single write.
func SaveManifest(lines []string, path string) error {
	err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}
