package results

import (
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const subtitleExt = ".srt"

// stem returns the file name of path without its last extension.
func stem(path string) string {
	base := filepath.Base(path)

	return strings.TrimSuffix(base, filepath.Ext(base))
}

func hasStem(name, stem string) bool {
	return strings.HasPrefix(name, stem+".")
}

// ReadSubtitles pairs every subtitle file in srtDir with the first file
// under audioDir, searched recursively in lexical order, that shares its
// stem. The result maps the audio path to the subtitle content. Subtitles
// without a matching audio file are skipped.
func ReadSubtitles(srtDir, audioDir string) (map[string]string, error) {
	subtitles, err := filepath.Glob(filepath.Join(srtDir, "*"+subtitleExt))
	if err != nil {
		return nil, fmt.Errorf("failed to list subtitles: %w", err)
	}

	audioFiles, err := listAudio(audioDir)
	if err != nil {
		return nil, err
	}

	result := make(map[string]string, len(subtitles))

	for _, subtitle := range subtitles {
		name := stem(subtitle)

		idx := slices.IndexFunc(audioFiles, func(audio string) bool {
			return hasStem(filepath.Base(audio), name)
		})
		if idx < 0 {
			continue
		}

		content, err := os.ReadFile(subtitle)
		if err != nil {
			return nil, fmt.Errorf("failed to read subtitle %s: %w", subtitle, err)
		}

		result[audioFiles[idx]] = string(content)
	}

	return result, nil
}

func listAudio(root string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if strings.HasPrefix(entry.Name(), ".") && path != root {
			if entry.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if entry.IsDir() || filepath.Ext(path) == subtitleExt {
			return nil
		}

		files = append(files, path)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list audio files under %s: %w", root, err)
	}

	return files, nil
}

// SaveSubtitles overwrites, for every audio path in subtitles, the first
// file in srtDir sharing the audio file's stem. Entries without such a file
// are skipped; no file is ever created.
func SaveSubtitles(subtitles map[string]string, srtDir string) error {
	entries, err := os.ReadDir(srtDir)
	if err != nil {
		return fmt.Errorf("failed to list subtitles: %w", err)
	}

	for _, audio := range slices.Sorted(maps.Keys(subtitles)) {
		name := stem(audio)

		idx := slices.IndexFunc(entries, func(entry os.DirEntry) bool {
			return !entry.IsDir() && hasStem(entry.Name(), name)
		})
		if idx < 0 {
			continue
		}

		target := filepath.Join(srtDir, entries[idx].Name())

		err := os.WriteFile(target, []byte(subtitles[audio]), filePermissions)
		if err != nil {
			return fmt.Errorf("failed to write subtitle %s: %w", target, err)
		}
	}

	return nil
}
