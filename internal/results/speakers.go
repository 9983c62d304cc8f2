package results

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrMoveDestinationMissing is returned when audio files should be moved
// but no destination directory was given.
var ErrMoveDestinationMissing = errors.New("move destination must not be empty")

// SpeakerLabel is one line of a speaker-label file. Score is empty when the
// line carries only an audio path and a speaker.
type SpeakerLabel struct {
	Audio   string
	Speaker string
	Score   string
}

// MoveOptions control whether saved audio files are gathered into one
// directory per speaker.
type MoveOptions struct {
	Enabled     bool
	Destination string
}

// ReadSpeakerLabels parses a speaker-label file.
func ReadSpeakerLabels(path string) ([]SpeakerLabel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read speaker labels: %w", err)
	}

	lines := nonEmptyLines(data)
	labels := make([]SpeakerLabel, 0, len(lines))

	for _, line := range lines {
		fields := strings.SplitN(line, fieldSeparator, 3)

		var label SpeakerLabel

		label.Audio = fields[0]

		if len(fields) > 1 {
			label.Speaker = fields[1]
		}

		if len(fields) > 2 {
			label.Score = fields[2]
		}

		labels = append(labels, label)
	}

	return labels, nil
}

// SaveSpeakerLabels writes one "audio|speaker" line per labelled audio file,
// sorted by audio path. Entries whose speaker is blank are dropped. With
// move enabled every audio file is copied into <destination>/<speaker>/
// and the copy's path is written instead.
func SaveSpeakerLabels(labels map[string]string, path string, move MoveOptions) error {
	if move.Enabled && move.Destination == "" {
		return ErrMoveDestinationMissing
	}

	var b strings.Builder

	for _, audio := range slices.Sorted(maps.Keys(labels)) {
		speaker := strings.TrimSpace(labels[audio])
		if speaker == "" {
			continue
		}

		if move.Enabled {
			moved, err := gather(audio, speaker, move.Destination)
			if err != nil {
				return err
			}

			audio = moved
		}

		b.WriteString(audio + fieldSeparator + speaker + "\n")
	}

	err := os.WriteFile(path, []byte(b.String()), filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write speaker labels: %w", err)
	}

	return nil
}

func gather(audio, speaker, destination string) (string, error) {
	dir := filepath.Join(destination, speaker)

	err := os.MkdirAll(dir, dirPermissions)
	if err != nil {
		return "", fmt.Errorf("failed to create speaker directory %s: %w", dir, err)
	}

	return copyInto(audio, dir)
}
