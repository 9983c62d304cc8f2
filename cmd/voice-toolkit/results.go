package main

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/book-expert/voice-toolkit/internal/results"
	"github.com/spf13/cobra"
)

const (
	flagLabels = "labels"
	flagMoveTo = "move-to"
	flagFrom   = "from"
)

// readMapping decodes a JSON or TOML file holding a flat string map.
func readMapping(path string) (map[string]string, error) {
	data, decode, err := readParams(path)
	if err != nil {
		return nil, err
	}

	mapping := make(map[string]string)

	err = decode(data, &mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return mapping, nil
}

func newResultsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Print or write result files shared with the server",
	}

	cmd.AddCommand(newSpeakersCommand(), newManifestCommand(), newSubtitlesCommand())

	return cmd
}

func newSpeakersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "speakers <file>",
		Short: "Print a speaker-label file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			labels, err := results.ReadSpeakerLabels(args[0])
			if err != nil {
				return err
			}

			for _, label := range labels {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", label.Audio, label.Speaker, label.Score)
			}

			return nil
		},
	}

	save := &cobra.Command{
		Use:   "save <file>",
		Short: "Write a speaker-label file, optionally gathering audio per speaker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			labelsPath, err := cmd.Flags().GetString(flagLabels)
			if err != nil {
				return err
			}

			moveTo, err := cmd.Flags().GetString(flagMoveTo)
			if err != nil {
				return err
			}

			labels, err := readMapping(labelsPath)
			if err != nil {
				return err
			}

			move := results.MoveOptions{Enabled: moveTo != "", Destination: moveTo}

			err = results.SaveSpeakerLabels(labels, args[0], move)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d labels to %s\n", len(labels), args[0])

			return nil
		},
	}

	save.Flags().String(flagLabels, "", "JSON or TOML file mapping audio paths to speakers")
	save.Flags().String(flagMoveTo, "", "Copy every labelled audio file into <dir>/<speaker>/")
	_ = save.MarkFlagRequired(flagLabels)

	cmd.AddCommand(save)

	return cmd
}

func newManifestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest <file>",
		Short: "Print a dataset manifest keyed by resolved audio path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := results.ReadManifest(args[0])
			if err != nil {
				return err
			}

			for _, audio := range slices.Sorted(maps.Keys(manifest)) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", audio, manifest[audio])
			}

			return nil
		},
	}

	save := &cobra.Command{
		Use:   "save <file>",
		Short: "Write a dataset manifest from a file of manifest lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := cmd.Flags().GetString(flagFrom)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(from)
			if err != nil {
				return fmt.Errorf("failed to read manifest lines: %w", err)
			}

			var lines []string

			for line := range strings.Lines(string(data)) {
				line = strings.TrimRight(line, "\r\n")
				if line != "" {
					lines = append(lines, line)
				}
			}

			err = results.SaveManifest(lines, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d lines to %s\n", len(lines), args[0])

			return nil
		},
	}

	save.Flags().String(flagFrom, "", "Text file with one manifest line per line")
	_ = save.MarkFlagRequired(flagFrom)

	cmd.AddCommand(save)

	return cmd
}

func newSubtitlesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subtitles <srt-dir> <audio-dir>",
		Short: "Print the subtitles paired with each audio file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			subtitles, err := results.ReadSubtitles(args[0], args[1])
			if err != nil {
				return err
			}

			for _, audio := range slices.Sorted(maps.Keys(subtitles)) {
				fmt.Fprintf(cmd.OutOrStdout(), "== %s\n%s\n", audio, subtitles[audio])
			}

			return nil
		},
	}

	save := &cobra.Command{
		Use:   "save <srt-dir>",
		Short: "Overwrite existing subtitle files from an audio-to-text mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := cmd.Flags().GetString(flagFrom)
			if err != nil {
				return err
			}

			subtitles, err := readMapping(from)
			if err != nil {
				return err
			}

			err = results.SaveSubtitles(subtitles, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Saved subtitles for %d audio files into %s\n", len(subtitles), args[0])

			return nil
		},
	}

	save.Flags().String(flagFrom, "", "JSON or TOML file mapping audio paths to subtitle text")
	_ = save.MarkFlagRequired(flagFrom)

	cmd.AddCommand(save)

	return cmd
}
