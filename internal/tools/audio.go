package tools

import (
	"context"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-toolkit/internal/dispatch"
)

// ProcessAudioOptions are the parameters of an audio processing run:
// format conversion, optional denoising and silence-based slicing.
// SampleRate and SampleWidth take a number or a string; nil keeps the
// source value.
type ProcessAudioOptions struct {
	InputDir         string  `json:"inputDir"         toml:"inputDir"`
	OutputFormat     string  `json:"outputFormat"     toml:"outputFormat"`
	SampleRate       any     `json:"sampleRate"       toml:"sampleRate"`
	SampleWidth      any     `json:"sampleWidth"      toml:"sampleWidth"`
	ToMono           bool    `json:"toMono"           toml:"toMono"`
	DenoiseAudio     bool    `json:"denoiseAudio"     toml:"denoiseAudio"`
	DenoiseModelPath string  `json:"denoiseModelPath" toml:"denoiseModelPath"`
	DenoiseTarget    string  `json:"denoiseTarget"    toml:"denoiseTarget"`
	SliceAudio       bool    `json:"sliceAudio"       toml:"sliceAudio"`
	RMSThreshold     float64 `json:"rmsThreshold"     toml:"rmsThreshold"`
	AudioLength      int     `json:"audioLength"      toml:"audioLength"`
	SilentInterval   int     `json:"silentInterval"   toml:"silentInterval"`
	HopSize          int     `json:"hopSize"          toml:"hopSize"`
	SilenceKept      int     `json:"silenceKept"      toml:"silenceKept"`
	OutputRoot       string  `json:"outputRoot"       toml:"outputRoot"`
	OutputDirName    string  `json:"outputDirName"    toml:"outputDirName"`
}

// DefaultProcessAudioOptions returns the documented defaults. InputDir must
// still be set.
func DefaultProcessAudioOptions() ProcessAudioOptions {
	return ProcessAudioOptions{
		OutputFormat:   "wav",
		DenoiseAudio:   true,
		SliceAudio:     true,
		RMSThreshold:   -40,
		AudioLength:    5000,
		SilentInterval: 300,
		HopSize:        10,
		SilenceKept:    1000,
		OutputRoot:     "./",
	}
}

// Validate checks the required parameters.
func (o ProcessAudioOptions) Validate() error {
	if o.InputDir == "" {
		return missing("inputDir")
	}

	return nil
}

// Params renders the request parameters.
func (o ProcessAudioOptions) Params() *dispatch.Params {
	return dispatch.NewParams().
		Set("inputDir", o.InputDir).
		Set("outputFormat", o.OutputFormat).
		Set("sampleRate", o.SampleRate).
		Set("sampleWidth", o.SampleWidth).
		Set("toMono", o.ToMono).
		Set("denoiseAudio", o.DenoiseAudio).
		Set("denoiseModelPath", o.DenoiseModelPath).
		Set("denoiseTarget", o.DenoiseTarget).
		Set("sliceAudio", o.SliceAudio).
		Set("rmsThreshold", o.RMSThreshold).
		Set("audioLength", o.AudioLength).
		Set("silentInterval", o.SilentInterval).
		Set("hopSize", o.HopSize).
		Set("silenceKept", o.SilenceKept).
		Set("outputRoot", o.OutputRoot).
		Set("outputDirName", o.OutputDirName)
}

// AudioProcessor drives the server's audio processing tool.
type AudioProcessor struct {
	facade
}

// NewAudioProcessor creates the audio processing façade.
func NewAudioProcessor(sender Sender, opts Options, log *logger.Logger) *AudioProcessor {
	return &AudioProcessor{facade: newFacade("audio-processor", sender, opts, log)}
}

// ProcessAudio runs audio processing over InputDir.
func (a *AudioProcessor) ProcessAudio(ctx context.Context, opts ProcessAudioOptions) error {
	err := opts.Validate()
	if err != nil {
		return err
	}

	return a.call(ctx, PathProcessAudio, opts.Params())
}
