package tools

import (
	"context"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-toolkit/internal/dispatch"
)

// WhisperInferOptions are the parameters of a transcription run. Verbose,
// ConditionOnPreviousText and FP16 are handed to Whisper unchanged, so any
// value it accepts (null for Verbose included) passes through.
type WhisperInferOptions struct {
	ModelPath               string `json:"modelPath"               toml:"modelPath"`
	AudioDir                string `json:"audioDir"                toml:"audioDir"`
	Verbose                 any    `json:"verbose"                 toml:"verbose"`
	AddLanguageInfo         bool   `json:"addLanguageInfo"         toml:"addLanguageInfo"`
	ConditionOnPreviousText any    `json:"conditionOnPreviousText" toml:"conditionOnPreviousText"`
	FP16                    any    `json:"fp16"                    toml:"fp16"`
	OutputRoot              string `json:"outputRoot"              toml:"outputRoot"`
	OutputDirName           string `json:"outputDirName"           toml:"outputDirName"`
}

// DefaultWhisperInferOptions returns the documented defaults.
func DefaultWhisperInferOptions() WhisperInferOptions {
	return WhisperInferOptions{
		ModelPath:               "./Models/.pt",
		AudioDir:                "./WAV_Files",
		Verbose:                 true,
		AddLanguageInfo:         true,
		ConditionOnPreviousText: false,
		FP16:                    true,
		OutputRoot:              "./",
		OutputDirName:           "SRT_Files",
	}
}

// Validate checks the required parameters.
func (o WhisperInferOptions) Validate() error {
	if o.AudioDir == "" {
		return missing("audioDir")
	}

	return nil
}

// Params renders the request parameters.
func (o WhisperInferOptions) Params() *dispatch.Params {
	return dispatch.NewParams().
		Set("modelPath", o.ModelPath).
		Set("audioDir", o.AudioDir).
		Set("verbose", o.Verbose).
		Set("addLanguageInfo", o.AddLanguageInfo).
		Set("conditionOnPreviousText", o.ConditionOnPreviousText).
		Set("fp16", o.FP16).
		Set("outputRoot", o.OutputRoot).
		Set("outputDirName", o.OutputDirName)
}

// Whisper drives the server's speech recognition tool.
type Whisper struct {
	facade
}

// NewWhisper creates the speech recognition façade.
func NewWhisper(sender Sender, opts Options, log *logger.Logger) *Whisper {
	return &Whisper{facade: newFacade("whisper", sender, opts, log)}
}

// Infer transcribes every recording under AudioDir into subtitle files.
func (w *Whisper) Infer(ctx context.Context, opts WhisperInferOptions) error {
	err := opts.Validate()
	if err != nil {
		return err
	}

	return w.call(ctx, PathASRInfer, opts.Params())
}
