package tools

import (
	"context"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-toolkit/internal/dispatch"
)

// VPRInferOptions are the parameters of a voice-print recognition run.
// StdAudioSpeaker maps each speaker name to its reference recording.
type VPRInferOptions struct {
	StdAudioSpeaker       map[string]string `json:"stdAudioSpeaker"       toml:"stdAudioSpeaker"`
	AudioDirInput         string            `json:"audioDirInput"         toml:"audioDirInput"`
	ModelPath             string            `json:"modelPath"             toml:"modelPath"`
	ModelType             string            `json:"modelType"             toml:"modelType"`
	FeatureMethod         string            `json:"featureMethod"         toml:"featureMethod"`
	DecisionThreshold     float64           `json:"decisionThreshold"     toml:"decisionThreshold"`
	AudioDuration         float64           `json:"audioDuration"         toml:"audioDuration"`
	OutputRoot            string            `json:"outputRoot"            toml:"outputRoot"`
	OutputDirName         string            `json:"outputDirName"         toml:"outputDirName"`
	AudioSpeakersDataName string            `json:"audioSpeakersDataName" toml:"audioSpeakersDataName"`
}

// DefaultVPRInferOptions returns the documented defaults.
func DefaultVPRInferOptions() VPRInferOptions {
	return VPRInferOptions{
		ModelPath:             "./Models/.pth",
		ModelType:             "Ecapa-Tdnn",
		FeatureMethod:         "melspectrogram",
		DecisionThreshold:     0.6,
		AudioDuration:         4.2,
		OutputRoot:            "./",
		AudioSpeakersDataName: "AudioSpeakerData",
	}
}

// Validate checks the required parameters.
func (o VPRInferOptions) Validate() error {
	if len(o.StdAudioSpeaker) == 0 {
		return missing("stdAudioSpeaker")
	}

	if o.AudioDirInput == "" {
		return missing("audioDirInput")
	}

	return nil
}

// Params renders the request parameters.
func (o VPRInferOptions) Params() *dispatch.Params {
	return dispatch.NewParams().
		Set("stdAudioSpeaker", o.StdAudioSpeaker).
		Set("audioDirInput", o.AudioDirInput).
		Set("modelPath", o.ModelPath).
		Set("modelType", o.ModelType).
		Set("featureMethod", o.FeatureMethod).
		Set("decisionThreshold", o.DecisionThreshold).
		Set("audioDuration", o.AudioDuration).
		Set("outputRoot", o.OutputRoot).
		Set("outputDirName", o.OutputDirName).
		Set("audioSpeakersDataName", o.AudioSpeakersDataName)
}

// VPR drives the server's voice-print recognition tool.
type VPR struct {
	facade
}

// NewVPR creates the voice-print recognition façade.
func NewVPR(sender Sender, opts Options, log *logger.Logger) *VPR {
	return &VPR{facade: newFacade("vpr", sender, opts, log)}
}

// Infer labels every recording under AudioDirInput with the closest
// reference speaker and writes the speaker-label file.
func (v *VPR) Infer(ctx context.Context, opts VPRInferOptions) error {
	err := opts.Validate()
	if err != nil {
		return err
	}

	return v.call(ctx, PathVPRInfer, opts.Params())
}
