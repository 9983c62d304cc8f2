package tools

import (
	"context"
	"slices"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-toolkit/internal/dispatch"
)

var (
	loraRanks      = []int{16, 32, 64, 128}
	languages      = []string{"zh", "yue", "en", "ja", "ko", "auto", "auto_yue"}
	devices        = []string{"cuda", "cpu"}
	mediaTypes     = []string{"wav", "ogg", "aac"}
	subTypes       = []string{"int16", "int32"}
	streamModes    = []string{"close", "normal", "keepalive"}
	sampleStepsSet = []int{4, 8, 16, 32}
	cutPunctuation = []string{",", ".", ";", "?", "!", "、", "，", "。", "？", "！", "；", "：", "…"}
)

func oneOf[T comparable](name string, value T, choices []T) error {
	if !slices.Contains(choices, value) {
		return invalid(name, value)
	}

	return nil
}

// PreprocessOptions are the parameters of dataset creation from subtitles
// and a speaker-label file.
type PreprocessOptions struct {
	SRTDir                string `json:"srtDir"                toml:"srtDir"`
	AudioSpeakersDataPath string `json:"audioSpeakersDataPath" toml:"audioSpeakersDataPath"`
	DataFormat            string `json:"dataFormat"            toml:"dataFormat"`
	OutputRoot            string `json:"outputRoot"            toml:"outputRoot"`
	OutputDirName         string `json:"outputDirName"         toml:"outputDirName"`
	FileListName          string `json:"fileListName"          toml:"fileListName"`
}

// DefaultPreprocessOptions returns the documented defaults.
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		DataFormat:   "PATH|NAME|LANG|TEXT",
		OutputRoot:   "./",
		FileListName: "FileList",
	}
}

// Validate checks the required parameters.
func (o PreprocessOptions) Validate() error {
	if o.SRTDir == "" {
		return missing("srtDir")
	}

	if o.AudioSpeakersDataPath == "" {
		return missing("audioSpeakersDataPath")
	}

	return nil
}

// Params renders the request parameters.
func (o PreprocessOptions) Params() *dispatch.Params {
	return dispatch.NewParams().
		Set("srtDir", o.SRTDir).
		Set("audioSpeakersDataPath", o.AudioSpeakersDataPath).
		Set("dataFormat", o.DataFormat).
		Set("outputRoot", o.OutputRoot).
		Set("outputDirName", o.OutputDirName).
		Set("fileListName", o.FileListName)
}

// TrainOptions are the parameters of a fine-tuning run.
type TrainOptions struct {
	Version          string `json:"version"           toml:"version"`
	FileListPath     string `json:"fileList_path"     toml:"fileList_path"`
	ModelDirBert     string `json:"modelDir_bert"     toml:"modelDir_bert"`
	ModelDirHubert   string `json:"modelDir_hubert"   toml:"modelDir_hubert"`
	ModelPathGPT     string `json:"modelPath_gpt"     toml:"modelPath_gpt"`
	ModelPathSovitsG string `json:"modelPath_sovitsG" toml:"modelPath_sovitsG"`
	ModelPathSovitsD string `json:"modelPath_sovitsD" toml:"modelPath_sovitsD"`
	HalfPrecision    bool   `json:"half_precision"    toml:"half_precision"`
	IfGradCkpt       bool   `json:"if_grad_ckpt"      toml:"if_grad_ckpt"`
	LoraRank         int    `json:"lora_rank"         toml:"lora_rank"`
	OutputRoot       string `json:"output_root"       toml:"output_root"`
	OutputDirName    string `json:"output_dirName"    toml:"output_dirName"`
	OutputLogDir     string `json:"output_logDir"     toml:"output_logDir"`
}

// DefaultTrainOptions returns the documented defaults.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Version:          "v3",
		FileListPath:     "GPT-SoVITS/raw/xxx.list",
		ModelDirBert:     "GPT_SoVITS/pretrained_models/chinese-roberta-wwm-ext-large",
		ModelDirHubert:   "GPT_SoVITS/pretrained_models/chinese-hubert-base",
		ModelPathGPT:     "GPT_SoVITS/pretrained_models/s1bert25hz-5kh-longer-epoch=12-step=369668.ckpt",
		ModelPathSovitsG: "GPT_SoVITS/pretrained_models/s2G2333k.pth",
		ModelPathSovitsD: "GPT_SoVITS/pretrained_models/s2D2333k.pth",
		LoraRank:         32,
		OutputRoot:       "SoVITS_weights&GPT_weights",
		OutputDirName:    "模型名",
		OutputLogDir:     "logs",
	}
}

// Validate checks the required parameters and the LoRA rank.
func (o TrainOptions) Validate() error {
	if o.FileListPath == "" {
		return missing("fileList_path")
	}

	return oneOf("lora_rank", o.LoraRank, loraRanks)
}

// Params renders the request parameters.
func (o TrainOptions) Params() *dispatch.Params {
	return dispatch.NewParams().
		Set("version", o.Version).
		Set("fileList_path", o.FileListPath).
		Set("modelDir_bert", o.ModelDirBert).
		Set("modelDir_hubert", o.ModelDirHubert).
		Set("modelPath_gpt", o.ModelPathGPT).
		Set("modelPath_sovitsG", o.ModelPathSovitsG).
		Set("modelPath_sovitsD", o.ModelPathSovitsD).
		Set("half_precision", o.HalfPrecision).
		Set("if_grad_ckpt", o.IfGradCkpt).
		Set("lora_rank", o.LoraRank).
		Set("output_root", o.OutputRoot).
		Set("output_dirName", o.OutputDirName).
		Set("output_logDir", o.OutputLogDir)
}

// ModelPaths locate the weights an inference engine loads.
type ModelPaths struct {
	SovitsPath       string `json:"sovits_path"        toml:"sovits_path"`
	SovitsV3Path     string `json:"sovits_v3_path"     toml:"sovits_v3_path"`
	GPTPath          string `json:"gpt_path"           toml:"gpt_path"`
	CNHubertBasePath string `json:"cnhubert_base_path" toml:"cnhubert_base_path"`
	BertPath         string `json:"bert_path"          toml:"bert_path"`
	BigVGANPath      string `json:"bigvgan_path"       toml:"bigvgan_path"`
}

func (m ModelPaths) validate() error {
	required := []struct{ name, value string }{
		{"sovits_path", m.SovitsPath},
		{"sovits_v3_path", m.SovitsV3Path},
		{"gpt_path", m.GPTPath},
		{"cnhubert_base_path", m.CNHubertBasePath},
		{"bert_path", m.BertPath},
		{"bigvgan_path", m.BigVGANPath},
	}

	for _, field := range required {
		if field.value == "" {
			return missing(field.name)
		}
	}

	return nil
}

func (m ModelPaths) set(params *dispatch.Params) *dispatch.Params {
	return params.
		Set("sovits_path", m.SovitsPath).
		Set("sovits_v3_path", m.SovitsV3Path).
		Set("gpt_path", m.GPTPath).
		Set("cnhubert_base_path", m.CNHubertBasePath).
		Set("bert_path", m.BertPath).
		Set("bigvgan_path", m.BigVGANPath)
}

// InferWebUIOptions are the parameters for launching the inference web UI.
type InferWebUIOptions struct {
	Version string `json:"version" toml:"version"`
	ModelPaths
	HalfPrecision bool `json:"half_precision" toml:"half_precision"`
	BatchedInfer  bool `json:"batched_infer"  toml:"batched_infer"`
}

// DefaultInferWebUIOptions returns the documented defaults. The model paths
// must still be set.
func DefaultInferWebUIOptions() InferWebUIOptions {
	return InferWebUIOptions{
		Version:       "v3",
		HalfPrecision: true,
	}
}

// Validate checks the required parameters.
func (o InferWebUIOptions) Validate() error {
	return o.ModelPaths.validate()
}

// Params renders the request parameters.
func (o InferWebUIOptions) Params() *dispatch.Params {
	params := dispatch.NewParams().Set("version", o.Version)

	return o.ModelPaths.set(params).
		Set("half_precision", o.HalfPrecision).
		Set("batched_infer", o.BatchedInfer)
}

// InferInitOptions load an inference engine with a reference voice.
type InferInitOptions struct {
	ModelPaths
	ReferWavPath   string `json:"refer_wav_path"  toml:"refer_wav_path"`
	PromptText     string `json:"prompt_text"     toml:"prompt_text"`
	PromptLanguage string `json:"prompt_language" toml:"prompt_language"`
	Device         string `json:"device"          toml:"device"`
	HalfPrecision  bool   `json:"half_precision"  toml:"half_precision"`
	MediaType      string `json:"media_type"      toml:"media_type"`
	SubType        string `json:"sub_type"        toml:"sub_type"`
	StreamMode     string `json:"stream_mode"     toml:"stream_mode"`
}

// DefaultInferInitOptions returns the documented defaults. The model paths
// and the reference voice must still be set.
func DefaultInferInitOptions() InferInitOptions {
	return InferInitOptions{
		PromptLanguage: "auto",
		Device:         "cuda",
		HalfPrecision:  true,
		MediaType:      "wav",
		SubType:        "int16",
		StreamMode:     "normal",
	}
}

// Validate checks the required parameters and every enumerated choice.
func (o InferInitOptions) Validate() error {
	err := o.ModelPaths.validate()
	if err != nil {
		return err
	}

	if o.ReferWavPath == "" {
		return missing("refer_wav_path")
	}

	if o.PromptText == "" {
		return missing("prompt_text")
	}

	checks := []error{
		oneOf("prompt_language", o.PromptLanguage, languages),
		oneOf("device", o.Device, devices),
		oneOf("media_type", o.MediaType, mediaTypes),
		oneOf("sub_type", o.SubType, subTypes),
		oneOf("stream_mode", o.StreamMode, streamModes),
	}

	for _, check := range checks {
		if check != nil {
			return check
		}
	}

	return nil
}

// Params renders the request parameters.
func (o InferInitOptions) Params() *dispatch.Params {
	return o.ModelPaths.set(dispatch.NewParams()).
		Set("refer_wav_path", o.ReferWavPath).
		Set("prompt_text", o.PromptText).
		Set("prompt_language", o.PromptLanguage).
		Set("device", o.Device).
		Set("half_precision", o.HalfPrecision).
		Set("media_type", o.MediaType).
		Set("sub_type", o.SubType).
		Set("stream_mode", o.StreamMode)
}

// InferHandleOptions synthesize one text with the loaded engine. An empty
// reference voice reuses the one given to InferInit.
type InferHandleOptions struct {
	ReferWavPath   string   `json:"refer_wav_path"  toml:"refer_wav_path"`
	PromptText     string   `json:"prompt_text"     toml:"prompt_text"`
	PromptLanguage string   `json:"prompt_language" toml:"prompt_language"`
	InpRefs        []string `json:"inp_refs"        toml:"inp_refs"`
	Text           string   `json:"text"            toml:"text"`
	TextLanguage   string   `json:"text_language"   toml:"text_language"`
	CutPunc        *string  `json:"cut_punc"        toml:"cut_punc"`
	TopK           int      `json:"top_k"           toml:"top_k"`
	TopP           float64  `json:"top_p"           toml:"top_p"`
	Temperature    float64  `json:"temperature"     toml:"temperature"`
	Speed          float64  `json:"speed"           toml:"speed"`
	SampleSteps    int      `json:"sample_steps"    toml:"sample_steps"`
	IfSR           bool     `json:"if_sr"           toml:"if_sr"`
}

// DefaultInferHandleOptions returns the documented defaults. Text must
// still be set.
func DefaultInferHandleOptions() InferHandleOptions {
	return InferHandleOptions{
		PromptLanguage: "auto",
		TextLanguage:   "auto",
		TopK:           5,
		TopP:           1.0,
		Temperature:    1.0,
		Speed:          1.0,
		SampleSteps:    32,
	}
}

// Validate checks the required text and every enumerated choice.
func (o InferHandleOptions) Validate() error {
	if o.Text == "" {
		return missing("text")
	}

	checks := []error{
		oneOf("prompt_language", o.PromptLanguage, languages),
		oneOf("text_language", o.TextLanguage, languages),
		oneOf("sample_steps", o.SampleSteps, sampleStepsSet),
	}

	if o.CutPunc != nil {
		checks = append(checks, oneOf("cut_punc", *o.CutPunc, cutPunctuation))
	}

	for _, check := range checks {
		if check != nil {
			return check
		}
	}

	return nil
}

// Params renders the request parameters.
func (o InferHandleOptions) Params() *dispatch.Params {
	return dispatch.NewParams().
		Set("refer_wav_path", o.ReferWavPath).
		Set("prompt_text", o.PromptText).
		Set("prompt_language", o.PromptLanguage).
		Set("inp_refs", o.InpRefs).
		Set("text", o.Text).
		Set("text_language", o.TextLanguage).
		Set("cut_punc", o.CutPunc).
		Set("top_k", o.TopK).
		Set("top_p", o.TopP).
		Set("temperature", o.Temperature).
		Set("speed", o.Speed).
		Set("sample_steps", o.SampleSteps).
		Set("if_sr", o.IfSR)
}

// GPTSoVITS drives the server's voice cloning tool: dataset creation,
// training and inference.
type GPTSoVITS struct {
	facade
}

// NewGPTSoVITS creates the voice cloning façade.
func NewGPTSoVITS(sender Sender, opts Options, log *logger.Logger) *GPTSoVITS {
	return &GPTSoVITS{facade: newFacade("gpt-sovits", sender, opts, log)}
}

// Preprocess builds a training manifest from subtitles and speaker labels.
func (g *GPTSoVITS) Preprocess(ctx context.Context, opts PreprocessOptions) error {
	err := opts.Validate()
	if err != nil {
		return err
	}

	return g.call(ctx, PathGPTSoVITSDataset, opts.Params())
}

// Train fine-tunes the models on a manifest.
func (g *GPTSoVITS) Train(ctx context.Context, opts TrainOptions) error {
	err := opts.Validate()
	if err != nil {
		return err
	}

	return g.call(ctx, PathGPTSoVITSTrain, opts.Params())
}

// InferWebUI launches the server-side inference web UI.
func (g *GPTSoVITS) InferWebUI(ctx context.Context, opts InferWebUIOptions) error {
	err := opts.Validate()
	if err != nil {
		return err
	}

	return g.call(ctx, PathGPTSoVITSInferWebUI, opts.Params())
}

// InferInit loads the inference engine.
func (g *GPTSoVITS) InferInit(ctx context.Context, opts InferInitOptions) error {
	err := opts.Validate()
	if err != nil {
		return err
	}

	return g.call(ctx, PathGPTSoVITSInferInit, opts.Params())
}

// InferHandle synthesizes speech with the loaded engine.
func (g *GPTSoVITS) InferHandle(ctx context.Context, opts InferHandleOptions) error {
	err := opts.Validate()
	if err != nil {
		return err
	}

	return g.call(ctx, PathGPTSoVITSInferHandle, opts.Params())
}
