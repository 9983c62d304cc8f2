package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Operation names.
const (
	OpAudioProcess         = "audio.process"
	OpVPRInfer             = "vpr.infer"
	OpASRInfer             = "asr.infer"
	OpGPTSoVITSPreprocess  = "gptsovits.preprocess"
	OpGPTSoVITSTrain       = "gptsovits.train"
	OpGPTSoVITSInferWebUI  = "gptsovits.infer_webui"
	OpGPTSoVITSInferInit   = "gptsovits.infer_init"
	OpGPTSoVITSInferHandle = "gptsovits.infer_handle"
)

// Static errors.
var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrDecodeParameters = errors.New("failed to decode parameters")
)

// Decoder unmarshals operation parameters into an options value that
// already holds the defaults.
type Decoder func(data []byte, v any) error

// Parameter decoders.
var (
	JSONDecoder Decoder = json.Unmarshal
	TOMLDecoder Decoder = toml.Unmarshal
)

// Toolkit bundles the façades of one server session.
type Toolkit struct {
	Audio     *AudioProcessor
	VPR       *VPR
	Whisper   *Whisper
	GPTSoVITS *GPTSoVITS
}

// NewToolkit creates every façade on top of one sender.
func NewToolkit(sender Sender, opts Options, log *logger.Logger) *Toolkit {
	return &Toolkit{
		Audio:     NewAudioProcessor(sender, opts, log),
		VPR:       NewVPR(sender, opts, log),
		Whisper:   NewWhisper(sender, opts, log),
		GPTSoVITS: NewGPTSoVITS(sender, opts, log),
	}
}

// Terminate shuts the shared server down. Every façade talks to the same
// process, so any one of them will do.
func (k *Toolkit) Terminate(ctx context.Context) error {
	return k.Audio.Terminate(ctx)
}

// Operation is a named tool call that can be driven from serialized
// parameters.
type Operation struct {
	Name        string
	Path        string
	Description string

	run func(ctx context.Context, kit *Toolkit, data []byte, decode Decoder) error
}

// Run decodes data on top of the operation's defaults and invokes the
// façade. Empty data runs with the defaults alone.
func (o Operation) Run(ctx context.Context, kit *Toolkit, data []byte, decode Decoder) error {
	return o.run(ctx, kit, data, decode)
}

func operation[T any](
	name, path, description string,
	defaults func() T,
	invoke func(ctx context.Context, kit *Toolkit, opts T) error,
) Operation {
	return Operation{
		Name:        name,
		Path:        path,
		Description: description,
		run: func(ctx context.Context, kit *Toolkit, data []byte, decode Decoder) error {
			opts := defaults()

			if len(bytes.TrimSpace(data)) > 0 {
				if decode == nil {
					decode = JSONDecoder
				}

				err := decode(data, &opts)
				if err != nil {
					return fmt.Errorf("%w for %s: %w", ErrDecodeParameters, name, err)
				}
			}

			return invoke(ctx, kit, opts)
		},
	}
}

var registry = []Operation{
	operation(OpAudioProcess, PathProcessAudio,
		"convert, denoise and slice audio files",
		DefaultProcessAudioOptions,
		func(ctx context.Context, kit *Toolkit, opts ProcessAudioOptions) error {
			return kit.Audio.ProcessAudio(ctx, opts)
		}),
	operation(OpVPRInfer, PathVPRInfer,
		"label recordings with reference speakers",
		DefaultVPRInferOptions,
		func(ctx context.Context, kit *Toolkit, opts VPRInferOptions) error {
			return kit.VPR.Infer(ctx, opts)
		}),
	operation(OpASRInfer, PathASRInfer,
		"transcribe recordings into subtitle files",
		DefaultWhisperInferOptions,
		func(ctx context.Context, kit *Toolkit, opts WhisperInferOptions) error {
			return kit.Whisper.Infer(ctx, opts)
		}),
	operation(OpGPTSoVITSPreprocess, PathGPTSoVITSDataset,
		"build a training manifest from subtitles and speaker labels",
		DefaultPreprocessOptions,
		func(ctx context.Context, kit *Toolkit, opts PreprocessOptions) error {
			return kit.GPTSoVITS.Preprocess(ctx, opts)
		}),
	operation(OpGPTSoVITSTrain, PathGPTSoVITSTrain,
		"fine-tune the voice cloning models",
		DefaultTrainOptions,
		func(ctx context.Context, kit *Toolkit, opts TrainOptions) error {
			return kit.GPTSoVITS.Train(ctx, opts)
		}),
	operation(OpGPTSoVITSInferWebUI, PathGPTSoVITSInferWebUI,
		"launch the inference web UI",
		DefaultInferWebUIOptions,
		func(ctx context.Context, kit *Toolkit, opts InferWebUIOptions) error {
			return kit.GPTSoVITS.InferWebUI(ctx, opts)
		}),
	operation(OpGPTSoVITSInferInit, PathGPTSoVITSInferInit,
		"load the inference engine with a reference voice",
		DefaultInferInitOptions,
		func(ctx context.Context, kit *Toolkit, opts InferInitOptions) error {
			return kit.GPTSoVITS.InferInit(ctx, opts)
		}),
	operation(OpGPTSoVITSInferHandle, PathGPTSoVITSInferHandle,
		"synthesize speech with the loaded engine",
		DefaultInferHandleOptions,
		func(ctx context.Context, kit *Toolkit, opts InferHandleOptions) error {
			return kit.GPTSoVITS.InferHandle(ctx, opts)
		}),
}

// Lookup returns the operation registered under name.
func Lookup(name string) (Operation, error) {
	for _, op := range registry {
		if op.Name == name {
			return op, nil
		}
	}

	return Operation{}, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
}

// Operations returns every registered operation in registration order.
func Operations() []Operation {
	return append([]Operation(nil), registry...)
}

// Names returns the registered operation names in registration order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for _, op := range registry {
		names = append(names, op.Name)
	}

	return names
}
