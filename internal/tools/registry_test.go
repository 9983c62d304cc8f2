package tools_test

import (
	"context"
	"testing"

	"github.com/book-expert/voice-toolkit/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{
		"audio.process",
		"vpr.infer",
		"asr.infer",
		"gptsovits.preprocess",
		"gptsovits.train",
		"gptsovits.infer_webui",
		"gptsovits.infer_init",
		"gptsovits.infer_handle",
	}, tools.Names())
	assert.Len(t, tools.Operations(), 8)
}

func TestLookupUnknown(t *testing.T) {
	t.Parallel()

	_, err := tools.Lookup("audio.unknown")
	require.ErrorIs(t, err, tools.ErrUnknownOperation)
}

func TestRunDecodesJSONOverDefaults(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	kit := tools.NewToolkit(sender, tools.Options{}, newTestLogger(t))

	op, err := tools.Lookup(tools.OpAudioProcess)
	require.NoError(t, err)
	assert.Equal(t, tools.PathProcessAudio, op.Path)

	err = op.Run(context.Background(), kit, []byte(`{"inputDir":"/in","sampleRate":16000,"denoiseAudio":false}`),
		tools.JSONDecoder)
	require.NoError(t, err)

	body := sender.last(t).body
	assert.Contains(t, body, `"inputDir":"/in"`)
	assert.Contains(t, body, `"sampleRate":16000`)
	assert.Contains(t, body, `"denoiseAudio":false`)
	assert.Contains(t, body, `"sliceAudio":true`)
	assert.Contains(t, body, `"silenceKept":1000`)
}

func TestRunPassesLooselyTypedValuesThrough(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		op     string
		params string
		decode tools.Decoder
		want   []string
	}{
		{
			name:   "whisper json",
			op:     tools.OpASRInfer,
			params: `{"audioDir":"/wav","verbose":null,"conditionOnPreviousText":1,"fp16":"auto"}`,
			decode: tools.JSONDecoder,
			want:   []string{`"verbose":null`, `"conditionOnPreviousText":1`, `"fp16":"auto"`},
		},
		{
			name:   "audio json",
			op:     tools.OpAudioProcess,
			params: `{"inputDir":"/in","sampleRate":"44100","sampleWidth":2}`,
			decode: tools.JSONDecoder,
			want:   []string{`"sampleRate":"44100"`, `"sampleWidth":2`},
		},
		{
			name:   "audio toml",
			op:     tools.OpAudioProcess,
			params: "inputDir = \"/in\"\nsampleRate = 22050\nsampleWidth = \"16\"\n",
			decode: tools.TOMLDecoder,
			want:   []string{`"sampleRate":22050`, `"sampleWidth":"16"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sender := &fakeSender{}
			kit := tools.NewToolkit(sender, tools.Options{}, newTestLogger(t))

			op, err := tools.Lookup(tt.op)
			require.NoError(t, err)
			require.NoError(t, op.Run(context.Background(), kit, []byte(tt.params), tt.decode))

			body := sender.last(t).body
			for _, want := range tt.want {
				assert.Contains(t, body, want)
			}
		})
	}
}

func TestRunDecodesTOML(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	kit := tools.NewToolkit(sender, tools.Options{}, newTestLogger(t))

	op, err := tools.Lookup(tools.OpVPRInfer)
	require.NoError(t, err)

	params := `
audioDirInput = "/data/sliced"
decisionThreshold = 0.75

[stdAudioSpeaker]
Alice = "/ref/alice.wav"
`

	require.NoError(t, op.Run(context.Background(), kit, []byte(params), tools.TOMLDecoder))

	body := sender.last(t).body
	assert.Contains(t, body, `"stdAudioSpeaker":{"Alice":"/ref/alice.wav"}`)
	assert.Contains(t, body, `"decisionThreshold":0.75`)
	assert.Contains(t, body, `"modelType":"Ecapa-Tdnn"`)
}

func TestRunWithDefaultsOnly(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	kit := tools.NewToolkit(sender, tools.Options{}, newTestLogger(t))

	op, err := tools.Lookup(tools.OpASRInfer)
	require.NoError(t, err)

	require.NoError(t, op.Run(context.Background(), kit, nil, nil))
	assert.Equal(t, tools.PathASRInfer, sender.last(t).path)
}

func TestRunRejectsMalformedParameters(t *testing.T) {
	t.Parallel()

	kit := tools.NewToolkit(&fakeSender{}, tools.Options{}, newTestLogger(t))

	op, err := tools.Lookup(tools.OpGPTSoVITSTrain)
	require.NoError(t, err)

	err = op.Run(context.Background(), kit, []byte(`{"lora_rank":`), tools.JSONDecoder)
	require.ErrorIs(t, err, tools.ErrDecodeParameters)
	assert.Contains(t, err.Error(), "gptsovits.train")
}
