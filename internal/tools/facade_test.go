package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-toolkit/internal/dispatch"
	"github.com/book-expert/voice-toolkit/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConnectionReset = errors.New("connection reset by peer")

type sentRequest struct {
	method string
	path   string
	body   string
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []sentRequest
	posts   []string
	out     *dispatch.Output
	err     error
	postErr error
}

func (f *fakeSender) Send(
	_ context.Context,
	method, path string,
	params *dispatch.Params,
) (*dispatch.Output, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, sentRequest{method: method, path: path, body: string(body)})

	out := f.out
	if out == nil {
		out = &dispatch.Output{StatusCode: http.StatusOK}
	}

	return out, f.err
}

func (f *fakeSender) Post(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.posts = append(f.posts, path)

	return f.postErr
}

func (f *fakeSender) last(t *testing.T) sentRequest {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	require.NotEmpty(t, f.sent)

	return f.sent[len(f.sent)-1]
}

type fakeStopper struct {
	stopped  chan struct{}
	deadline bool
}

func (s *fakeStopper) Stop(ctx context.Context) error {
	_, s.deadline = ctx.Deadline()
	close(s.stopped)

	return nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "tools-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func TestProcessAudioSendsDefaults(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	audio := tools.NewAudioProcessor(sender, tools.Options{}, newTestLogger(t))

	opts := tools.DefaultProcessAudioOptions()
	opts.InputDir = "/data/raw"

	require.NoError(t, audio.ProcessAudio(context.Background(), opts))

	req := sender.last(t)
	assert.Equal(t, http.MethodGet, req.method)
	assert.Equal(t, "/processAudio", req.path)
	assert.Equal(t,
		`{"inputDir":"/data/raw","outputFormat":"wav","sampleRate":null,"sampleWidth":null,`+
			`"toMono":false,"denoiseAudio":true,"denoiseModelPath":"","denoiseTarget":"",`+
			`"sliceAudio":true,"rmsThreshold":-40,"audioLength":5000,"silentInterval":300,`+
			`"hopSize":10,"silenceKept":1000,"outputRoot":"./","outputDirName":""}`,
		req.body)
}

func TestVPRInferSendsVerbatimKeys(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	vpr := tools.NewVPR(sender, tools.Options{}, newTestLogger(t))

	opts := tools.DefaultVPRInferOptions()
	opts.StdAudioSpeaker = map[string]string{"Alice": "/ref/alice.wav"}
	opts.AudioDirInput = "/data/sliced"

	require.NoError(t, vpr.Infer(context.Background(), opts))

	req := sender.last(t)
	assert.Equal(t, "/vpr_infer", req.path)
	assert.JSONEq(t,
		`{"stdAudioSpeaker":{"Alice":"/ref/alice.wav"},"audioDirInput":"/data/sliced",`+
			`"modelPath":"./Models/.pth","modelType":"Ecapa-Tdnn","featureMethod":"melspectrogram",`+
			`"decisionThreshold":0.6,"audioDuration":4.2,"outputRoot":"./","outputDirName":"",`+
			`"audioSpeakersDataName":"AudioSpeakerData"}`,
		req.body)
}

func TestWhisperInferDefaults(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	whisper := tools.NewWhisper(sender, tools.Options{}, newTestLogger(t))

	require.NoError(t, whisper.Infer(context.Background(), tools.DefaultWhisperInferOptions()))

	req := sender.last(t)
	assert.Equal(t, "/asr_infer", req.path)
	assert.JSONEq(t,
		`{"modelPath":"./Models/.pt","audioDir":"./WAV_Files","verbose":true,"addLanguageInfo":true,`+
			`"conditionOnPreviousText":false,"fp16":true,"outputRoot":"./","outputDirName":"SRT_Files"}`,
		req.body)
}

func TestGPTSoVITSOperations(t *testing.T) {
	t.Parallel()

	paths := tools.ModelPaths{
		SovitsPath:       "/w/sovits.pth",
		SovitsV3Path:     "/w/sovits_v3.pth",
		GPTPath:          "/w/gpt.ckpt",
		CNHubertBasePath: "/w/hubert",
		BertPath:         "/w/bert",
		BigVGANPath:      "/w/bigvgan",
	}

	sender := &fakeSender{}
	voice := tools.NewGPTSoVITS(sender, tools.Options{}, newTestLogger(t))
	ctx := context.Background()

	preprocess := tools.DefaultPreprocessOptions()
	preprocess.SRTDir = "/data/srt"
	preprocess.AudioSpeakersDataPath = "/data/AudioSpeakerData.txt"
	require.NoError(t, voice.Preprocess(ctx, preprocess))
	assert.Equal(t, "/gptsovits_createDataset", sender.last(t).path)

	require.NoError(t, voice.Train(ctx, tools.DefaultTrainOptions()))
	train := sender.last(t)
	assert.Equal(t, "/gptsovits_train", train.path)
	assert.Contains(t, train.body, `"fileList_path":"GPT-SoVITS/raw/xxx.list"`)
	assert.Contains(t, train.body, `"lora_rank":32`)
	assert.Contains(t, train.body, `"output_dirName":"模型名"`)

	webUI := tools.DefaultInferWebUIOptions()
	webUI.ModelPaths = paths
	require.NoError(t, voice.InferWebUI(ctx, webUI))
	assert.JSONEq(t,
		`{"version":"v3","sovits_path":"/w/sovits.pth","sovits_v3_path":"/w/sovits_v3.pth",`+
			`"gpt_path":"/w/gpt.ckpt","cnhubert_base_path":"/w/hubert","bert_path":"/w/bert",`+
			`"bigvgan_path":"/w/bigvgan","half_precision":true,"batched_infer":false}`,
		sender.last(t).body)

	initOpts := tools.DefaultInferInitOptions()
	initOpts.ModelPaths = paths
	initOpts.ReferWavPath = "/ref/alice.wav"
	initOpts.PromptText = "你好"
	require.NoError(t, voice.InferInit(ctx, initOpts))
	assert.Equal(t, "/gptsovits_infer_init", sender.last(t).path)

	handle := tools.DefaultInferHandleOptions()
	handle.Text = "hello"
	require.NoError(t, voice.InferHandle(ctx, handle))
	assert.JSONEq(t,
		`{"refer_wav_path":"","prompt_text":"","prompt_language":"auto","inp_refs":null,`+
			`"text":"hello","text_language":"auto","cut_punc":null,"top_k":5,"top_p":1,`+
			`"temperature":1,"speed":1,"sample_steps":32,"if_sr":false}`,
		sender.last(t).body)
}

func TestValidation(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	kit := tools.NewToolkit(sender, tools.Options{}, newTestLogger(t))
	ctx := context.Background()

	err := kit.Audio.ProcessAudio(ctx, tools.DefaultProcessAudioOptions())
	require.ErrorIs(t, err, tools.ErrMissingParameter)
	assert.Contains(t, err.Error(), "inputDir")

	err = kit.VPR.Infer(ctx, tools.VPRInferOptions{AudioDirInput: "/data"})
	require.ErrorIs(t, err, tools.ErrMissingParameter)
	assert.Contains(t, err.Error(), "stdAudioSpeaker")

	train := tools.DefaultTrainOptions()
	train.LoraRank = 48
	require.ErrorIs(t, kit.GPTSoVITS.Train(ctx, train), tools.ErrInvalidParameter)

	require.ErrorIs(t, kit.GPTSoVITS.InferWebUI(ctx, tools.DefaultInferWebUIOptions()), tools.ErrMissingParameter)

	handle := tools.DefaultInferHandleOptions()
	handle.Text = "hello"
	punc := "#"
	handle.CutPunc = &punc
	require.ErrorIs(t, kit.GPTSoVITS.InferHandle(ctx, handle), tools.ErrInvalidParameter)

	handle.CutPunc = nil
	handle.SampleSteps = 12
	require.ErrorIs(t, kit.GPTSoVITS.InferHandle(ctx, handle), tools.ErrInvalidParameter)

	sender.mu.Lock()
	defer sender.mu.Unlock()

	assert.Empty(t, sender.sent)
}

func TestCallFailureClassification(t *testing.T) {
	t.Parallel()

	statusErr := &dispatch.StatusError{Method: http.MethodGet, Path: "/asr_infer", StatusCode: 500}

	tests := []struct {
		name    string
		out     *dispatch.Output
		err     error
		wantIs  error
		wantMsg string
	}{
		{
			name:    "stderr error",
			out:     &dispatch.Output{Stderr: []byte("ValueError: bad input\n")},
			wantIs:  tools.ErrCallFailed,
			wantMsg: "ValueError: bad input\n（详情请见终端输出信息）",
		},
		{
			name:    "stdout traceback",
			out:     &dispatch.Output{Stdout: []byte("Traceback (most recent call last):\n")},
			wantIs:  tools.ErrPartialFailure,
			wantMsg: tools.PartialFailureMessage,
		},
		{
			name:   "timeout wins over captured errors",
			out:    &dispatch.Output{Stderr: []byte("error\n")},
			err:    dispatch.ErrRequestTimeout,
			wantIs: dispatch.ErrRequestTimeout,
		},
		{
			name:   "status error without diagnostics",
			out:    &dispatch.Output{StatusCode: 500},
			err:    statusErr,
			wantIs: statusErr,
		},
		{
			name:    "status error with diagnostics",
			out:     &dispatch.Output{StatusCode: 500, Stderr: []byte("KeyError: 'x'\n")},
			err:     statusErr,
			wantIs:  tools.ErrCallFailed,
			wantMsg: "KeyError: 'x'\n" + tools.DetailsSuffix,
		},
		{
			name:   "transport error",
			out:    &dispatch.Output{},
			err:    errConnectionReset,
			wantIs: errConnectionReset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sender := &fakeSender{out: tt.out, err: tt.err}
			whisper := tools.NewWhisper(sender, tools.Options{}, newTestLogger(t))

			err := whisper.Infer(context.Background(), tools.DefaultWhisperInferOptions())
			require.ErrorIs(t, err, tt.wantIs)

			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, err.Error())
			}
		})
	}
}

func TestTerminate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		postErr error
	}{
		{name: "acknowledged"},
		{name: "terminate request fails", postErr: errConnectionReset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sender := &fakeSender{postErr: tt.postErr}
			stopper := &fakeStopper{stopped: make(chan struct{})}
			kit := tools.NewToolkit(sender, tools.Options{
				Stopper:         stopper,
				ShutdownTimeout: time.Second,
			}, newTestLogger(t))

			require.NoError(t, kit.Terminate(context.Background()))

			select {
			case <-stopper.stopped:
			default:
				t.Fatal("server was not stopped")
			}

			assert.True(t, stopper.deadline)
			assert.Equal(t, []string{"/terminate"}, sender.posts)
		})
	}
}

func TestTerminateWithoutStopper(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	whisper := tools.NewWhisper(sender, tools.Options{}, newTestLogger(t))

	require.NoError(t, whisper.Terminate(context.Background()))
	assert.Equal(t, []string{"/terminate"}, sender.posts)
}
