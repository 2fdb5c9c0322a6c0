package sink

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"

	"speech-capture-service/internal/pcm"
)

// DefaultEncoderCommand pipes raw PCM from stdin into an AAC/MPEG-4 file.
const DefaultEncoderCommand = "ffmpeg -hide_banner -loglevel error -f s16le -ar {rate} -ac {channels} -i pipe:0 -c:a aac -b:a {bitrate} -f mp4 -y {path}"

// Encoder persists raw S16LE PCM.
type Encoder interface {
	Write(payload []byte) error
	Close() error
}

// EncoderFactory creates the encoder for a recording.
type EncoderFactory func(path string, cfg EncodingConfig) (Encoder, error)

// defaultFactory picks the encoder for cfg.Format.
func defaultFactory(command string) EncoderFactory {
	return func(path string, cfg EncodingConfig) (Encoder, error) {
		switch cfg.Format {
		case FormatLinearPCM:
			return newWAVEncoder(path, cfg)
		case FormatMPEG4AAC:
			return newExecEncoder(command, path, cfg)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, cfg.Format)
		}
	}
}

type wavEncoder struct {
	file *os.File
	enc  *wav.Encoder
	cfg  EncodingConfig
}

func newWAVEncoder(path string, cfg EncodingConfig) (*wavEncoder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return &wavEncoder{
		file: f,
		enc:  wav.NewEncoder(f, cfg.SampleRate, pcm.BitDepth, cfg.Channels, 1),
		cfg:  cfg,
	}, nil
}

func (w *wavEncoder) Write(payload []byte) error {
	samples, err := pcm.Ints(payload)
	if err != nil {
		return err
	}
	return w.enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: w.cfg.Channels, SampleRate: w.cfg.SampleRate},
		Data:           samples,
		SourceBitDepth: pcm.BitDepth,
	})
}

func (w *wavEncoder) Close() error {
	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if encErr != nil {
		return fmt.Errorf("finalize wav: %w", encErr)
	}
	return fileErr
}

type execEncoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
}

func expandCommand(command, path string, cfg EncodingConfig) ([]string, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse encoder command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("encoder command is empty")
	}
	r := strings.NewReplacer(
		"{rate}", strconv.Itoa(cfg.SampleRate),
		"{channels}", strconv.Itoa(cfg.Channels),
		"{bitrate}", strconv.Itoa(cfg.Quality.Bitrate()),
		"{path}", path,
	)
	for i, a := range args {
		args[i] = r.Replace(a)
	}
	return args, nil
}

func newExecEncoder(command, path string, cfg EncodingConfig) (*execEncoder, error) {
	args, err := expandCommand(command, path, cfg)
	if err != nil {
		return nil, err
	}
	e := &execEncoder{cmd: exec.Command(args[0], args[1:]...)}
	e.cmd.Stderr = &e.stderr
	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdin: %w", err)
	}
	e.stdin = stdin
	if err := e.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}
	return e, nil
}

func (e *execEncoder) Write(payload []byte) error {
	_, err := e.stdin.Write(payload)
	return err
}

func (e *execEncoder) Close() error {
	_ = e.stdin.Close()
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("encoder failed: %w: %s", err, strings.TrimSpace(e.stderr.String()))
	}
	return nil
}
