package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/voxchat/internal/config"
	"github.com/user/voxchat/internal/types"
	"github.com/user/voxchat/internal/upload"
	"github.com/user/voxchat/internal/voice"
	"github.com/user/voxchat/internal/voice/ffmpeg"
)

func init() {
	rootCmd.AddCommand(voiceCmd)
	voiceCmd.AddCommand(voiceRecordCmd)
}

func constraintsFromConfig(cfg *config.Config) voice.Constraints {
	c := voice.DefaultConstraints()
	if cfg.Voice.SampleRate > 0 {
		c.SampleRate = cfg.Voice.SampleRate
	}
	if cfg.Voice.BitsPerSecond > 0 {
		c.BitsPerSecond = cfg.Voice.BitsPerSecond
	}
	if cfg.Voice.TimesliceMS > 0 {
		c.Timeslice = time.Duration(cfg.Voice.TimesliceMS) * time.Millisecond
	}
	c.Device = cfg.Voice.InputDevice
	return c
}

// uploadURL is the configured upload endpoint, or the server's own.
func uploadURL(cfg *config.Config) string {
	if cfg.Upload.URL != "" {
		return cfg.Upload.URL
	}
	base := serverURL
	if base == "" {
		base = cfg.HTTP.PublicURL
	}
	return strings.TrimRight(base, "/") + "/api/files/upload"
}

var voiceCmd = &cobra.Command{
	Use:   "voice",
	Short: "Record and send voice messages from this machine",
}

const voiceHelp = `Commands:
  r          start recording (again, to replace the current one)
  s          stop recording
  p          play or pause the recording
  d          discard the recording
  t <text>   set the message text
  a <path>   attach a file to the message
  <enter>    send the recording and text
  q          quit`

var voiceRecordCmd = &cobra.Command{
	Use:   "record <dialog-id>",
	Short: "Open an interactive voice message session for a dialog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		out := cmd.OutOrStdout()

		device := ffmpeg.NewDevice(cfg.Voice.FFmpegPath)
		if err := device.Check(); err != nil {
			return err
		}

		var mu sync.Mutex
		var last voice.Snapshot
		printf := func(format string, a ...any) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(out, format, a...)
		}

		w, err := voice.New(voice.Options{
			Device:      device,
			Speaker:     ffmpeg.NewSpeaker(),
			Uploader:    upload.NewClient(uploadURL(cfg), nil),
			Appender:    apiClient().ForDialog(types.DialogID(args[0])),
			Constraints: constraintsFromConfig(cfg),
			Notifier: voice.NotifierFunc(func(n voice.Notice) {
				printf("! %s\n", n.Message)
			}),
			OnChange: func(s voice.Snapshot) {
				if statusLine(s) == statusLine(last) {
					last = s
					return
				}
				last = s
				printf("%s\n", statusLine(s))
			},
			TickInterval: time.Second,
		})
		if err != nil {
			return fmt.Errorf("create voice widget: %w", err)
		}
		defer w.Close()

		fmt.Fprintln(out, voiceHelp)
		return runVoiceREPL(cmd.Context(), w, cmd.InOrStdin(), printf)
	},
}

func statusLine(s voice.Snapshot) string {
	switch {
	case s.Submitting:
		return "sending..."
	case s.Opening:
		return "opening microphone..."
	case s.Recorder == voice.RecorderRecording:
		return "recording " + s.ElapsedText()
	case s.HasRecording():
		return fmt.Sprintf("recorded %s (%d bytes), player %s %.0f%%", s.ElapsedText(), s.SizeBytes, s.Player, s.Progress)
	default:
		return "idle"
	}
}

func attachFile(ctx context.Context, w *voice.Widget, path string) error {
	if path == "" {
		return fmt.Errorf("%w: no file given", voice.ErrUploadFailed)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", voice.ErrUploadFailed, err)
	}
	name := filepath.Base(path)
	return w.Attach(ctx, voice.File{Name: name, ContentType: upload.MimeForFilename(name), Data: data})
}

func runVoiceREPL(ctx context.Context, w *voice.Widget, in io.Reader, printf func(string, ...any)) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")

		var err error
		switch cmd {
		case "r":
			err = w.Start(ctx)
		case "s":
			err = w.Stop(ctx)
		case "p":
			err = w.TogglePlayback(ctx)
		case "d":
			err = w.Discard(ctx)
		case "t":
			err = w.SetInput(ctx, arg)
		case "a":
			err = attachFile(ctx, w, arg)
			if err == nil {
				printf("attached %s\n", filepath.Base(arg))
			}
		case "":
			err = w.Submit(ctx)
			if err == nil {
				printf("sent\n")
			}
		case "q":
			return nil
		default:
			printf("%s\n", voiceHelp)
			continue
		}
		if err != nil {
			printf("! %s\n", voice.NoticeMessage(err))
		}
	}
	return scanner.Err()
}
