package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/voxchat/internal/chat"
	"github.com/user/voxchat/internal/config"
	"github.com/user/voxchat/internal/delivery"
	"github.com/user/voxchat/internal/dialog"
	"github.com/user/voxchat/internal/gateway"
	"github.com/user/voxchat/internal/state"
	"github.com/user/voxchat/internal/telegram"
	"github.com/user/voxchat/internal/transcribe"
	"github.com/user/voxchat/internal/upload"
	"github.com/user/voxchat/internal/voice"
	"github.com/user/voxchat/internal/web"
	"github.com/user/voxchat/internal/web/metrics"
)

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the voxchat daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Stores
	dialogs := state.NewDialogStore(cfg.DataDir)
	messages := state.NewMessageStore(cfg.DataDir)
	blobs := state.NewBlobStore(cfg.DataDir)

	g, ctx := errgroup.WithContext(context.Background())

	uploads := upload.NewHandler(blobs, cfg.HTTP.PublicURL, int64(cfg.Upload.MaxFileSizeMB)<<20)
	if cfg.Transcription.Enabled {
		engine, err := transcribe.NewOpenAI(cfg.Transcription.APIKey, cfg.Transcription.Model,
			transcribe.WithBaseURL(cfg.Transcription.BaseURL))
		if err != nil {
			return fmt.Errorf("create transcriber: %w", err)
		}
		worker := transcribe.NewWorker(ctx, engine, blobs, cfg.Transcription.MaxConcurrent)
		uploads.SetTranscriber(worker)
		defer worker.Wait()
		slog.Info("transcription enabled", "model", cfg.Transcription.Model)
	}

	service := chat.NewService(dialogs, messages)
	defer service.Flush()

	// Telegram bot, shared by the inbound adapter and the mirror sink
	var bot telegram.Bot
	if cfg.Telegram.Token != "" {
		b, err := telegram.NewBot(cfg.Telegram.Token)
		if err != nil {
			return fmt.Errorf("create telegram bot: %w", err)
		}
		bot = b
	} else {
		slog.Warn("telegram disabled (no token)")
	}

	sinks := buildSinks(cfg, bot, uploads.OpenAttachment)
	service.SetDelivery(sinks)

	// Gateway
	gw := gateway.New(dialogs, int64(cfg.MaxConcurrent))
	if cfg.Chat.ResponderURL != "" {
		history, err := chat.NewHistory(cfg.Chat.Model, cfg.Chat.MaxContextTokens, cfg.Chat.OutputReserve)
		if err != nil {
			return fmt.Errorf("create history window: %w", err)
		}
		responder := chat.NewResponder(cfg.Chat.ResponderURL, service, dialogs, history,
			chat.WithHistoryLimit(cfg.Chat.HistoryLimit),
			chat.WithTranscripts(uploads.Transcript),
		)
		gw.SetHandler(responder.Handle)
		service.SetGateway(gw)
	} else {
		slog.Warn("assistant replies disabled (no chat.responder_url)")
	}
	gw.Start(ctx)
	defer gw.Stop()

	starter := dialog.NewStarter(cfg.Dialog.URL, dialogs, service, dialog.WithGreeting(cfg.Dialog.Greeting))

	srv := web.NewServer(web.Options{
		Dialogs:     dialogs,
		Chat:        service,
		Starter:     starter,
		Uploads:     uploads,
		Previews:    voice.NewPreviews(strings.TrimRight(cfg.HTTP.PublicURL, "/") + "/api/previews"),
		Metrics:     metrics.New(),
		QueueStats:  gw.Queue.Stats,
		Constraints: constraintsFromConfig(cfg),
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		slog.Info("http server started", "listen", cfg.HTTP.Listen, "public_url", cfg.HTTP.PublicURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		srv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if bot != nil {
		adapter := telegram.New(bot, dialogs, service, messages, cfg.Telegram.ChatID)
		g.Go(func() error {
			adapter.Start(ctx)
			return nil
		})
		slog.Info("telegram adapter started")
	}

	g.Go(func() error {
		return waitForSignal(ctx, cfg.DataDir, pidPath)
	})

	slog.Info("voxchat started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"dialog_url", cfg.Dialog.URL,
		"sinks", sinks.Len(),
		"pid_file", pidPath,
	)

	err = g.Wait()
	if errors.Is(err, errShutdown) {
		return nil
	}
	return err
}

var errShutdown = errors.New("shutdown requested")

// buildSinks registers the mirror sinks that are configured.
func buildSinks(cfg *config.Config, bot telegram.Bot, open delivery.Opener) *delivery.Registry {
	reg := delivery.NewRegistry()
	if bot != nil && cfg.Telegram.ChatID != 0 {
		reg.Register("", delivery.NewTelegram(bot, cfg.Telegram.ChatID, open))
		slog.Info("telegram delivery enabled", "chat_id", cfg.Telegram.ChatID)
	}
	if cfg.Mattermost.URL != "" && cfg.Mattermost.Token != "" && cfg.Mattermost.ChannelID != "" {
		client := delivery.NewMattermostClient(cfg.Mattermost.URL, cfg.Mattermost.Token)
		reg.Register("", delivery.NewMattermost(client, cfg.Mattermost.ChannelID, open))
		slog.Info("mattermost delivery enabled", "channel_id", cfg.Mattermost.ChannelID)
	}
	return reg
}

// waitForSignal returns errShutdown on SIGINT or SIGTERM and re-executes the
// binary on SIGHUP. It returns nil when ctx ends first.
func waitForSignal(ctx context.Context, dataDir, pidPath string) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigChan:
			if sig != syscall.SIGHUP {
				slog.Info("shutting down", "signal", sig)
				return errShutdown
			}
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(dataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
			}
		}
	}
}
