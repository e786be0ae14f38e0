package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fpang/gemini-image-chat/internal/auth"
	"github.com/fpang/gemini-image-chat/internal/chat"
	"github.com/fpang/gemini-image-chat/internal/conversation"
	"github.com/fpang/gemini-image-chat/internal/logging"
	"github.com/fpang/gemini-image-chat/internal/metrics"
	"github.com/fpang/gemini-image-chat/internal/web"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// CLI flags
var (
	portFlag          int
	editModelFlag     string
	generateModelFlag string
	validateKeyFlag   bool
	sessionTTLFlag    time.Duration
	maxUploadMBFlag   int
	emfMetricsFlag    bool
)

var rootCmd = &cobra.Command{
	Use:   "image-chat",
	Short: "Chat UI for generating and editing images with Gemini",
	Long: `Image Chat starts a local web server with a chat page for image work.
Type a prompt to generate a new image, or attach an image and describe the
changes you want. Results can be rescaled before they are shown.

The Gemini API key is read from GEMINI_API_KEY, an SSM parameter named by
SSM_API_KEY_PARAM, or ~/.gemini-image-chat/credentials.gpg. A .env file in
the working directory is loaded first.

Examples:
  image-chat
  image-chat --port 9090
  image-chat --generate-model imagen-4.0-fast-generate-001 --edit-model gemini-3-pro-image-preview`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 8080, "Port to listen on")
	rootCmd.Flags().StringVar(&editModelFlag, "edit-model", "", "Gemini model for edits (default $GEMINI_EDIT_MODEL or "+chat.DefaultEditModelName+")")
	rootCmd.Flags().StringVar(&generateModelFlag, "generate-model", "", "Imagen model for text-only prompts (default $GEMINI_IMAGE_MODEL or "+chat.DefaultGenerateModelName+")")
	rootCmd.Flags().BoolVar(&validateKeyFlag, "validate-key", true, "Check the API key with a test request at startup")
	rootCmd.Flags().DurationVar(&sessionTTLFlag, "session-ttl", conversation.DefaultSessionTTL, "Discard conversations idle for longer than this")
	rootCmd.Flags().IntVar(&maxUploadMBFlag, "max-upload-mb", web.DefaultMaxUploadBytes>>20, "Largest accepted attachment in megabytes")
	rootCmd.Flags().BoolVar(&emfMetricsFlag, "emf-metrics", false, "Write CloudWatch EMF metric lines to stdout")
}

func main() {
	// Existing environment variables win over .env entries.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) error {
	initStart := time.Now()
	logging.Init()

	if !emfMetricsFlag {
		metrics.SetOutput(io.Discard)
	}
	if maxUploadMBFlag <= 0 {
		return fmt.Errorf("--max-upload-mb must be positive, got %d", maxUploadMBFlag)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiKey, keySource, err := auth.GetAPIKey(ctx)
	if err != nil {
		log.Error().Err(err).Msg(auth.Hint(err))
		return err
	}

	genaiClient, err := chat.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create Gemini client")
		return err
	}

	if validateKeyFlag {
		if err := auth.ValidateAPIKey(ctx, genaiClient.Models); err != nil {
			log.Error().Err(err).Msg(auth.Hint(err))
			return err
		}
	}

	imageClient := chat.NewClient(genaiClient.Models, editModelFlag, generateModelFlag)
	store := conversation.NewStore(imageClient, sessionTTLFlag)
	go store.RunSweeper(ctx, sweepInterval(sessionTTLFlag))

	server := web.NewServer(store, web.Config{MaxUploadBytes: int64(maxUploadMBFlag) << 20})

	addr := fmt.Sprintf(":%d", portFlag)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Generation and rescaling run inside the request.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Graceful shutdown did not complete")
		}
	}()

	logging.NewStartupLogger("image-chat").
		Version(version).
		CommitHash(commitHash).
		Addr(addr).
		Model("edit", imageClient.EditModel()).
		Model("generate", imageClient.GenerateModel()).
		Feature("keyValidation", validateKeyFlag).
		Feature("emfMetrics", emfMetricsFlag).
		Config("apiKeySource", string(keySource)).
		Config("sessionTTL", sessionTTLFlag.String()).
		Config("maxUploadMB", fmt.Sprint(maxUploadMBFlag)).
		InitDuration(time.Since(initStart)).
		Log()
	fmt.Printf("\n  Image Chat: http://localhost:%d\n\n", portFlag)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Server failed")
		return err
	}
	log.Info().Int("active_sessions", store.Len()).Msg("Server stopped")
	return nil
}

// sweepInterval checks for idle sessions a few times per TTL, at most once a minute.
func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}
