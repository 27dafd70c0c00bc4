package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/siavashhub/lemonade/internal/daemon"
	"github.com/siavashhub/lemonade/internal/domain"
)

var (
	serveHost            string
	servePort            int
	serveLogLevel        string
	serveCtxSize         int
	serveLlamaCppBackend string
	serveLlamaCppArgs    string
	serveMaxLoadedModels []int
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "log level: debug, info, warn, error")
	serveCmd.Flags().IntVar(&serveCtxSize, "ctx-size", 0, "default llama.cpp context size")
	serveCmd.Flags().StringVar(&serveLlamaCppBackend, "llamacpp", "", "llama.cpp backend (vulkan, rocm, cuda, cpu)")
	serveCmd.Flags().StringVar(&serveLlamaCppArgs, "llamacpp-args", "", "extra arguments passed to llama-server")
	serveCmd.Flags().IntSliceVar(&serveMaxLoadedModels, "max-loaded-models", nil,
		"repeatable: max concurrently loaded models per class, position = class index (LLM, embedding, reranker, audio)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Lemonade API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	applyServeOverrides(&cfg)

	d, err := daemon.NewWithConfig(cfg)
	if err != nil {
		if strings.Contains(err.Error(), "already running") {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(2)
		}
		return err
	}
	return d.Serve(context.Background())
}

func applyServeOverrides(cfg *daemon.Config) {
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if serveLogLevel != "" {
		cfg.Logging.Level = serveLogLevel
	}
	if serveCtxSize > 0 {
		cfg.Inference.CtxSize = serveCtxSize
	}
	if serveLlamaCppBackend != "" {
		cfg.Inference.LlamaCppBackend = serveLlamaCppBackend
	}
	if serveLlamaCppArgs != "" {
		cfg.Inference.LlamaCppArgs = serveLlamaCppArgs
	}

	classOrder := []domain.ModelClass{domain.ClassLLM, domain.ClassEmbedding, domain.ClassReranker, domain.ClassAudio}
	for i, n := range serveMaxLoadedModels {
		if i >= len(classOrder) || n <= 0 {
			continue
		}
		switch classOrder[i] {
		case domain.ClassLLM:
			cfg.Models.MaxLLMModels = n
		case domain.ClassEmbedding:
			cfg.Models.MaxEmbeddingModels = n
		case domain.ClassReranker:
			cfg.Models.MaxRerankingModels = n
		case domain.ClassAudio:
			cfg.Models.MaxAudioModels = n
		}
	}
}
