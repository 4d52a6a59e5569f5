/*
Copyright © 2025 The shoplingo authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shoplingo/shoplingo/internal/pipeline"
)

var (
	inputFile    string
	outputFile   string
	sourceLang   string
	targetLang   string
	strategyHint string
)

var translateCmd = &cobra.Command{
	Use:   "translate [text]",
	Short: "Translate text or a file",
	Long: `Translate inline text or a file through the resilient pipeline.

The strategy (simple, enhanced, long_text) is selected automatically from the
content; --strategy overrides the selection when you know the content shape.

Examples:
  shoplingo translate -t fr "Color options"
  shoplingo translate -i product.html -o product.fr.html -t fr`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(args)
		if err != nil {
			return err
		}

		a, cleanup, err := buildApp()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := context.Background()

		if a.flusher != nil {
			started, err := a.flusher.Start(ctx)
			if err != nil {
				a.log.Warn().Err(err).Msg("metrics persistence unavailable")
			} else if started {
				defer a.flusher.Stop(ctx)
			}
		}

		result, err := a.pipe.Translate(ctx, pipeline.TranslationRequest{
			Text:         text,
			SourceLang:   sourceLang,
			TargetLang:   targetLang,
			StrategyHint: strategyHint,
		})
		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("translation failed: %s", result.Error)
		}

		if err := writeOutput(result.Text); err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "strategy=%s service=%s cache=%v memory=%v retries=%d duration=%s\n",
			result.Meta.Strategy, result.Meta.Service, result.Meta.CacheHit,
			result.Meta.MemoryHit, result.Meta.RetryCount, result.Meta.Duration.Round(0))
		if result.IsOriginal {
			fmt.Fprintln(os.Stderr, "note: source text returned unmodified")
		}
		return nil
	},
}

func readInput(args []string) (string, error) {
	if inputFile != "" && len(args) > 0 {
		return "", fmt.Errorf("pass either inline text or --input, not both")
	}
	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return "", fmt.Errorf("read input file: %w", err)
		}
		return string(data), nil
	}
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}
	return "", fmt.Errorf("nothing to translate: pass text or --input")
}

func writeOutput(text string) error {
	if outputFile == "" {
		fmt.Println(text)
		return nil
	}
	if dir := filepath.Dir(outputFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(outputFile, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&inputFile, "input", "i", "", "input file (default: inline text argument)")
	translateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default: stdout)")
	translateCmd.Flags().StringVarP(&sourceLang, "source", "s", "", "source language code (default: auto-detect)")
	translateCmd.Flags().StringVarP(&targetLang, "target", "t", "", "target language code (required)")
	translateCmd.Flags().StringVar(&strategyHint, "strategy", "", "force strategy: simple, enhanced or long_text")

	translateCmd.MarkFlagRequired("target")
}
