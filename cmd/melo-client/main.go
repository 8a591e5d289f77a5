// Command melo-client is a small CLI for exercising a running gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/book-expert/melo-gateway/internal/audio"
	"github.com/book-expert/melo-gateway/internal/core"
	"github.com/book-expert/melo-gateway/internal/engine"
	"github.com/book-expert/melo-gateway/internal/ttsutils"
)

// Flag descriptions.
const (
	flagTextDesc     = "Text to convert to speech"
	flagOutputDesc   = "Output file path (.wav)"
	flagLanguageDesc = "Language code (e.g. EN, ES, JP); server default when empty"
	flagSpeakerDesc  = "Speaker identifier (e.g. EN-US); server default when empty"
	flagSpeedDesc    = "Playback speed multiplier; server default when zero"
	flagVoicesDesc   = "List available voices and exit"
	flagHealthDesc   = "Check gateway health and exit"
	flagURLDesc      = "Gateway base URL"
)

// Flag names.
const (
	flagText     = "text"
	flagOutput   = "output"
	flagLanguage = "language"
	flagSpeaker  = "speaker"
	flagSpeed    = "speed"
	flagVoices   = "voices"
	flagHealth   = "health"
	flagURL      = "url"
)

// Error and log messages.
const (
	errTextRequired        = "--text is required unless --voices or --health is given"
	errHealthCheckFailed   = "Health check failed: %v"
	errServiceNotHealthy   = "Gateway is not healthy: %v\n"
	msgServiceHealthy      = "Gateway is healthy"
	errFailedToListVoices  = "failed to list voices: %w"
	errFailedToSynthesize  = "failed to synthesize text: %w"
	errFailedToCreateDir   = "failed to create output directory: %w"
	errFailedToWriteOutput = "failed to write output file: %w"
	msgGenerated           = "Generated: %s (%s, %s of audio)\n"
)

const (
	defaultGatewayURL  = "http://localhost:8080"
	defaultOutputFile  = "speech.wav"
	requestTimeout     = 120 * time.Second
	healthCheckTimeout = 10 * time.Second
	outputFilePerm     = 0o600
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text     string
	output   string
	language string
	speaker  string
	speed    float64
	voices   bool
	health   bool
	url      string
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	err := validateArguments(flags)
	if err != nil {
		flag.Usage()

		return err
	}

	client := engine.NewRuntimeClient(flags.url, requestTimeout)

	if flags.health {
		return handleHealthCheck(client)
	}

	if flags.voices {
		return handleVoices(client, flags.language)
	}

	return processSingleText(client, flags)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags() appFlags {
	var flags appFlags
	flag.StringVar(&flags.text, flagText, "", flagTextDesc)
	flag.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flag.StringVar(&flags.language, flagLanguage, "", flagLanguageDesc)
	flag.StringVar(&flags.speaker, flagSpeaker, "", flagSpeakerDesc)
	flag.Float64Var(&flags.speed, flagSpeed, 0, flagSpeedDesc)
	flag.BoolVar(&flags.voices, flagVoices, false, flagVoicesDesc)
	flag.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	flag.StringVar(&flags.url, flagURL, defaultGatewayURL, flagURLDesc)
	flag.Parse()

	return flags
}

// validateArguments checks that the flag combination names exactly one action.
func validateArguments(flags appFlags) error {
	if flags.text == "" && !flags.voices && !flags.health {
		return errors.New(errTextRequired)
	}

	return nil
}

// handleHealthCheck performs a gateway health check and prints the result.
func handleHealthCheck(client *engine.RuntimeClient) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	err := client.Health(ctx)
	if err != nil {
		fmt.Printf(errServiceNotHealthy, err)

		return fmt.Errorf(errHealthCheckFailed, err)
	}

	fmt.Println(msgServiceHealthy)

	return nil
}

// handleVoices fetches and prints the voice listing, sorted by language.
func handleVoices(client *engine.RuntimeClient, language string) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	voices, err := client.Voices(ctx, language)
	if err != nil {
		return fmt.Errorf(errFailedToListVoices, err)
	}

	languages := make([]string, 0, len(voices))
	for code := range voices {
		languages = append(languages, code)
	}

	sort.Strings(languages)

	for _, code := range languages {
		fmt.Printf("%s:\n", code)

		for _, speaker := range voices[code] {
			fmt.Printf("  %s\n", speaker)
		}
	}

	return nil
}

// processSingleText synthesizes the text and writes the WAV file.
func processSingleText(client *engine.RuntimeClient, flags appFlags) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	audioData, err := client.Synthesize(ctx, core.SynthesisRequest{
		Text:     flags.text,
		Language: flags.language,
		Speaker:  flags.speaker,
		Speed:    flags.speed,
	})
	if err != nil {
		return fmt.Errorf(errFailedToSynthesize, err)
	}

	outputPath := flags.output
	if outputPath == "" {
		outputPath = defaultOutputFile
	}

	outputPath = filepath.Join(
		filepath.Dir(outputPath),
		ttsutils.SanitizeFilename(filepath.Base(outputPath)),
	)

	err = ttsutils.EnsureDir(filepath.Dir(outputPath))
	if err != nil {
		return fmt.Errorf(errFailedToCreateDir, err)
	}

	err = os.WriteFile(outputPath, audioData, outputFilePerm)
	if err != nil {
		return fmt.Errorf(errFailedToWriteOutput, err)
	}

	size := ttsutils.FormatFileSize(int64(len(audioData)))

	duration := "unknown duration"
	if info, probeErr := audio.Probe(audioData); probeErr == nil {
		duration = ttsutils.FormatDuration(info.Duration.Seconds())
	}

	fmt.Printf(msgGenerated, outputPath, size, duration)

	return nil
}
