package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/gemini-assistant/backend/internal/config"
	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/speech"
)

// newSpeechCommand 直接调用火山引擎，便于排查语音凭证问题
func newSpeechCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "speech",
		Short: "Test Volcengine speech recognition and synthesis directly",
	}
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 45*time.Second, "Request timeout")

	loadSpeech := func() (speech.Config, error) {
		cfg, err := config.Load()
		if err != nil {
			return speech.Config{}, fmt.Errorf("load configuration: %w", err)
		}
		if !cfg.Speech.Enabled {
			return speech.Config{}, errors.New("speech is not configured, set SPEECH_APP_ID and SPEECH_ACCESS_TOKEN")
		}
		return speech.Config{
			AppID:          cfg.Speech.AppID,
			AccessToken:    cfg.Speech.AccessToken,
			ConcurrentMode: cfg.Speech.ConcurrentMode,
			ASRURL:         cfg.Speech.ASRURL,
			ASRLanguage:    cfg.Speech.ASRLanguage,
			TTSURL:         cfg.Speech.TTSURL,
			TTSVoice:       cfg.Speech.TTSVoice,
			TTSLanguage:    cfg.Speech.TTSLanguage,
			Timeout:        cfg.Speech.Timeout,
		}, nil
	}

	var language string
	asrCmd := &cobra.Command{
		Use:   "asr <audio-file>",
		Short: "Transcribe an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			speechCfg, err := loadSpeech()
			if err != nil {
				return err
			}
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			logger.Info("starting ASR", "file", args[0], "language", language)
			t, err := speech.NewASRClient(speechCfg).Transcribe(ctx, file, language)
			if err != nil {
				return fmt.Errorf("ASR failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Text)
			logger.Info("ASR finished", "duration", t.Duration, "logid", t.LogID)
			return nil
		},
	}
	asrCmd.Flags().StringVar(&language, "lang", "", "Recognition language, defaults to SPEECH_ASR_LANGUAGE")

	var (
		voiceID string
		rate    float64
		out     string
	)
	ttsCmd := &cobra.Command{
		Use:   "tts <text>",
		Short: "Synthesize text to an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(args[0]) == "" {
				return errors.New("text is required")
			}
			speechCfg, err := loadSpeech()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			audio, err := speech.NewTTSClient(speechCfg).Synthesize(ctx, speech.SynthesisRequest{
				Text:  args[0],
				Voice: voiceID,
				Rate:  rate,
			})
			if err != nil {
				return fmt.Errorf("TTS failed: %w", err)
			}

			path := out
			if path == "" {
				path = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), audio.Format)
			}
			if err := os.WriteFile(path, audio.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %s)\n", path, units.HumanSize(float64(len(audio.Data))), audio.Duration)
			return nil
		},
	}
	ttsCmd.Flags().StringVar(&voiceID, "voice", "", "Voice id, defaults to SPEECH_TTS_VOICE")
	ttsCmd.Flags().Float64Var(&rate, "rate", 1, "Speaking rate (0.1-10)")
	ttsCmd.Flags().StringVarP(&out, "out", "o", "", "Output file, defaults to tts-output-<unix>.<format>")

	cmd.AddCommand(asrCmd, ttsCmd)
	return cmd
}
