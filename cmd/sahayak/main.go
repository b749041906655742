// Command sahayak chats with the assistant from a terminal.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chadiek/sahayak/internal/agent"
	"github.com/chadiek/sahayak/internal/config"
	"github.com/chadiek/sahayak/internal/gateway"
	"github.com/chadiek/sahayak/internal/tts"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	var (
		assistantURL string
		locale       string
		speakBinary  string
		mute         bool
		noColor      bool
		timeout      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sahayak",
		Short: "Chat with the Sahayak assistant from a terminal",
		Long: `sahayak runs one assistant session in the terminal. Type a message and press
enter to send it. Lines starting with / are commands; /help lists them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := cfg.NewLogger(cmd.ErrOrStderr())
			if noColor {
				color.NoColor = true
			}
			if !cmd.Flags().Changed("assistant-url") {
				assistantURL = cfg.AssistantURL
			}
			if !cmd.Flags().Changed("locale") {
				locale = cfg.DefaultLocale
			}
			if !cmd.Flags().Changed("speak-binary") {
				speakBinary = cfg.SpeechCommand
			}
			if !cmd.Flags().Changed("timeout") {
				timeout = cfg.GatewayTimeout
			}
			loc, err := agent.ParseLocale(locale)
			if err != nil {
				return fmt.Errorf("--locale %q: %w", locale, err)
			}

			var output agent.SpeechOutputProvider
			if speaker := tts.NewCommandSpeaker(speakBinary, logger); speaker.Supported() {
				output = speaker
			} else {
				logger.Debug("speech binary not found; replies are not spoken", "binary", speakBinary)
			}

			term := newTerminal(cmd.OutOrStdout())
			session := agent.NewSession(agent.Deps{
				Gateway: gateway.New(assistantURL, timeout),
				Output:  output,
				Sink:    term,
				Logger:  logger,
			}, agent.Options{
				Greeting:       cfg.Greeting,
				Settings:       agent.Settings{FontScale: cfg.FontScale, VoiceEnabled: !mute, Locale: loc},
				GatewayTimeout: timeout,
			})
			defer session.Close()
			return term.run(cmd.InOrStdin(), session)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.Flags().StringVar(&assistantURL, "assistant-url", gateway.DefaultEndpoint, "assistant chat endpoint")
	cmd.Flags().StringVarP(&locale, "locale", "l", string(agent.LocaleEnglish), "conversation locale (BCP 47)")
	cmd.Flags().StringVar(&speakBinary, "speak-binary", tts.DefaultSpeakBinary, "local speech synthesizer")
	cmd.Flags().BoolVar(&mute, "mute", false, "start with spoken replies off")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	cmd.Flags().DurationVar(&timeout, "timeout", agent.DefaultGatewayTimeout, "assistant round-trip timeout")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
