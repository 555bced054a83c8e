package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"wabridge/pkg/completion"
	"wabridge/pkg/persona"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	promptText string

	failureColor = color.New(color.FgRed)
)

// askCmd sends prompts straight to the completion service, bypassing WhatsApp.
var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Send a prompt to the completion service or start an interactive chat",
	Long:  "Loads the configured persona and model, sends one prompt and prints the reply. Without a prompt it reads prompts from stdin until exit.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		prompt := resolvePrompt(args)

		cfg, log, err := loadRuntime("cmd.ask")
		if err != nil {
			return err
		}

		systemPrompt, err := persona.Resolve(cfg.Completion.Persona)
		if err != nil {
			return fmt.Errorf("load persona: %w", err)
		}
		gw := completion.New(cfg.Completion, systemPrompt, log)

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		if prompt != "" {
			return runSinglePrompt(ctx, gw, prompt)
		}

		runInteractive(ctx, gw, os.Stdin)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&promptText, "prompt", "p", "", "prompt text to send")
}

func resolvePrompt(args []string) string {
	if value := strings.TrimSpace(promptText); value != "" {
		return value
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

func runSinglePrompt(ctx context.Context, completer completion.Completer, prompt string) error {
	response, err := completer.Complete(ctx, prompt)
	if err != nil {
		return fmt.Errorf("prompt failed: %s", failureText(err))
	}

	fmt.Println(response)
	return nil
}

func runInteractive(ctx context.Context, completer completion.Completer, in io.Reader) {
	scanner := bufio.NewScanner(in)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				fmt.Printf("input error: %v\n", err)
			}
			return
		}

		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if isExitCommand(prompt) {
			return
		}

		response, err := completer.Complete(ctx, prompt)
		if err != nil {
			_, _ = failureColor.Fprintf(os.Stdout, "prompt failed: %s\n", failureText(err))
			continue
		}

		printAssistantMessage(response)
	}
}

// failureText prefers the completion failure detail, which carries the
// upstream message verbatim.
func failureText(err error) string {
	var failure *completion.Failure
	if errors.As(err, &failure) && failure.Detail != "" {
		return fmt.Sprintf("%s (%s)", failure.Detail, failure.Kind)
	}
	return err.Error()
}

func printAssistantMessage(message string) {
	lines := assistantLines(message)
	for _, line := range lines {
		fmt.Printf("🤖 %s\n", line)
	}
	if len(lines) > 0 {
		fmt.Println()
	}
}

func assistantLines(message string) []string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", ":q":
		return true
	default:
		return false
	}
}
