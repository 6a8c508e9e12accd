package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	submitCmd.Flags().StringVar(&submitModel, "model", "", "Model name (scheduler resolves one if omitted)")
	submitCmd.Flags().StringVar(&submitPriority, "priority", "NORMAL", "LOW|NORMAL|HIGH|CRITICAL")
	submitCmd.Flags().IntVar(&submitMaxTokens, "max-tokens", 256, "Maximum tokens to generate")
	rootCmd.AddCommand(submitCmd)
}

var (
	submitModel     string
	submitPriority  string
	submitMaxTokens int
)

var submitCmd = &cobra.Command{
	Use:   "submit [prompt]",
	Short: "Submit a one-shot prompt to the running daemon and print the response",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func runSubmit(cmd *cobra.Command, args []string) error {
	reqBody := map[string]any{
		"model": submitModel,
		"messages": []map[string]string{
			{"role": "user", "content": args[0]},
		},
		"priority":   submitPriority,
		"max_tokens": submitMaxTokens,
	}

	var resp chatCompletionResponse
	if err := postJSON("/v1/chat/completions", reqBody, &resp); err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("empty response from daemon")
	}
	fmt.Printf("[%s] %s\n", resp.Model, resp.Choices[0].Message.Content)
	return nil
}
