package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(queueCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show scheduler throughput stats from the running daemon",
	RunE:  runStats,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show scheduler queue occupancy from the running daemon",
	RunE:  runQueue,
}

type perfStatsResponse struct {
	TotalRequests       int64            `json:"TotalRequests"`
	TotalBatches        int64            `json:"TotalBatches"`
	Failed              int64            `json:"Failed"`
	TimedOut            int64            `json:"TimedOut"`
	SuccessRate         float64          `json:"SuccessRate"`
	AvgBatchSize        float64          `json:"AvgBatchSize"`
	AvgProcessingTimeMs float64          `json:"AvgProcessingTimeMs"`
	ByPriority          map[string]int64 `json:"ByPriority"`
}

func runStats(cmd *cobra.Command, args []string) error {
	var resp perfStatsResponse
	if err := getJSON("/api/stats", &resp); err != nil {
		return err
	}
	fmt.Printf("total requests:   %d\n", resp.TotalRequests)
	fmt.Printf("total batches:    %d\n", resp.TotalBatches)
	fmt.Printf("failed:           %d\n", resp.Failed)
	fmt.Printf("timed out:        %d\n", resp.TimedOut)
	fmt.Printf("success rate:     %.3f\n", resp.SuccessRate)
	fmt.Printf("avg batch size:   %.2f\n", resp.AvgBatchSize)
	fmt.Printf("avg proc time ms: %.2f\n", resp.AvgProcessingTimeMs)
	for priority, n := range resp.ByPriority {
		fmt.Printf("  %-10s %d\n", priority, n)
	}
	return nil
}

type queueStatsResponse struct {
	PerPrioritySize map[string]int `json:"PerPrioritySize"`
	Pending         int            `json:"Pending"`
	InFlightBatch   int            `json:"InFlightBatch"`
}

func runQueue(cmd *cobra.Command, args []string) error {
	var resp queueStatsResponse
	if err := getJSON("/api/queue", &resp); err != nil {
		return err
	}
	fmt.Printf("pending:       %d\n", resp.Pending)
	fmt.Printf("in-flight:     %d\n", resp.InFlightBatch)
	for priority, n := range resp.PerPrioritySize {
		fmt.Printf("  %-10s %d\n", priority, n)
	}
	return nil
}
