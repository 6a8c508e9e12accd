package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(modelsCmd)
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List catalog models and their residency in the running daemon",
	RunE:  runModels,
}

type modelSnapshotResponse struct {
	Catalog []struct {
		ID   string `json:"ID"`
		Name string `json:"Name"`
		Tier string `json:"Tier"`
	} `json:"catalog"`
	Snapshot struct {
		MemoryPressure float64 `json:"MemoryPressure"`
		PerModel       []struct {
			Name     string `json:"Name"`
			UseCount int64  `json:"UseCount"`
			Tier     string `json:"Tier"`
		} `json:"PerModel"`
	} `json:"snapshot"`
}

func runModels(cmd *cobra.Command, args []string) error {
	var resp modelSnapshotResponse
	if err := getJSON("/api/models", &resp); err != nil {
		return err
	}

	loaded := make(map[string]bool, len(resp.Snapshot.PerModel))
	for _, m := range resp.Snapshot.PerModel {
		loaded[m.Name] = true
	}

	fmt.Printf("%-24s %-10s %-10s\n", "MODEL", "TIER", "RESIDENT")
	for _, m := range resp.Catalog {
		resident := "-"
		if loaded[m.ID] {
			resident = "loaded"
		}
		fmt.Printf("%-24s %-10s %-10s\n", m.ID, m.Tier, resident)
	}
	fmt.Printf("\nmemory pressure: %.2f\n", resp.Snapshot.MemoryPressure)
	return nil
}
