package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/catalog-mcp/internal/engine"
	"github.com/dshills/catalog-mcp/pkg/types"
)

var (
	searchType     string
	searchSession  string
	searchLimit    int
	searchCategory string
	searchMaterial string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a ranked catalog search",
	Example: `  catalog-mcp search "bàn làm việc gỗ sồi"
  catalog-mcp search "gỗ sồi" --type material --limit 5
  catalog-mcp search --category "Ghế" --session chat-42`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := types.ParseEntityKind(searchType)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		name := types.IntentSearchProduct
		if kind == types.KindMaterial {
			name = types.IntentSearchMaterial
		}
		resp, err := a.engine.Handle(cmd.Context(), types.Intent{
			Name:       name,
			EntityType: kind,
			Query:      strings.Join(args, " "),
			Params: types.SearchParams{
				Category:        searchCategory,
				MaterialPrimary: searchMaterial,
			},
			SessionID: searchSession,
			Limit:     searchLimit,
		})
		if err != nil {
			return err
		}

		if outputJSON {
			return printJSON(resp)
		}
		printResponse(resp)
		return nil
	},
}

var costCmd = &cobra.Command{
	Use:     "cost <headcode>",
	Short:   "Price a product from its bill of materials",
	Example: `  catalog-mcp cost B001 --json`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		report, err := a.engine.ProductCost(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(report)
		}

		fmt.Printf("%s  %s\n", report.Headcode, report.ProductName)
		if !report.HasBOM() {
			fmt.Println("No bill of materials recorded for this product.")
			return nil
		}
		fmt.Printf("\n%-14s %-40s %10s %-6s %14s %14s\n", "ID_SAP", "MATERIAL", "QTY", "UNIT", "UNIT PRICE", "TOTAL")
		for _, line := range report.Lines {
			fmt.Printf("%-14s %-40s %10.3f %-6s %14.0f %14.0f\n",
				line.MaterialCode, truncate(line.MaterialName, 40), line.Quantity, line.Unit, line.UnitPrice, line.LineTotal)
		}
		fmt.Printf("\nMaterials: %14.0f\n", report.MaterialCost)
		fmt.Printf("Labor:     %14.0f\n", report.LaborCost)
		fmt.Printf("Overhead:  %14.0f\n", report.OverheadCost)
		fmt.Printf("Profit:    %14.0f\n", report.ProfitMargin)
		fmt.Printf("Total:     %14.0f\n", report.TotalCost)
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVarP(&searchType, "type", "t", "product", "entity type: product or material")
	searchCmd.Flags().StringVarP(&searchSession, "session", "s", "", "session id for personalization")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum results")
	searchCmd.Flags().StringVar(&searchCategory, "category", "", "product category or material group filter")
	searchCmd.Flags().StringVar(&searchMaterial, "material", "", "primary material filter")
}

func printResponse(resp *engine.Response) {
	fmt.Printf("method=%s status=%s items=%d\n", resp.Method, resp.Status, len(resp.Items))
	if resp.ExpandedQuery != "" {
		fmt.Printf("expanded query: %s\n", resp.ExpandedQuery)
	}
	for _, it := range resp.Items {
		fmt.Printf("%3d. %-12s %-40s final=%.3f base=%.3f personal=%.3f feedback=%.3f (was #%d)\n",
			it.FinalRank, it.EntityCode, truncate(it.DisplayName, 40),
			it.FinalScore, it.BaseScore, it.PersonalScore, it.FeedbackScore, it.OriginalRank)
	}
	if len(resp.Suggestions) > 0 {
		fmt.Printf("\nTry: %s\n", strings.Join(resp.Suggestions, " | "))
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
