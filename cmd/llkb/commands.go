package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lessonbase/llkb/internal/confidence"
	"github.com/lessonbase/llkb/internal/config"
	"github.com/lessonbase/llkb/internal/knowledge"
	"github.com/lessonbase/llkb/internal/scan"
)

// --- context ---

var contextCmd = &cobra.Command{
	Use:   "context <journey-id>",
	Short: "Render the knowledge digest for a journey",
	Long: `Rank the knowledge base against a journey and print the digest that
would be injected into a generation prompt.

Examples:
  llkb context checkout-flow --title "Customer completes checkout"
  llkb context admin-login --scope framework:react --keywords login,admin`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		scope, _ := cmd.Flags().GetString("scope")
		keywords, _ := cmd.Flags().GetString("keywords")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := fmt.Sprintf("/context?journey=%s&title=%s&scope=%s&keywords=%s",
			urlEscape(args[0]), urlEscape(title), urlEscape(scope), urlEscape(keywords))
		resp, err := client.get(cmd.Context(), q)
		if err != nil {
			return err
		}

		var result struct {
			Context json.RawMessage `json:"context"`
			Digest  string          `json:"digest"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if asJSON {
			return printIndented(result.Context)
		}
		if result.Digest == "" {
			fmt.Println("No relevant knowledge for this journey.")
			return nil
		}
		fmt.Println(result.Digest)
		return nil
	},
}

func init() {
	contextCmd.Flags().String("title", "", "journey title")
	contextCmd.Flags().String("scope", "", "journey scope (universal, framework:<name>, app)")
	contextCmd.Flags().String("keywords", "", "comma-separated keywords")
	contextCmd.Flags().Bool("json", false, "print the full ranked context as JSON")
}

// --- detect ---

var detectCmd = &cobra.Command{
	Use:   "detect <dir>",
	Short: "Scan test files for near-duplicate fragments worth extracting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fragments, err := scan.Scan(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("scanning %s: %w", args[0], err)
		}
		if len(fragments) == 0 {
			fmt.Println("No step-labelled fragments found.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/detect", map[string]any{"fragments": fragments})
		if err != nil {
			return err
		}

		var result struct {
			Candidates []struct {
				Representative   string  `json:"representative"`
				Category         string  `json:"category"`
				Occurrences      int     `json:"occurrences"`
				DistinctJourneys int     `json:"distinctJourneys"`
				Score            float64 `json:"score"`
				Tier             string  `json:"tier"`
				Decision         struct {
					Reason string `json:"reason"`
				} `json:"decision"`
			} `json:"candidates"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Candidates) == 0 {
			fmt.Println("No extraction candidates.")
			return nil
		}
		for _, c := range result.Candidates {
			tier := c.Tier
			switch tier {
			case "EXTRACT_NOW":
				tier = colorize(colorGreen, tier)
			case "CONSIDER":
				tier = colorize(colorYellow, tier)
			}
			fmt.Printf("%s  score %.2f  %s  ×%d across %d journeys\n",
				tier, c.Score, c.Category, c.Occurrences, c.DistinctJourneys)
			fmt.Printf("  %s\n", truncateLine(c.Representative, 100))
			fmt.Printf("  %s\n", c.Decision.Reason)
		}
		return nil
	},
}

// --- match ---

var matchCmd = &cobra.Command{
	Use:   "match <description>",
	Short: "Find the best existing component for a test step",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		framework, _ := cmd.Flags().GetString("framework")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		step := map[string]any{
			"description": strings.Join(args, " "),
			"category":    category,
			"framework":   framework,
		}
		resp, err := client.post(cmd.Context(), "/match", map[string]any{"steps": []any{step}})
		if err != nil {
			return err
		}

		var result struct {
			Recommendations []struct {
				Action    string  `json:"action"`
				Score     float64 `json:"score"`
				Component *struct {
					Name     string `json:"name"`
					FilePath string `json:"filePath"`
				} `json:"component"`
			} `json:"recommendations"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if len(result.Recommendations) == 0 {
			fmt.Println("No recommendation.")
			return nil
		}

		rec := result.Recommendations[0]
		switch rec.Action {
		case "USE":
			printSuccess("USE %s (score %.2f, %s)", rec.Component.Name, rec.Score, rec.Component.FilePath)
		case "SUGGEST":
			printWarning("SUGGEST %s (score %.2f, %s)", rec.Component.Name, rec.Score, rec.Component.FilePath)
		default:
			fmt.Printf("No component matches (best score %.2f).\n", rec.Score)
		}
		return nil
	},
}

func init() {
	matchCmd.Flags().String("category", "", "step category")
	matchCmd.Flags().String("framework", "", "framework of the app under test")
}

// --- lessons ---

var lessonsCmd = &cobra.Command{
	Use:   "lessons",
	Short: "Inspect and manage stored lessons",
}

var lessonsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List lessons",
	RunE: func(cmd *cobra.Command, args []string) error {
		includeArchived, _ := cmd.Flags().GetBool("archived")

		lessons, err := fetchLessons(cmd, includeArchived)
		if err != nil {
			return err
		}
		if len(lessons) == 0 {
			fmt.Println("No lessons stored.")
			return nil
		}
		for _, l := range lessons {
			marker := ""
			if l.Archived {
				marker = colorize(colorYellow, " [archived]")
			}
			fmt.Printf("%s  %.2f  %-14s %s%s\n",
				colorize(colorCyan, shortID(l.ID)), l.Metrics.Confidence,
				l.Category, truncateLine(l.Trigger, 70), marker)
		}
		return nil
	},
}

var lessonsArchiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "Archive a lesson",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/lessons/"+args[0]+"/archive", map[string]any{})
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Archived lesson %s", args[0])
		return nil
	},
}

var lessonsReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List lessons whose confidence is low or declining",
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold, _ := cmd.Flags().GetFloat64("threshold")

		lessons, err := fetchLessons(cmd, false)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		flagged := 0
		for _, l := range lessons {
			if !confidence.NeedsReview(l, threshold, now) {
				continue
			}
			flagged++
			trend := confidence.TrendOf(l.History)
			fmt.Printf("%s  %.2f  %-10s %s\n",
				colorize(colorCyan, shortID(l.ID)), confidence.Calculate(l, now),
				trend, truncateLine(l.Trigger, 70))
		}
		if flagged == 0 {
			printSuccess("No lessons need review.")
		}
		return nil
	},
}

func init() {
	lessonsListCmd.Flags().Bool("archived", false, "include archived lessons")
	lessonsReviewCmd.Flags().Float64("threshold", 0.4, "confidence threshold for review")
	lessonsCmd.AddCommand(lessonsListCmd)
	lessonsCmd.AddCommand(lessonsArchiveCmd)
	lessonsCmd.AddCommand(lessonsReviewCmd)
}

func fetchLessons(cmd *cobra.Command, includeArchived bool) ([]knowledge.Lesson, error) {
	client, err := newAPIClient()
	if err != nil {
		return nil, err
	}
	path := "/lessons"
	if includeArchived {
		path += "?include_archived=true"
	}
	resp, err := client.get(cmd.Context(), path)
	if err != nil {
		return nil, err
	}
	var lessons []knowledge.Lesson
	if err := decodeJSON(resp, &lessons); err != nil {
		return nil, err
	}
	return lessons, nil
}

// --- components ---

var componentsCmd = &cobra.Command{
	Use:   "components",
	Short: "Inspect stored reusable components",
}

var componentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List components",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/components")
		if err != nil {
			return err
		}
		var components []knowledge.Component
		if err := decodeJSON(resp, &components); err != nil {
			return err
		}
		if len(components) == 0 {
			fmt.Println("No components stored.")
			return nil
		}
		for _, c := range components {
			fmt.Printf("%s  %-14s %-24s success %.0f%%  %s\n",
				colorize(colorCyan, shortID(c.ID)), c.Category, c.Name,
				c.Metrics.SuccessRate*100, c.FilePath)
		}
		return nil
	},
}

func init() {
	componentsCmd.AddCommand(componentsListCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- helpers ---

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncateLine(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func urlEscape(s string) string {
	return url.QueryEscape(strings.TrimSpace(s))
}

func printIndented(raw json.RawMessage) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return enc.Encode(v)
}
