package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/kalambet/folio/internal/catalog"
	"github.com/kalambet/folio/internal/config"
	"github.com/kalambet/folio/internal/feed"
	"github.com/kalambet/folio/internal/storage"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- similar ---

var similarCmd = &cobra.Command{
	Use:   "similar <title>",
	Short: "List catalog books similar to a title",
	Long: `List catalog books similar to a title.

Unknown titles fall back to the first books of the catalog.

Examples:
  folio similar "Dracula"
  folio similar "Dracula" --k 10`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("k")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("book_title", strings.Join(args, " "))
		if k > 0 {
			q.Set("k", strconv.Itoa(k))
		}
		resp, err := client.get(cmd.Context(), "/recommend?"+q.Encode())
		if err != nil {
			return err
		}

		var books []catalog.Book
		if err := decodeJSON(resp, &books); err != nil {
			return err
		}
		if asJSON {
			return printJSON(books)
		}
		writeBooks(os.Stdout, books)
		return nil
	},
}

func init() {
	similarCmd.Flags().Int("k", 0, "number of results (server default when 0)")
	similarCmd.Flags().Bool("json", false, "print raw JSON")
}

// --- feed ---

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Show the discovery feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/api/global_feed"
		if user != "" {
			path += "?user_id=" + url.QueryEscape(user)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var f feed.Feed
		if err := decodeJSON(resp, &f); err != nil {
			return err
		}
		if asJSON {
			return printJSON(f)
		}
		if len(f.Rows) == 0 {
			printWarning("feed is empty, the external catalog may be unreachable")
			return nil
		}
		for _, row := range f.Rows {
			printHeading(os.Stdout, fmt.Sprintf("%s (%d)", row.Label, len(row.Books)))
			writeBooks(os.Stdout, row.Books)
		}
		return nil
	},
}

func init() {
	feedCmd.Flags().String("user", "", "user id to personalize for")
	feedCmd.Flags().Bool("json", false, "print raw JSON")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the global library",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/search_external?q="+url.QueryEscape(strings.Join(args, " ")))
		if err != nil {
			return err
		}

		var books []catalog.Book
		if err := decodeJSON(resp, &books); err != nil {
			return err
		}
		if asJSON {
			return printJSON(books)
		}
		writeBooks(os.Stdout, books)
		return nil
	},
}

func init() {
	searchCmd.Flags().Bool("json", false, "print raw JSON")
}

// --- reindex ---

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Ask the running server to rebuild the similarity index",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if client.token == "" {
			return fmt.Errorf("FOLIO_ADMIN_TOKEN must be set to use admin commands")
		}

		resp, err := client.post(cmd.Context(), "/admin/reindex", nil)
		if err != nil {
			return err
		}
		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Reindex %v", result["status"])
		return nil
	},
}

// --- catalog ---

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the local catalog",
}

var catalogLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load books from a YAML or JSON seed file",
	Long: `Load books from a YAML or JSON seed file into the local catalog.

The file is either a list of books or a mapping with a "books" list. Each
book needs a title, category and description. Books whose ia_id is already
in the catalog are skipped. A running server picks up the new books on its
next reindex poll.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		inserted, total, err := loadSeed(cmd.Context(), store, args[0])
		if err != nil {
			return err
		}
		printSuccess("Loaded %d of %d books", inserted, total)
		if skipped := total - inserted; skipped > 0 {
			printWarning("%d already in the catalog", skipped)
		}
		return nil
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the local catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/books")
		if err != nil {
			return err
		}
		var books []catalog.Book
		if err := decodeJSON(resp, &books); err != nil {
			return err
		}
		writeBooks(os.Stdout, books)
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogLoadCmd)
	catalogCmd.AddCommand(catalogListCmd)
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

		fmt.Printf("  %s\n", colorize(colorCyan, config.ConfigFilePath()))
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value.\n\nValid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
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
