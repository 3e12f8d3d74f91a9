package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/A2AReg/a2a-registry/pkg/agentcard"
	"github.com/A2AReg/a2a-registry/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	registryURL string
	authToken   string
	cfgFile     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "registryctl",
	Short: "Agent Registry command-line client",
	Long: `registryctl is the command-line interface for the agent registry.

It publishes Agent Cards, lists and searches published agents, reads the
well-known discovery surfaces, and administers peer registries.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.registryctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if registryURL == "" {
			registryURL = viper.GetString("registry_url")
		}
		if registryURL == "" {
			registryURL = "http://localhost:8080"
		}
		if authToken == "" {
			authToken = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.registryctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&registryURL, "registry", "", "registry base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "bearer token (principal JWT); falls back to the config file's token key")

	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(wellKnownCmd)
	rootCmd.AddCommand(peersCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds a registry client against --registry, attaching --token
// as a bearer credential when one is present.
func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if authToken != "" {
		opts = append(opts, client.WithBearerToken(authToken))
	}
	return client.New(registryURL, opts...)
}

// ── publish ──────────────────────────────────────────────────────────────────

var (
	publishFile              string
	publishURL               string
	publishPublic            bool
	publishPublisherOverride string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish an Agent Card to the registry",
	Long: `publish uploads an Agent Card either by value (--file) or by reference
(--url, fetched and validated by the registry). Exactly one of --file or
--url is required.

Publishing requires a catalog-manager or administrator principal token.
Use --publisher-override to publish on behalf of another publisher in the
tenant; this additionally requires the administrator role.`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishFile, "file", "", "path to an Agent Card JSON file")
	publishCmd.Flags().StringVar(&publishURL, "url", "", "URL the registry should fetch the Agent Card from")
	publishCmd.Flags().BoolVar(&publishPublic, "public", false, "make the published version publicly listable")
	publishCmd.Flags().StringVar(&publishPublisherOverride, "publisher-override", "", "publish on behalf of another publisher (administrator only)")
}

func runPublish(cmd *cobra.Command, args []string) error {
	if (publishFile == "") == (publishURL == "") {
		return fmt.Errorf("exactly one of --file or --url is required")
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var result *client.PublishResult
	if publishFile != "" {
		data, readErr := os.ReadFile(publishFile)
		if readErr != nil {
			return fmt.Errorf("read card file: %w", readErr)
		}
		card, parseErr := agentcard.ParseRaw(data)
		if parseErr != nil {
			return fmt.Errorf("parse card: %w", parseErr)
		}
		result, err = c.Publish(ctx, card, publishPublic, publishPublisherOverride)
	} else {
		result, err = c.PublishByURL(ctx, publishURL, publishPublic, publishPublisherOverride)
	}
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	if result.Created {
		fmt.Println("✓ Agent published")
	} else {
		fmt.Println("✓ Agent version already existed (head unchanged)")
	}
	fmt.Printf("  Agent ID:   %s\n", result.AgentID)
	fmt.Printf("  Version ID: %s\n", result.VersionID)
	return nil
}

// ── list ─────────────────────────────────────────────────────────────────────

var (
	listCursor string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list {public|entitled}",
	Short: "List agents the caller can see",
	Args:  cobra.ExactArgs(1),
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listCursor, "cursor", "", "opaque pagination cursor from a previous page")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum items per page")
}

func runList(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var page *client.Page
	switch args[0] {
	case "public":
		page, err = c.ListPublic(ctx, listCursor, listLimit)
	case "entitled":
		page, err = c.ListEntitled(ctx, listCursor, listLimit)
	default:
		return fmt.Errorf("unknown list target %q: expected public or entitled", args[0])
	}
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	printAgentPage(page)
	return nil
}

func printAgentPage(page *client.Page) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPUBLIC\tVERSION\tUPDATED")
	for _, a := range page.Items {
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n", a.ID, a.Name, a.Public, a.Version.Version, a.UpdatedAt.Format(time.RFC3339))
	}
	w.Flush() //nolint:errcheck
	if page.NextCursor != "" {
		fmt.Printf("\nnext cursor: %s\n", page.NextCursor)
	}
}

// ── get ──────────────────────────────────────────────────────────────────────

var getCard bool

var getCmd = &cobra.Command{
	Use:   "get <agent-id>",
	Short: "Show an agent's metadata, or its Agent Card with --card",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	getCmd.Flags().BoolVar(&getCard, "card", false, "print the agent's Agent Card instead of its registry metadata")
}

func runGet(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := context.Background()
	id := args[0]

	if getCard {
		card, getErr := c.GetCard(ctx, id)
		if getErr != nil {
			return fmt.Errorf("get card: %w", getErr)
		}
		return printJSON(card)
	}

	agent, err := c.GetAgent(ctx, id)
	if err != nil {
		return fmt.Errorf("get agent: %w", err)
	}
	return printJSON(agent)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── search ───────────────────────────────────────────────────────────────────

var (
	searchTags      []string
	searchPublisher string
	searchTransport string
	searchPublicSet bool
	searchCursor    string
	searchTop       int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search agents by name, description, and skill tags",
	Long: `search requires an authenticated principal and honors tenant
entitlements: federated and private agents only appear when the caller
is entitled to them.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringSliceVar(&searchTags, "tag", nil, "filter by skill tag (repeatable)")
	searchCmd.Flags().StringVar(&searchPublisher, "publisher", "", "filter by publisher display name")
	searchCmd.Flags().StringVar(&searchTransport, "transport", "", "filter by preferred transport (jsonrpc, grpc, http)")
	searchCmd.Flags().BoolVar(&searchPublicSet, "public-only", false, "restrict results to publicly listed agents")
	searchCmd.Flags().StringVar(&searchCursor, "cursor", "", "opaque pagination cursor from a previous page")
	searchCmd.Flags().IntVar(&searchTop, "top", 20, "maximum results to return")
}

func runSearch(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	req := client.SearchRequest{
		Q:      args[0],
		Top:    searchTop,
		Cursor: searchCursor,
		Filters: client.SearchFilters{
			Tags:      searchTags,
			Publisher: searchPublisher,
			Transport: searchTransport,
		},
	}
	if searchPublicSet {
		t := true
		req.Filters.Public = &t
	}

	page, err := c.Search(context.Background(), req)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	printAgentPage(page)
	return nil
}

// ── well-known ───────────────────────────────────────────────────────────────

var (
	wellKnownCursor string
	wellKnownLimit  int
)

var wellKnownCmd = &cobra.Command{
	Use:   "wellknown",
	Short: "List the registry's published well-known agent index",
	RunE:  runWellKnown,
}

func init() {
	wellKnownCmd.Flags().StringVar(&wellKnownCursor, "cursor", "", "opaque pagination cursor from a previous page")
	wellKnownCmd.Flags().IntVar(&wellKnownLimit, "limit", 50, "maximum entries per page")
}

func runWellKnown(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	idx, err := c.GetWellKnownIndex(context.Background(), wellKnownCursor, wellKnownLimit)
	if err != nil {
		return fmt.Errorf("get well-known index: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PUBLISHER\tNAME\tCONTENT HASH\tCARD URL")
	for _, e := range idx.Entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Publisher, e.Name, e.ContentHash, e.CardURL)
	}
	w.Flush() //nolint:errcheck
	if idx.NextCursor != "" {
		fmt.Printf("\nnext cursor: %s\n", idx.NextCursor)
	}
	return nil
}

// ── peers ────────────────────────────────────────────────────────────────────

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Administer federation peer registries",
	Long:  `peers requires an administrator principal token for every subcommand.`,
}

var (
	peerCreateName     string
	peerCreateBaseURL  string
	peerCreateAuth     string
	peerCreateInterval int
)

var peerCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new federation peer",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		peer, err := c.CreatePeer(context.Background(), peerCreateName, peerCreateBaseURL, peerCreateAuth, peerCreateInterval)
		if err != nil {
			return fmt.Errorf("create peer: %w", err)
		}
		fmt.Printf("✓ Peer registered: %s (%s)\n", peer.Name, peer.ID)
		return nil
	},
}

var peerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List federation peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		peers, err := c.ListPeers(context.Background())
		if err != nil {
			return fmt.Errorf("list peers: %w", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tBASE URL\tSTATUS\tINTERVAL(s)")
		for _, p := range peers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", p.ID, p.Name, p.BaseURL, p.Status, p.SyncIntervalS)
		}
		return w.Flush()
	},
}

var peerSyncCmd = &cobra.Command{
	Use:   "sync <peer-id>",
	Short: "Trigger an immediate sync run for a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.TriggerSync(context.Background(), args[0]); err != nil {
			return fmt.Errorf("trigger sync: %w", err)
		}
		fmt.Println("✓ Sync triggered")
		return nil
	},
}

var peerEnableCmd = &cobra.Command{
	Use:   "enable <peer-id>",
	Short: "Resume scheduled syncing for a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.EnablePeer(context.Background(), args[0]); err != nil {
			return fmt.Errorf("enable peer: %w", err)
		}
		fmt.Println("✓ Peer enabled")
		return nil
	},
}

var peerDisableCmd = &cobra.Command{
	Use:   "disable <peer-id>",
	Short: "Pause scheduled syncing for a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.DisablePeer(context.Background(), args[0]); err != nil {
			return fmt.Errorf("disable peer: %w", err)
		}
		fmt.Println("✓ Peer disabled")
		return nil
	},
}

func init() {
	peerCreateCmd.Flags().StringVar(&peerCreateName, "name", "", "peer display name")
	peerCreateCmd.Flags().StringVar(&peerCreateBaseURL, "base-url", "", "peer registry base URL")
	peerCreateCmd.Flags().StringVar(&peerCreateAuth, "auth-token", "", "credential the puller presents to the peer")
	peerCreateCmd.Flags().IntVar(&peerCreateInterval, "interval", 3600, "sync interval in seconds")
	_ = peerCreateCmd.MarkFlagRequired("name")
	_ = peerCreateCmd.MarkFlagRequired("base-url")

	peersCmd.AddCommand(peerCreateCmd)
	peersCmd.AddCommand(peerListCmd)
	peersCmd.AddCommand(peerSyncCmd)
	peersCmd.AddCommand(peerEnableCmd)
	peersCmd.AddCommand(peerDisableCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the registryctl CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("registryctl %s\n", version)
	},
}
