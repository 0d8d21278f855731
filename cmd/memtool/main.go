package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemo-labs/go-memory/src/config"
	"github.com/mnemo-labs/go-memory/src/embed"
	"github.com/mnemo-labs/go-memory/src/memory"
)

var (
	configPath string
	agentID    string
	memoryID   string
	topK       int
)

var rootCmd = &cobra.Command{
	Use:   "memtool",
	Short: "Inspect and exercise the semantic memory store",
	Long:  `Command-line access to the memory banks: add entries, run similarity searches, list banks, and render context snippets.`,
}

func buildStore() (*memory.Store, config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, config.Config{}, err
	}

	// Remote embeds pay a network round trip per call, so they get a cache.
	remote, err := embed.NewCachedEngine(embed.NewRemoteEngine(cfg.RemoteURL, cfg.Model), int64(cfg.MaxEntries))
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("embedding cache: %w", err)
	}
	engines := []embed.Engine{
		embed.NewTFIDFEngine(filepath.Join(cfg.StorageDir, "tfidf_vocab.json")),
		embed.NewFastEmbedEngine(embed.FastEmbedOptions{CacheDir: cfg.CacheDir}),
		embed.NewSentenceTransformerEngine(embed.SentenceTransformerOptions{
			ModelPath:     filepath.Join(cfg.CacheDir, cfg.Model, "model.onnx"),
			TokenizerPath: filepath.Join(cfg.CacheDir, cfg.Model, "tokenizer.json"),
		}),
		remote,
	}
	if cfg.Engine == embed.EngineOllama {
		ollama, err := embed.NewOllamaEngine(cfg.Model)
		if err != nil {
			return nil, config.Config{}, fmt.Errorf("ollama client: %w", err)
		}
		engines = append(engines, ollama)
	}
	selector := embed.NewSelector(cfg.Engine, engines...)

	var persister memory.Persister
	switch cfg.StorageBackend {
	case config.BackendSQLite:
		persister, err = memory.NewSQLitePersister(filepath.Join(cfg.StorageDir, "memory.db"))
	default:
		persister, err = memory.NewFilePersister(cfg.StorageDir)
	}
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("open storage: %w", err)
	}

	store := memory.NewStore(selector, persister)

	ctx := context.Background()
	banks := []memory.BankConfig{
		{ID: "common", DisplayName: "Common Memory", Scope: memory.ScopeCommon, MaxEntries: cfg.MaxEntries},
	}
	if agentID != "" {
		banks = append(banks, memory.BankConfig{
			ID:          "private_" + sanitize(agentID),
			DisplayName: "Private Memory: " + agentID,
			Scope:       memory.ScopePrivate,
			AgentID:     agentID,
			MaxEntries:  cfg.MaxEntries,
		})
	}
	for _, bank := range banks {
		if err := store.Configure(ctx, bank); err != nil {
			store.Close()
			return nil, config.Config{}, fmt.Errorf("configure bank %s: %w", bank.ID, err)
		}
	}
	return store, cfg, nil
}

func sanitize(id string) string {
	return strings.NewReplacer(".", "_", "/", "_").Replace(id)
}

var addCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Store a memory entry",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := buildStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ref, err := store.Add(cmd.Context(), memoryID, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Printf("stored entry %s in %s at position %d\n", ref.EntryID, ref.BankID, ref.Position)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank stored entries against a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := buildStore()
		if err != nil {
			return err
		}
		defer store.Close()

		results, err := store.Search(cmd.Context(), strings.Join(args, " "), memory.ScopeContext{AgentID: agentID}, topK)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("no matching memories")
			return nil
		}
		for _, res := range results {
			fmt.Printf("%.3f  [%s]  %s\n", res.Score, res.BankID, res.Entry.Text)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured memory banks",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := buildStore()
		if err != nil {
			return err
		}
		defer store.Close()

		for _, bank := range store.List() {
			fmt.Printf("%-24s %-8s %4d/%d entries\n", bank.ID, bank.Scope, bank.EntryCount, bank.MaxEntries)
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty a memory bank, keeping its configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := buildStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Clear(cmd.Context(), memoryID); err != nil {
			return err
		}
		fmt.Printf("cleared %s\n", memoryID)
		return nil
	},
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Render a bank's prompt-injection snippet",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := buildStore()
		if err != nil {
			return err
		}
		defer store.Close()

		snippet, err := store.Context(memoryID)
		if err != nil {
			return err
		}
		if snippet == "" {
			fmt.Println("(empty)")
			return nil
		}
		fmt.Println(snippet)
		return nil
	},
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive session against the memory store",
	Long:  `Keeps one store open across commands. When --config names a file, edits to it are picked up live and the engine selection is re-evaluated against the new policy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := buildStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if configPath != "" {
			watcher, err := config.Watch(configPath, func(updated config.Config) {
				// Engine policy may have changed; drop cached resolution
				// so the next embed re-runs the fallback chain.
				store.Selector().Invalidate()
				log.Printf("config reloaded: engine=%s backend=%s", updated.Engine, updated.StorageBackend)
			})
			if err != nil {
				return fmt.Errorf("watch config: %w", err)
			}
			defer watcher.Close()
		}

		fmt.Printf("memory repl (policy %s). commands: add <text> | search <query> | context | list | clear | engines | quit\n", cfg.Engine)
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			verb, rest, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
			switch verb {
			case "":
			case "quit", "exit":
				return nil
			case "add":
				ref, err := store.Add(cmd.Context(), memoryID, rest)
				if err != nil {
					fmt.Println("error:", err)
					continue
				}
				fmt.Printf("stored %s at position %d\n", ref.EntryID, ref.Position)
			case "search":
				results, err := store.Search(cmd.Context(), rest, memory.ScopeContext{AgentID: agentID}, topK)
				if err != nil {
					fmt.Println("error:", err)
					continue
				}
				for _, res := range results {
					fmt.Printf("%.3f  [%s]  %s\n", res.Score, res.BankID, res.Entry.Text)
				}
			case "context":
				snippet, err := store.Context(memoryID)
				if err != nil {
					fmt.Println("error:", err)
					continue
				}
				fmt.Println(snippet)
			case "list":
				for _, bank := range store.List() {
					fmt.Printf("%-24s %-8s %4d/%d entries\n", bank.ID, bank.Scope, bank.EntryCount, bank.MaxEntries)
				}
			case "clear":
				if err := store.Clear(cmd.Context(), memoryID); err != nil {
					fmt.Println("error:", err)
					continue
				}
				fmt.Printf("cleared %s\n", memoryID)
			case "engines":
				for _, d := range store.Selector().Descriptors() {
					fmt.Printf("%-22s available=%-5v dim=%-4d resource=%s\n", d.Name, d.Available, d.Dimensions, d.ResourceClass)
				}
			default:
				fmt.Println("unknown command:", verb)
			}
		}
	},
}

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "Show embedding engine availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := buildStore()
		if err != nil {
			return err
		}
		defer store.Close()

		fmt.Printf("policy: %s\n", cfg.Engine)
		for _, d := range store.Selector().Descriptors() {
			fmt.Printf("%-22s available=%-5v dim=%-4d resource=%s\n", d.Name, d.Available, d.Dimensions, d.ResourceClass)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file")
	rootCmd.PersistentFlags().StringVar(&agentID, "agent", "", "agent identity for private scope")
	rootCmd.PersistentFlags().StringVar(&memoryID, "memory", "common", "target memory bank id")
	searchCmd.Flags().IntVar(&topK, "top-k", memory.DefaultTopK, "number of results")
	rootCmd.AddCommand(addCmd, searchCmd, listCmd, clearCmd, contextCmd, enginesCmd, replCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
