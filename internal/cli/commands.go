package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramdb/engram/internal/config"
	"github.com/engramdb/engram/internal/engine"
	"github.com/engramdb/engram/internal/store"
)

// openEngine loads the config and opens the store for one-shot CLI commands.
// The caller must Close the returned DB.
func openEngine() (*engine.Engine, *store.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		if dbPath = os.Getenv("ENGRAM_DB"); dbPath == "" {
			dbPath, err = store.DefaultDBPath()
			if err != nil {
				return nil, nil, err
			}
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	return engine.New(db, cfg.Memory), db, nil
}

// --- add command ---

var (
	addCategory   string
	addImportance float64
	addPinned     bool
	addSource     string
	addEntities   []string
)

var addCmd = &cobra.Command{
	Use:   "add [content]",
	Short: "Store a new memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

func runAdd(cmd *cobra.Command, args []string) error {
	eng, db, err := openEngine()
	if err != nil {
		return err
	}
	defer db.Close()

	opts := engine.AddOpts{
		Content:  strings.Join(args, " "),
		Category: addCategory,
		Pinned:   addPinned,
		Source:   addSource,
		Entities: addEntities,
	}
	if cmd.Flags().Changed("importance") {
		opts.Importance = &addImportance
	}

	m, err := eng.Add(context.Background(), opts)
	if err != nil {
		return err
	}

	fmt.Printf("stored %s [%s, importance %.2f]\n", m.ID, m.Category, m.Importance)
	return nil
}

// --- recall command ---

var (
	recallLimit      int
	recallCategories []string
	recallLayers     []string
	recallContext    []string
	recallMinConf    float64
	recallNoTouch    bool
)

var recallCmd = &cobra.Command{
	Use:   "recall [query]",
	Short: "Retrieve memories for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecall,
}

func runRecall(cmd *cobra.Command, args []string) error {
	eng, db, err := openEngine()
	if err != nil {
		return err
	}
	defer db.Close()

	// CLI recall uses TF-IDF; Ollama detection is server-side only.
	if emb, err := engine.NewTFIDFEmbedder(db, 512); err == nil {
		eng.SetEmbedder(emb)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := eng.Recall(ctx, strings.Join(args, " "), engine.RecallOpts{
		Limit:           recallLimit,
		Categories:      recallCategories,
		Layers:          recallLayers,
		ContextKeywords: recallContext,
		MinConfidence:   recallMinConf,
		NoTouch:         recallNoTouch,
	})
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No memories found.")
		return nil
	}

	for i, r := range results {
		marker := ""
		if r.Memory.Pinned {
			marker = " [pinned]"
		}
		if r.Contradicted {
			marker += " [superseded]"
		}
		fmt.Printf("%d. [%.3f, %s]%s %s\n", i+1, r.Score, r.Label, marker, r.Memory.Content)
		fmt.Printf("   %s | %s | id %s\n", r.Memory.Category, r.Memory.Layer, r.Memory.ID)
	}
	return nil
}

// --- consolidate command ---

var consolidateDays float64

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run a consolidation pass",
	Long:  "Advance the retention model: decay the working trace, transfer into the core trace, replay the archive, and renormalize.",
	RunE:  runConsolidate,
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	eng, db, err := openEngine()
	if err != nil {
		return err
	}
	defer db.Close()

	rep, err := eng.Consolidate(consolidateDays)
	if err != nil {
		return err
	}

	fmt.Printf("consolidated %d memories: %d promoted, %d archived, %d replayed, %d links pruned\n",
		rep.Processed, rep.Promoted, rep.Archived, rep.Replayed, rep.LinksPruned)
	return nil
}

// --- reward command ---

var rewardCmd = &cobra.Command{
	Use:   "reward [feedback]",
	Short: "Apply outcome feedback to recently recalled memories",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runReward,
}

func runReward(cmd *cobra.Command, args []string) error {
	eng, db, err := openEngine()
	if err != nil {
		return err
	}
	defer db.Close()

	rep, err := eng.Reward(strings.Join(args, " "))
	if err != nil {
		return err
	}

	fmt.Printf("feedback %s (confidence %.2f): %d memories adjusted\n",
		rep.Polarity, rep.Confidence, rep.Adjusted)
	return nil
}

// --- pin / unpin / forget ---

var pinCmd = &cobra.Command{
	Use:   "pin [id]",
	Short: "Freeze a memory against decay and forgetting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, db, err := openEngine()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := eng.Pin(args[0]); err != nil {
			return err
		}
		fmt.Printf("pinned %s\n", args[0])
		return nil
	},
}

var unpinCmd = &cobra.Command{
	Use:   "unpin [id]",
	Short: "Release a pinned memory back into the retention model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, db, err := openEngine()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := eng.Unpin(args[0]); err != nil {
			return err
		}
		fmt.Printf("unpinned %s\n", args[0])
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget [id]",
	Short: "Delete a memory outright",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, db, err := openEngine()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := eng.Forget(args[0]); err != nil {
			return err
		}
		fmt.Printf("forgot %s\n", args[0])
		return nil
	},
}

// --- links command ---

var linksCmd = &cobra.Command{
	Use:   "links [id]",
	Short: "Show the learned associations of a memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runLinks,
}

func runLinks(cmd *cobra.Command, args []string) error {
	eng, db, err := openEngine()
	if err != nil {
		return err
	}
	defer db.Close()

	id := args[0]
	links, err := eng.HebbianLinks(id)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		fmt.Println("No associations yet.")
		return nil
	}

	for _, l := range links {
		other := l.SourceID
		if other == id {
			other = l.TargetID
		}
		m, err := db.GetMemory(other)
		if err != nil {
			return err
		}
		content := "(deleted)"
		if m != nil {
			content = m.Content
		}
		fmt.Printf("  %.2f (%dx) %s\n     %s\n", l.Strength, l.CoactivationCount, other, content)
	}
	return nil
}

// --- export command ---

var exportCmd = &cobra.Command{
	Use:   "export [path]",
	Short: "Write a snapshot copy of the memory database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openEngine()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.ExportTo(args[0]); err != nil {
			return err
		}
		fmt.Printf("exported %s to %s\n", db.Path, args[0])
		return nil
	},
}

// --- stats command ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	eng, db, err := openEngine()
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := eng.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("memories: %d (%d pinned)\n", s.Total, s.Pinned)
	for _, layer := range []string{store.LayerWorking, store.LayerCore, store.LayerArchive} {
		fmt.Printf("  %-8s %d\n", layer, s.ByLayer[layer])
	}
	fmt.Println("by category:")
	for cat, n := range s.ByCategory {
		fmt.Printf("  %-11s %d\n", cat, n)
	}
	fmt.Printf("avg strength: working %.3f, core %.3f\n", s.AvgWorking, s.AvgCore)
	fmt.Printf("associations: %d\n", s.Links)
	return nil
}

func init() {
	addCmd.Flags().StringVarP(&addCategory, "category", "c", "factual", "Memory category")
	addCmd.Flags().Float64VarP(&addImportance, "importance", "i", 0, "Importance override in [0,1]")
	addCmd.Flags().BoolVar(&addPinned, "pin", false, "Pin the memory")
	addCmd.Flags().StringVar(&addSource, "source", "", "Provenance note")
	addCmd.Flags().StringSliceVarP(&addEntities, "entity", "e", nil, "Entity tags (repeatable)")

	recallCmd.Flags().IntVarP(&recallLimit, "limit", "n", 10, "Maximum number of results")
	recallCmd.Flags().StringSliceVarP(&recallCategories, "category", "c", nil, "Filter by category (repeatable)")
	recallCmd.Flags().StringSliceVar(&recallLayers, "layer", nil, "Filter by layer (repeatable)")
	recallCmd.Flags().StringSliceVar(&recallContext, "context", nil, "Context keywords for spreading activation")
	recallCmd.Flags().Float64Var(&recallMinConf, "min-confidence", 0, "Drop results below this confidence")
	recallCmd.Flags().BoolVar(&recallNoTouch, "no-touch", false, "Do not record access or learn associations")

	consolidateCmd.Flags().Float64VarP(&consolidateDays, "days", "d", 1, "Simulated days to advance")
}
