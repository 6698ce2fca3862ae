package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vltier/meshcore-keygen/internal/config"
	"github.com/vltier/meshcore-keygen/internal/logger"
	"github.com/vltier/meshcore-keygen/internal/storage"
	"github.com/vltier/meshcore-keygen/pkg/miner"
	"github.com/vltier/meshcore-keygen/pkg/types"
)

var (
	cfg        = config.NewConfig()
	maxTime    time.Duration
	patternLen int
	log        logger.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "meshcore-keygen",
		Short: "Vanity Ed25519 keypair generator for MeshCore",
		Long: `Searches for MeshCore-compatible Ed25519 keypairs whose public key
matches a hex prefix, a vanity pattern (first n hex chars repeat at the end),
or both. Found keys are verified against the MeshCore protocol rules before
they are written out.`,
		RunE: run,
	}

	f := rootCmd.Flags()
	f.StringVarP(&cfg.Prefix, "prefix", "p", "", "Public key hex prefix to match")
	f.IntVar(&cfg.VanityLen, "vanity", 0, "Vanity length: first n hex chars must repeat at the end (2-8)")
	f.IntVar(&patternLen, "pattern", 0, "Alias of --vanity")
	f.IntVarP(&cfg.Count, "count", "n", 1, "Number of keys to find")
	f.IntVarP(&cfg.Workers, "workers", "w", runtime.NumCPU(), "Number of CPU worker goroutines")
	f.IntVar(&cfg.BatchSize, "batch-size", 1000, "Derivations per worker batch")
	f.BoolVar(&cfg.UseGPU, "gpu", false, "Enable the GPU search path")
	f.StringVar(&cfg.Backend, "backend", "", "Force a compute backend (metal, cuda, vulkan, opencl, cpu)")
	f.IntVar(&cfg.Lanes, "lanes", 0, "GPU lanes per batch (0 = backend default)")
	f.DurationVar(&maxTime, "max-time", 0, "Stop after this duration (0 = unlimited)")
	f.Uint64Var(&cfg.MaxAttempts, "max-attempts", 0, "Stop after this many attempts (0 = unlimited)")
	f.BoolVar(&cfg.NoVerify, "no-verify", false, "Skip MeshCore validation of found keys")
	f.StringVarP(&cfg.OutputDir, "output", "o", ".", "Directory for key files")
	f.StringVar(&cfg.DBPath, "db", "", "SQLite database for found keys (empty = disabled)")
	f.BoolVar(&cfg.Benchmark, "benchmark", false, "Measure throughput, write nothing")
	f.BoolVar(&cfg.JSON, "json", false, "Machine-readable summary on stdout")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Verbose output")
	f.StringVarP(&cfg.LogFile, "log-file", "l", "", "Log file (JSON lines, rotated)")
	f.IntVarP(&cfg.LogInterval, "log-interval", "i", 5, "Seconds between progress lines")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	cfg.MaxTime = maxTime

	if cmd.Flags().Changed("pattern") && !cmd.Flags().Changed("vanity") {
		cfg.VanityLen = patternLen
	}

	// No pattern flags at all means a vanity-8 search, the most wanted kind.
	if !cmd.Flags().Changed("prefix") && !cmd.Flags().Changed("vanity") &&
		!cmd.Flags().Changed("pattern") {
		cfg.VanityLen = 8
	}

	log = setupLogging()

	m, err := miner.New(cfg, log)
	if err != nil {
		return err
	}

	var store *storage.Store
	if cfg.DBPath != "" {
		store, err = storage.Open(cfg.DBPath, log)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := m.SetStore(store); err != nil {
			return err
		}
	}

	if !cfg.Benchmark {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return fmt.Errorf("%w: %v", config.ErrOutputUnwritable, err)
		}
		known, err := loadExistingKeys(cfg.OutputDir)
		if err != nil {
			return err
		}
		m.SetKnownKeys(known)
		m.SetOnFound(func(c types.Candidate, index int) {
			if err := saveKey(&c, index); err != nil {
				log.Error("write key files: ", err)
			}
		})
	}

	log.Info("searching for ", cfg.Count, " key(s): ", m.Spec().Describe())
	if p := m.Spec().Probability(); p > 0 {
		log.Info(fmt.Sprintf("match probability %.3g (about 1 in %.0f keys)", p, 1/p))
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := m.Run(ctx)
	if err != nil {
		return err
	}

	printSummary(result)
	if len(result.Keys) < cfg.Count {
		os.Exit(2)
	}
	return nil
}

func setupLogging() logger.Logger {
	level := logger.LevelInfo
	if cfg.Verbose {
		level = logger.LevelDebug
	}
	if cfg.LogFile != "" {
		return logger.NewFileLogger(level, cfg.LogFile, 10, 3, 28)
	}
	return logger.NewConsoleLogger(level)
}

// loadExistingKeys scans the output directory for previously written public
// key files so reruns do not emit the same key twice.
func loadExistingKeys(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*_public.txt"))
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		k := strings.ToLower(strings.TrimSpace(string(data)))
		if len(k) == 64 {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		log.Info("loaded ", len(keys), " existing key(s) from ", dir)
	}
	return keys, nil
}

// saveKey writes the public/private hex files for one accepted candidate.
// Private key files are created owner-readable only.
func saveKey(c *types.Candidate, index int) error {
	pub := c.Key.PublicHex()
	stem := fmt.Sprintf("%s_%d_%s", strings.ToUpper(pub[:8]), index+1,
		c.FoundAt.Format("20060102-150405"))

	pubPath := filepath.Join(cfg.OutputDir, stem+"_public.txt")
	if err := os.WriteFile(pubPath, []byte(pub+"\n"), 0o644); err != nil {
		return err
	}
	privPath := filepath.Join(cfg.OutputDir, stem+"_private.txt")
	if err := os.WriteFile(privPath, []byte(c.Key.PrivateHex()+"\n"), 0o600); err != nil {
		return err
	}
	log.Info("saved ", pubPath)
	return nil
}

func printSummary(r *types.Result) {
	if cfg.JSON {
		type keyOut struct {
			Public   string    `json:"public"`
			Private  string    `json:"private"`
			NodeID   string    `json:"node_id"`
			Pattern  string    `json:"pattern"`
			Source   string    `json:"source"`
			FoundAt  time.Time `json:"found_at"`
			Attempts uint64    `json:"attempts"`
		}
		out := struct {
			Keys     []keyOut `json:"keys"`
			Attempts uint64   `json:"attempts"`
			Valid    int      `json:"valid"`
			Duration string   `json:"duration"`
			Rate     float64  `json:"rate"`
		}{
			Attempts: r.Attempts,
			Valid:    r.Valid,
			Duration: r.Duration.String(),
			Rate:     r.Rate(),
		}
		for _, c := range r.Keys {
			out.Keys = append(out.Keys, keyOut{
				Public:   c.Key.PublicHex(),
				Private:  c.Key.PrivateHex(),
				NodeID:   c.Key.NodeID(),
				Pattern:  c.Pattern,
				Source:   c.Source,
				FoundAt:  c.FoundAt,
				Attempts: c.Attempts,
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}

	log.Info("done: ", len(r.Keys), " key(s) in ", r.Duration.Round(time.Millisecond),
		", ", r.Attempts, " attempts, ", fmt.Sprintf("%.0f keys/s", r.Rate()))
	for i, c := range r.Keys {
		fmt.Printf("key %d (%s):\n", i+1, c.Source)
		fmt.Printf("  public:  %s\n", c.Key.PublicHex())
		fmt.Printf("  private: %s\n", c.Key.PrivateHex())
	}
}
