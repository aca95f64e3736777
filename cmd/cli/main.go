package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"prosumer-p2p/internal/analysis"
	"prosumer-p2p/internal/config"
	"prosumer-p2p/internal/data"
	"prosumer-p2p/internal/logging"
	"prosumer-p2p/internal/node"
	"prosumer-p2p/internal/peer"
	"prosumer-p2p/internal/pricing"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "simulate":
		cmdSimulate(os.Args[2:])
	case "prepare":
		cmdPrepare(os.Args[2:])
	case "price":
		cmdPrice(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Println("usage:")
	fmt.Println("  cli simulate --a examples/node-a.yaml --b examples/node-b.yaml [--speed 0] [--out results]")
	fmt.Println("  cli prepare --data london.csv --household MAC000002 --start 2013-01-01 --timescale w --out series.json")
	fmt.Println("  cli price --local 1.2 --peer -0.4 [--strategy linear_sdr] [--buy 0.20 --sell 0.10]")
	fmt.Println("")
	fmt.Println("notes:")
	fmt.Println("  - simulate runs both nodes in one process over an in-memory transport")
	fmt.Println("  - ledgers are written as CSV with counterparty=peer/grid/none per tick")
}

func cmdSimulate(args []string) {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	pathA := fs.String("a", "", "Path to node A YAML config")
	pathB := fs.String("b", "", "Path to node B YAML config")
	speed := fs.Float64("speed", 0, "Override simulation.speed for both nodes (0=keep)")
	ticks := fs.Int("n", 0, "Optional: limit to first N ticks (0=all)")
	outDir := fs.String("out", "results", "Directory for the ledger CSVs")
	logLevel := fs.String("log-level", "warn", "Log level")
	_ = fs.Parse(args)

	if *pathA == "" || *pathB == "" {
		fmt.Println("--a and --b are required")
		os.Exit(2)
	}
	logger, err := logging.New(*logLevel, "text", os.Stderr)
	if err != nil {
		panic(err)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		panic(err)
	}

	nodes := make([]*node.Node, 2)
	for i, p := range []string{*pathA, *pathB} {
		cfg, err := config.Load(p)
		if err != nil {
			panic(fmt.Errorf("%s: %w", p, err))
		}
		if *speed > 0 {
			cfg.Simulation.Speed = *speed
		}
		if *ticks > 0 {
			cfg.Simulation.Ticks = *ticks
		}
		// In-process runs do not need to wait for a remote peer to come up.
		cfg.Peer.StartOffset = 200 * time.Millisecond
		if cfg.Ledger.CSVOut == "" {
			cfg.Ledger.CSVOut = filepath.Join(*outDir, cfg.Node.ID+".csv")
		}
		if nodes[i], err = node.New(cfg, node.Options{Logger: logger}); err != nil {
			panic(err)
		}
	}
	a, b := nodes[0], nodes[1]
	if a.Config.Peer.ID != b.Config.Node.ID || b.Config.Peer.ID != a.Config.Node.ID {
		fmt.Println("node configs must name each other as peer")
		os.Exit(2)
	}
	if a.Config.Node.Coordinator == b.Config.Node.Coordinator {
		fmt.Println("exactly one node must be the coordinator")
		os.Exit(2)
	}
	if err := a.Connect(peer.NewLocalTransport(b.Service)); err != nil {
		panic(err)
	}
	if err := b.Connect(peer.NewLocalTransport(a.Service)); err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var wg sync.WaitGroup
	errs := make([]error, len(nodes))
	for i, n := range nodes {
		wg.Add(1)
		go func(i int, n *node.Node) {
			defer wg.Done()
			errs[i] = n.Run(ctx)
		}(i, n)
	}
	wg.Wait()

	summaries := make([]analysis.Summary, 0, len(nodes))
	for i, n := range nodes {
		if errs[i] != nil {
			fmt.Printf("%s: %v\n", n.Config.Node.ID, errs[i])
		}
		if err := n.Close(); err != nil {
			fmt.Printf("%s: %v\n", n.Config.Node.ID, err)
		}
		summaries = append(summaries, analysis.Summarize(n.Config.Node.ID, n.Store.Entries()))
		fmt.Printf("Wrote %d rows to %s\n", n.Store.Len(), n.Config.Ledger.CSVOut)
	}

	fmt.Printf("%-4s %-12s %-6s %-10s %-10s %-10s %-8s %-8s %-10s\n",
		"rank", "node", "ticks", "peer kWh", "grid kWh", "self-suff", "soc", "p05/p95", "currency")
	for i, s := range analysis.RankByCurrencyChange(summaries) {
		fmt.Printf("%-4d %-12s %-6d %-10.3f %-10.3f %-10.1f %-8.3f %.2f/%.2f %+10.4f\n",
			i+1,
			s.NodeID,
			s.Ticks,
			s.PeerSoldKWh+s.PeerBoughtKWh,
			s.GridExportKWh+s.GridImportKWh,
			s.SelfSufficiency*100,
			s.FinalSOC,
			s.P05PeerPrice,
			s.P95PeerPrice,
			s.CurrencyChange,
		)
	}
	for _, err := range errs {
		if err != nil {
			os.Exit(1)
		}
	}
}

func cmdPrepare(args []string) {
	fs := flag.NewFlagSet("prepare", flag.ExitOnError)
	dataPath := fs.String("data", "", "Path to London smart-meter CSV")
	household := fs.String("household", "", "LCLid of the household")
	start := fs.String("start", "", "Start date (YYYY-MM-DD)")
	timescale := fs.String("timescale", data.TimescaleDay, "Window length: d, w, m or y")
	step := fs.Duration("step", config.DefaultStep, "Resample step")
	mean := fs.Float64("gen-mean", data.DefaultGenerationMean, "Mean simulated generation per step (kWh)")
	std := fs.Float64("gen-std", data.DefaultGenerationStd, "Std of simulated generation per step (kWh)")
	seed := fs.Int64("seed", data.DefaultGenerationSeed, "Generation RNG seed")
	outPath := fs.String("out", "series.json", "Output JSON path")
	_ = fs.Parse(args)

	if *dataPath == "" || *household == "" || *start == "" {
		fmt.Println("--data, --household and --start are required")
		os.Exit(2)
	}

	series, err := data.Prepare(data.PrepareOptions{
		DataFile:       *dataPath,
		Household:      *household,
		StartDate:      *start,
		Timescale:      *timescale,
		Step:           *step,
		GenerationMean: *mean,
		GenerationStd:  *std,
		Seed:           *seed,
	})
	if err != nil {
		panic(err)
	}
	if err := os.MkdirAll(filepath.Dir(*outPath), 0o755); err != nil {
		panic(err)
	}
	if err := data.SaveSeriesJSON(*outPath, series); err != nil {
		panic(err)
	}
	fmt.Printf("Wrote %d samples (%s) to %s\n", len(series.Samples), series.Step, *outPath)
}

func cmdPrice(args []string) {
	fs := flag.NewFlagSet("price", flag.ExitOnError)
	name := fs.String("strategy", pricing.StrategyLinearSDR, "Pricing strategy")
	local := fs.Float64("local", 0, "Local balance (kWh, positive = surplus)")
	peerBal := fs.Float64("peer", 0, "Peer balance (kWh)")
	noPeer := fs.Bool("no-peer", false, "Price without the peer")
	buy := fs.Float64("buy", config.DefaultBuyGridPrice, "Grid buy price")
	sell := fs.Float64("sell", config.DefaultSellGridPrice, "Grid sell price")
	pMin := fs.Float64("p-min", 0, "bounded_ratio lower bound")
	pMax := fs.Float64("p-max", 0, "bounded_ratio upper bound")
	_ = fs.Parse(args)

	s, err := pricing.New(*name, pricing.Params{PMin: *pMin, PMax: *pMax})
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	q := pricing.QuoteFor(s, *buy, *sell, *local, *peerBal, !*noPeer)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(q); err != nil {
		panic(err)
	}
}
