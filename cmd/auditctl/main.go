package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"blockledger/internal/audit"
	"blockledger/internal/config"
	"blockledger/internal/modify"
	"blockledger/internal/persistence/auditdb"
	loglib "blockledger/internal/persistence/log"
	"blockledger/internal/query"
	"blockledger/internal/recording"
	"blockledger/internal/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "lookup":
			lookupCmd(os.Args[2:])
			return
		case "rollback":
			modifyCmd("rollback", modify.Rollback, os.Args[2:])
			return
		case "restore":
			modifyCmd("restore", modify.Restore, os.Args[2:])
			return
		case "ingest":
			ingestCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: auditctl {lookup|rollback|restore|ingest|db} [flags]")
	os.Exit(2)
}

func openStore(configPath string) (config.Config, *audit.Registry, *auditdb.Store) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	registry := audit.NewDefaultRegistry()
	store, err := auditdb.Open(cfg.DBPath, registry, cfg.Ordering)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open db:", err)
		os.Exit(1)
	}
	return cfg, registry, store
}

func loadFilter(path string, lookup bool) *query.Filter {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "read filter:", err)
		os.Exit(1)
	}
	f, err := query.ParseJSON(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, "filter:", err)
		os.Exit(1)
	}
	f.Lookup = lookup
	if f.Grouped && !lookup {
		fmt.Fprintln(os.Stderr, "filter: grouped rows cannot feed a rollback or restore")
		os.Exit(1)
	}
	return f
}

func lookupCmd(args []string) {
	fs := flag.NewFlagSet("lookup", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (optional)")
	filterPath := fs.String("filter", "", "JSON filter file, or - for stdin")
	_ = fs.Parse(args)

	if *filterPath == "" {
		fmt.Fprintln(os.Stderr, "missing -filter")
		os.Exit(2)
	}

	_, _, store := openStore(*configPath)
	defer store.Close()

	f := loadFilter(*filterPath, true)
	page, err := store.Query(context.Background(), f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lookup:", err)
		os.Exit(1)
	}

	if f.Grouped {
		for _, g := range page.Grouped {
			fmt.Printf("%s %s x%d at avg (%.1f,%.1f,%.1f) by %s\n",
				g.Action.Type().Key(), g.Action.Descriptor(), g.Count,
				g.AvgX, g.AvgY, g.AvgZ, g.CauseText())
		}
	} else {
		for _, a := range page.Activities {
			fmt.Printf("#%d %s %s %s at (%d,%d,%d) by %s\n",
				a.ID, time.Unix(a.Timestamp, 0).UTC().Format(time.RFC3339),
				a.Action.Type().Key(), a.Action.Descriptor(),
				a.Pos.X, a.Pos.Y, a.Pos.Z, a.CauseText())
		}
	}
	fmt.Printf("%d of %d matching\n", len(page.Activities)+len(page.Grouped), page.TotalRows)
}

// consoleInitiator renders preview cell states as stdout lines.
type consoleInitiator struct{}

func (consoleInitiator) ShowBlock(pos world.Vec3i, b world.Block) {
	mat := b.Material
	if b.IsAir() {
		mat = world.AirMaterial
	}
	fmt.Printf("would set (%d,%d,%d) -> %s\n", pos.X, pos.Y, pos.Z, mat)
}

func modifyCmd(name string, dir modify.Direction, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "config file (optional)")
	filterPath := fs.String("filter", "", "JSON filter file, or - for stdin")
	worldPath := fs.String("world", "", "JSONL world state to mutate (optional; defaults to empty)")
	preview := fs.Bool("preview", false, "plan only, mutate nothing")
	out := fs.String("out", "", "write the mutated world state back as JSONL (optional)")
	_ = fs.Parse(args)

	if *filterPath == "" {
		fmt.Fprintln(os.Stderr, "missing -filter")
		os.Exit(2)
	}

	cfg, _, store := openStore(*configPath)
	defer store.Close()

	f := loadFilter(*filterPath, false)
	page, err := store.Query(context.Background(), f)
	if err != nil {
		fmt.Fprintln(os.Stderr, name+":", err)
		os.Exit(1)
	}
	if len(page.Activities) == 0 {
		fmt.Println("nothing to " + name)
		return
	}

	access := world.NewStore(cfg.World.Height, cfg.World.BoundaryR)
	if *worldPath != "" {
		if err := loadWorld(access, *worldPath); err != nil {
			fmt.Fprintln(os.Stderr, "load world:", err)
			os.Exit(1)
		}
	}
	sched := modify.NewIntervalScheduler(time.Duration(cfg.Engine.IntervalMs) * time.Millisecond)

	done := make(chan modify.QueueResult, 1)
	q, err := modify.NewQueue(consoleInitiator{}, page.Activities, dir, access, sched,
		cfg.Engine.MaxPerSlice, func(r modify.QueueResult) { done <- r })
	if err != nil {
		fmt.Fprintln(os.Stderr, name+":", err)
		os.Exit(1)
	}

	if *preview {
		err = q.Preview()
	} else {
		err = q.Apply()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, name+":", err)
		os.Exit(1)
	}

	r := <-done
	fmt.Printf("%s %s: applied=%d planned=%d skipped=%d\n",
		name, r.State, r.Applied, r.Planned, r.Skipped)

	if *out != "" && !*preview {
		if err := saveWorld(access, *out); err != nil {
			fmt.Fprintln(os.Stderr, "write world:", err)
			os.Exit(1)
		}
	}
}

// blockLine is one cell in a JSONL world-state file.
type blockLine struct {
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Z        int    `json:"z"`
	Material string `json:"material"`
	Data     string `json:"data,omitempty"`
}

func loadWorld(s *world.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var bl blockLine
		if err := json.Unmarshal(sc.Bytes(), &bl); err != nil {
			return err
		}
		s.SetBlockAt(world.Vec3i{X: bl.X, Y: bl.Y, Z: bl.Z},
			world.Block{Material: bl.Material, Data: bl.Data})
	}
	return sc.Err()
}

func saveWorld(s *world.Store, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, key := range s.LoadedChunkKeys() {
		for _, e := range s.ChunkBlocks(key) {
			raw, err := json.Marshal(blockLine{
				X: e.Pos.X, Y: e.Pos.Y, Z: e.Pos.Z,
				Material: e.Block.Material, Data: e.Block.Data,
			})
			if err != nil {
				return err
			}
			if _, err := w.Write(append(raw, '\n')); err != nil {
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// captureLine is one hand-written or exported activity to ingest.
type captureLine struct {
	Action          string `json:"action"`
	WorldUUID       string `json:"world_uuid"`
	World           string `json:"world"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
	Z               int    `json:"z"`
	Timestamp       int64  `json:"timestamp"`
	PlayerUUID      string `json:"player_uuid,omitempty"`
	Player          string `json:"player,omitempty"`
	Cause           string `json:"cause,omitempty"`
	Material        string `json:"material,omitempty"`
	MaterialData    string `json:"material_data,omitempty"`
	OldMaterial     string `json:"old_material,omitempty"`
	OldMaterialData string `json:"old_material_data,omitempty"`
	EntityType      string `json:"entity_type,omitempty"`
	Quantity        int    `json:"quantity,omitempty"`
	Descriptor      string `json:"descriptor,omitempty"`
}

func ingestCmd(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (optional)")
	inputPath := fs.String("input", "", "JSONL activity file, or - for stdin")
	_ = fs.Parse(args)

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "missing -input")
		os.Exit(2)
	}

	cfg, registry, store := openStore(*configPath)
	defer store.Close()

	in := os.Stdin
	if *inputPath != "-" {
		f, err := os.Open(*inputPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open input:", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	queue := recording.NewQueue()
	var enqueued, bad int

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		a, err := parseCapture(registry, line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "skipping line:", err)
			bad++
			continue
		}
		queue.Enqueue(a)
		enqueued++
	}
	if err := sc.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "read input:", err)
		os.Exit(1)
	}

	discard := loglib.NewDiscardLogger(cfg.DataDir)
	defer discard.Close()

	rec := recording.NewRecorder(queue, store, discard, recording.RecorderConfig{
		Interval:    time.Duration(cfg.Recorder.IntervalMs) * time.Millisecond,
		MaxPerCycle: cfg.Recorder.MaxPerCycle,
		MaxRetries:  cfg.Recorder.MaxRetries,
	})
	rec.Flush()

	fmt.Printf("ingested %d activities (%d rejected)\n", enqueued, bad)
}

func parseCapture(registry *audit.Registry, line []byte) (*audit.Activity, error) {
	var c captureLine
	if err := json.Unmarshal(line, &c); err != nil {
		return nil, err
	}

	t, ok := registry.ActionType(c.Action)
	if !ok {
		return nil, fmt.Errorf("unknown action kind %q", c.Action)
	}

	var action audit.Action
	var err error
	switch t.Target() {
	case audit.TargetBlock:
		action, err = audit.NewBlockAction(t,
			world.Block{Material: c.Material, Data: c.MaterialData},
			world.Block{Material: c.OldMaterial, Data: c.OldMaterialData},
			c.Descriptor)
	case audit.TargetEntity:
		action, err = audit.NewEntityAction(t, c.EntityType, nil, c.Descriptor)
	default:
		action, err = audit.NewItemAction(t, c.Material, c.Quantity, c.Descriptor)
	}
	if err != nil {
		return nil, err
	}

	wid, err := uuid.Parse(c.WorldUUID)
	if err != nil {
		return nil, fmt.Errorf("world uuid: %w", err)
	}

	var player *audit.PlayerRef
	if c.PlayerUUID != "" {
		pid, err := uuid.Parse(c.PlayerUUID)
		if err != nil {
			return nil, fmt.Errorf("player uuid: %w", err)
		}
		player = &audit.PlayerRef{UUID: pid, Name: c.Player}
	}

	ts := c.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	return audit.NewActivity(action,
		audit.WorldRef{UUID: wid, Name: c.World},
		world.Vec3i{X: c.X, Y: c.Y, Z: c.Z}, ts, player, c.Cause)
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (optional)")
	_ = fs.Parse(args)

	_, _, store := openStore(*configPath)
	defer store.Close()

	store.DescribeDatabase()
	if v, err := store.SchemaVersion(); err == nil {
		fmt.Println("schema", v)
	}
}
