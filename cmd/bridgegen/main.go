// Command bridgegen builds bridge packages from the two embed snippets and
// replays a registration against a page to check delivery end to end.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/ignite/formbridge/internal/codegen"
	"github.com/ignite/formbridge/internal/config"
	"github.com/ignite/formbridge/internal/domain"
	"github.com/ignite/formbridge/internal/extract"
	"github.com/ignite/formbridge/internal/locator"
	"github.com/ignite/formbridge/internal/pkg/logger"
	"github.com/ignite/formbridge/internal/storage"
)

const usage = `Usage: bridgegen <command> [flags]

Commands:
  extract   print the configuration scraped from the snippets
  generate  render the bridge package into a directory or artifact storage
  simulate  load a rendered page, register a lead and report the delivery
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "extract":
		err = runExtract(os.Args[2:], os.Stdout)
	case "generate":
		err = runGenerate(ctx, os.Args[2:], os.Stdout)
	case "simulate":
		err = runSimulate(ctx, os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}

// snippetFlags are shared by every command that reads the two snippets.
type snippetFlags struct {
	widget     string
	crm        string
	configPath string
	button     string
	timeoutMS  int
	debug      bool
}

func (s *snippetFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&s.widget, "widget", "", "file holding the webinar widget embed snippet")
	fs.StringVar(&s.crm, "crm", "", "file holding the CRM form embed snippet")
	fs.StringVar(&s.configPath, "config", "", "JSON bridge configuration (a stored manifest.json) used instead of the snippets")
	fs.StringVar(&s.button, "button", "", "CSS selector for the register button")
	fs.IntVar(&s.timeoutMS, "timeout-ms", 0, "primary sink timeout in milliseconds")
	fs.BoolVar(&s.debug, "debug", false, "enable debug logging")
}

// load returns the bridge configuration plus the raw snippets it came from.
// The snippets are empty when the configuration was read from -config.
func (s *snippetFlags) load() (cfg domain.BridgeConfig, widget, crm string, err error) {
	if s.debug {
		logger.SetDebug(true)
	}
	if s.configPath != "" {
		data, err := os.ReadFile(s.configPath)
		if err != nil {
			return cfg, "", "", err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, "", "", fmt.Errorf("decoding %s: %w", s.configPath, err)
		}
		cfg.ApplyDefaults()
	} else {
		if s.widget == "" || s.crm == "" {
			return cfg, "", "", errors.New("-widget and -crm are required unless -config is given")
		}
		w, err := os.ReadFile(s.widget)
		if err != nil {
			return cfg, "", "", err
		}
		c, err := os.ReadFile(s.crm)
		if err != nil {
			return cfg, "", "", err
		}
		widget, crm = string(w), string(c)
		if cfg, err = extract.FromSnippets(widget, crm); err != nil {
			return cfg, "", "", err
		}
	}
	if s.button != "" {
		cfg.ButtonSelector = s.button
	}
	if s.timeoutMS > 0 {
		cfg.PrimaryTimeout = s.timeoutMS
	}
	return cfg, widget, crm, nil
}

func runExtract(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	var sf snippetFlags
	sf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, _, _, err := sf.load()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return extract.Validate(cfg)
}

func runGenerate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	var sf snippetFlags
	sf.register(fs)
	outDir := fs.String("out", "bridge-out", "directory to write the package into")
	store := fs.Bool("store", false, "save to the artifact storage from config/config.yaml instead of -out")
	cfgPath := fs.String("app-config", "config/config.yaml", "service configuration used with -store")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if sf.configPath != "" {
		return errors.New("generate needs -widget and -crm; -config only carries the scraped values")
	}
	cfg, widget, crm, err := sf.load()
	if err != nil {
		return err
	}

	opts := codegen.Options{}
	var appCfg *config.Config
	if *store {
		if appCfg, err = config.LoadFromEnv(*cfgPath); err != nil {
			return fmt.Errorf("loading %s: %w", *cfgPath, err)
		}
		opts = codegen.Options{
			DebugKey:         appCfg.Bridge.DebugKey,
			EndpointPatterns: appCfg.Bridge.EndpointPatterns,
			Poll:             locator.Policy{Attempts: appCfg.Bridge.PollAttempts, Interval: appCfg.Bridge.PollInterval()},
			SinkID:           appCfg.Bridge.SinkID,
		}
	}
	gen, err := codegen.New(opts)
	if err != nil {
		return err
	}
	pkg, err := gen.Generate(widget, crm, cfg)
	if err != nil {
		return err
	}

	if *store {
		st, err := storage.New(appCfg.Storage)
		if err != nil {
			return err
		}
		art, err := st.Save(ctx, cfg.FormID, pkg.Files(), pkg.Config)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "stored %s/%s (%d files)\n", art.FormID, art.Version, len(art.Files))
		return nil
	}
	return writePackage(*outDir, pkg, out)
}

func writePackage(dir string, pkg *codegen.Package, out io.Writer) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	files := pkg.Files()
	manifest, err := json.MarshalIndent(pkg.Config, "", "  ")
	if err != nil {
		return err
	}
	files["manifest.json"] = string(manifest)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(files[name]), 0644); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\n", path)
	}
	return nil
}
