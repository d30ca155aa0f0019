package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/fragvault/fragvault/config"
	"github.com/fragvault/fragvault/internal/compressor"
	"github.com/fragvault/fragvault/internal/coordinator"
	"github.com/fragvault/fragvault/internal/keymanager"
	"github.com/fragvault/fragvault/internal/manifest"
	"github.com/fragvault/fragvault/internal/nodestore"
	"github.com/fragvault/fragvault/pkg/env"
	"github.com/fragvault/fragvault/pkg/logging"
)

// Exit codes operators can script against: 2 for configuration or key
// material problems, 3 for integrity verdicts, 1 for everything else.
const (
	exitFailure   = 1
	exitConfig    = 2
	exitIntegrity = 3
)

func main() {
	env.LoadEnv()

	app := &cli.App{
		Name:  "fragvault",
		Usage: "Fragmented, encrypted object storage with verifiable recovery",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "directory holding config.yaml",
				Value:   env.GetEnv("FRAGVAULT_CONFIG", "./config"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "verbose human-readable logs",
			},
		},
		Before: func(c *cli.Context) error {
			logging.InitLogger(c.Bool("debug"))
			return nil
		},
		Commands: []*cli.Command{
			keygenCommand(),
			storeCommand(),
			verifyCommand(),
			recoverCommand(),
			listCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logging.Log.Error(err)
		os.Exit(exitFailure)
	}
}

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generate the keypair that protects stored objects",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "overwrite existing key files",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fail(err)
			}
			if keymanager.Exists(cfg.Keys.PrivateKey, cfg.Keys.PublicKey) && !c.Bool("force") {
				return cli.Exit(fmt.Sprintf("key files already exist at %s; pass --force to overwrite", cfg.Keys.PrivateKey), exitConfig)
			}
			pair, err := keymanager.Generate()
			if err != nil {
				return fail(err)
			}
			if err := pair.Save(cfg.Keys.PrivateKey, cfg.Keys.PublicKey); err != nil {
				return fail(err)
			}
			logging.Log.Info("🔑 Keypair generated")
			fmt.Println(pair.Fingerprint())
			return nil
		},
	}
}

func storeCommand() *cli.Command {
	return &cli.Command{
		Name:      "store",
		Aliases:   []string{"s"},
		Usage:     "Fragment, encrypt, and place a file across the configured nodes",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "id",
				Usage: "object ID to store under (default: a fresh UUID)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("store needs exactly one file argument", exitFailure)
			}
			co, cleanup, err := openCoordinator(c)
			if err != nil {
				return fail(err)
			}
			defer cleanup()

			m, err := co.StoreFile(c.Args().First(), c.String("id"))
			if err != nil {
				return fail(err)
			}
			fmt.Println(m.ObjectID)
			return nil
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Aliases:   []string{"v"},
		Usage:     "Check every fragment of an object without recovering it",
		ArgsUsage: "<object-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("verify needs exactly one object ID", exitFailure)
			}
			co, cleanup, err := openCoordinator(c)
			if err != nil {
				return fail(err)
			}
			defer cleanup()

			report, err := co.Verify(c.Args().First())
			if err != nil {
				return fail(err)
			}
			fmt.Println(report.Summary())
			if !report.OK() {
				return cli.Exit("", exitIntegrity)
			}
			return nil
		},
	}
}

func recoverCommand() *cli.Command {
	return &cli.Command{
		Name:      "recover",
		Aliases:   []string{"r"},
		Usage:     "Reassemble an object and write the plaintext to a file",
		ArgsUsage: "<object-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "out",
				Aliases:  []string{"o"},
				Usage:    "output file path",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("recover needs exactly one object ID", exitFailure)
			}
			co, cleanup, err := openCoordinator(c)
			if err != nil {
				return fail(err)
			}
			defer cleanup()

			data, err := co.Recover(c.Args().First())
			if err != nil {
				return fail(err)
			}
			out := c.String("out")
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fail(fmt.Errorf("failed to write %s: %w", out, err))
			}
			fmt.Printf("recovered %d bytes to %s\n", len(data), out)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List stored objects, newest first",
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fail(err)
			}
			manifests, err := manifest.Open(cfg.ManifestDB)
			if err != nil {
				return fail(err)
			}
			defer manifests.Close()

			items, err := manifests.List()
			if err != nil {
				return fail(err)
			}
			if len(items) == 0 {
				fmt.Println("no objects stored")
				return nil
			}
			for _, m := range items {
				name := m.SourceName
				if name == "" {
					name = "-"
				}
				fmt.Printf("%s  %10d bytes  %3d fragments  %s  %s\n",
					m.ObjectID, m.OriginalSize, m.FragmentCount,
					time.Unix(m.CreatedAt, 0).Format(time.RFC3339), name)
			}
			return nil
		},
	}
}

// openCoordinator assembles the pipeline from the configuration: keypair,
// manifest store, local fragment store. The cleanup closes the manifest
// database.
func openCoordinator(c *cli.Context) (*coordinator.Coordinator, func(), error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	keys, err := keymanager.Load(cfg.Keys.PrivateKey, cfg.Keys.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	manifests, err := manifest.Open(cfg.ManifestDB)
	if err != nil {
		return nil, nil, err
	}
	co, err := coordinator.New(coordinator.Config{
		FragmentSize:     cfg.FragmentSize,
		NodePaths:        cfg.NodePaths,
		Compression:      compressor.Algorithm(cfg.Compression),
		ParallelismRatio: cfg.ParallelismRatio,
		Retry:            retryPolicy(cfg.Retry),
	}, keys, manifests, nodestore.NewLocal())
	if err != nil {
		manifests.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if err := manifests.Close(); err != nil {
			logging.Log.Warnf("⚠️ Failed to close manifest store: %v", err)
		}
	}
	return co, cleanup, nil
}

func retryPolicy(rc config.RetryConfig) coordinator.RetryPolicy {
	return coordinator.RetryPolicy{
		Attempts:  rc.Attempts,
		BaseDelay: time.Duration(rc.BaseDelayMs) * time.Millisecond,
		MaxDelay:  time.Duration(rc.MaxDelayMs) * time.Millisecond,
	}
}

// fail logs err and converts it to the matching exit code.
func fail(err error) error {
	if err == nil {
		return nil
	}
	logging.Log.Error(err)
	return cli.Exit("", exitCode(err))
}

func exitCode(err error) int {
	var verr *config.ValidationError
	var rerr *coordinator.RecoveryError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, keymanager.ErrKeyNotFound),
		errors.Is(err, keymanager.ErrKeyFormat),
		errors.Is(err, keymanager.ErrKeyGeneration):
		return exitConfig
	case errors.As(err, &rerr),
		errors.Is(err, coordinator.ErrManifestSignature):
		return exitIntegrity
	default:
		return exitFailure
	}
}
