package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/suPer8Hu/ola-suite/internal/auth"
	"github.com/suPer8Hu/ola-suite/internal/chat"
	"github.com/suPer8Hu/ola-suite/internal/chatclient"
	"github.com/suPer8Hu/ola-suite/internal/config"
	"github.com/suPer8Hu/ola-suite/internal/db"
	"github.com/suPer8Hu/ola-suite/internal/logging"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type cliOptions struct {
	configFile string
	baseURL    string
	model      string
	store      string
	transcript bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{
		configFile: os.Getenv("OLA_CONFIG_FILE"),
	}

	rootCmd := &cobra.Command{
		Use:           "olachat",
		Short:         "OLA Suite chat client",
		Long:          "Chat with the OLA Suite assistant, manage the persisted session and request reports.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", opts.configFile, "YAML config file overlaid on the environment")
	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "Backend base URL (overrides OLA_API_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&opts.model, "model", "", "Model name sent with each message")
	rootCmd.PersistentFlags().StringVar(&opts.store, "store", "", "Session store: memory|file|redis|sql")
	rootCmd.PersistentFlags().BoolVar(&opts.transcript, "transcript", false, "Keep a local transcript in the database")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(newChatCmd(opts))
	rootCmd.AddCommand(newSendCmd(opts))
	rootCmd.AddCommand(newSessionCmd(opts))
	rootCmd.AddCommand(newHistoryCmd(opts))
	rootCmd.AddCommand(newReportCmd(opts))

	return rootCmd
}

// app holds everything a command needs, built from config plus flags.
type app struct {
	cfg    config.Config
	log    *slog.Logger
	signer auth.Signer
	client *chatclient.Client

	dbOnce sync.Once
	gdb    *gorm.DB
	dbErr  error

	closers []func() error
}

func resolveConfig(opts *cliOptions) (config.Config, error) {
	cfg, err := config.LoadFile(opts.configFile)
	if err != nil {
		return cfg, err
	}
	if v := strings.TrimSpace(opts.baseURL); v != "" {
		cfg.APIBaseURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(opts.model); v != "" {
		cfg.DefaultModel = v
	}
	if v := strings.TrimSpace(opts.store); v != "" {
		cfg.SessionStore = strings.ToLower(v)
	}
	if opts.verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func newApp(ctx context.Context, opts *cliOptions, logOut io.Writer) (*app, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg: cfg,
		log: logging.New(logOut, cfg.LogLevel, cfg.LogFormat),
	}

	a.signer, err = auth.NewHeaderSigner(cfg.AuthSecret, cfg.AuthSubject, cfg.AuthTTL, cfg.EncKey, cfg.EncPayload)
	if err != nil {
		return nil, err
	}

	st, closeStore, err := openStore(ctx, cfg, a.database)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}

	a.client, err = chatclient.New(ctx, chatclient.Options{
		BaseURL:      cfg.APIBaseURL,
		Timeout:      cfg.RequestTimeout,
		Store:        st,
		SessionKey:   cfg.SessionKey,
		Signer:       a.signer,
		DefaultModel: cfg.DefaultModel,
		Logger:       a.log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// database opens cfg.DBDSN on first use.
func (a *app) database() (*gorm.DB, error) {
	a.dbOnce.Do(func() {
		a.gdb, a.dbErr = db.Open(a.cfg.DBDSN)
		if a.dbErr != nil {
			return
		}
		if sqlDB, err := a.gdb.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
	})
	return a.gdb, a.dbErr
}

// chatService wires the client to an optional transcript repo.
func (a *app) chatService(withTranscript bool) (*chat.Service, error) {
	var repo *chat.Repo
	if withTranscript {
		gdb, err := a.database()
		if err != nil {
			return nil, err
		}
		repo = chat.NewRepo(gdb)
		if err := repo.Migrate(); err != nil {
			return nil, err
		}
	}
	return chat.NewService(a.client, repo, a.log), nil
}

func (a *app) Close() {
	if a.client != nil {
		a.client.Abort()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.log.Debug("close resources", "err", err)
	}
}

// withApp builds the app for one command run and tears it down afterwards.
func withApp(cmd *cobra.Command, opts *cliOptions, fn func(a *app) error) error {
	a, err := newApp(cmd.Context(), opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
