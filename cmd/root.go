// Package cmd defines the CLI commands of the chapterharvest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterharvest/internal/app"
	"github.com/JakeFAU/chapterharvest/internal/config"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to inject scripted
// sessions.
var newApp = func(cfg config.Config, settingsPath string) (*app.App, error) {
	return app.Build(cfg, app.Options{SettingsPath: settingsPath})
}

// newRootCmd creates and configures the root command. The returned func
// closes the application services built for the invoked subcommand and must
// be called once execution returns, whether or not it failed.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile string
		built   *app.App
	)
	cmd := &cobra.Command{
		Use:   "chapterharvest",
		Short: "Harvests serialized chapters from a listing site into text files.",
		Long: `chapterharvest walks a book's paginated chapter listing, then fetches every
chapter with a small pool of browser sessions and writes each one as a
plain-text file. Failures are kept in a journal so they can be retried later.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path := resolveConfigPath(cfgFile)
			v, err := config.NewViper(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := bindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.LoadViper(v)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cfg, path)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			built = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		fmt.Sprintf("config file (default is ./%s when present)", config.DefaultSettingsFile))

	cmd.AddCommand(newHarvestCmd(), newRetryCmd(), newServeCmd())

	closeApp := func() {
		if built == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := built.Close(ctx); err != nil {
			built.Logger().Warn("application shutdown failed", zap.Error(err))
		}
		built = nil
	}
	return cmd, closeApp
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"url":           "harvest.book_link",
	"dir":           "harvest.local_directory",
	"start-page":    "harvest.start_page",
	"workers":       "harvest.workers",
	"include-title": "harvest.include_title",
	"headless":      "browser.headless",
}

// bindFlags lets set flags override file and environment values.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

// resolveConfigPath falls back to the saved settings file when it exists.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if _, err := os.Stat(config.DefaultSettingsFile); err == nil {
		return config.DefaultSettingsFile
	} else if !errors.Is(err, fs.ErrNotExist) {
		zap.L().Warn("cannot stat settings file", zap.Error(err))
	}
	return ""
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	root, closeApp := newRootCmd()
	err := root.Execute()
	closeApp()
	if err != nil {
		os.Exit(1)
	}
}
