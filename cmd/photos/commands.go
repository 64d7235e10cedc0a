package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"proposal/internal/config"
	"proposal/internal/storage"
)

type storeFactory func(ctx context.Context, cfg config.Config) (storage.Service, error)

func defaultStore(ctx context.Context, cfg config.Config) (storage.Service, error) {
	return storage.NewS3ServiceFromConfig(ctx, cfg)
}

type rootOptions struct {
	configDir string
	bucket    string
	prefix    string
}

func newRootCmd(logger *logrus.Logger) *cobra.Command {
	return newRootCmdWithStore(logger, defaultStore)
}

func newRootCmdWithStore(logger *logrus.Logger, newStore storeFactory) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "photos",
		Short:        "Manage the photos shown on the proposal page",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", ".", "directory holding .env and config files")
	cmd.PersistentFlags().StringVar(&opts.bucket, "bucket", "", "override the configured storage bucket")
	cmd.PersistentFlags().StringVar(&opts.prefix, "prefix", "", "override the configured key prefix")

	// setup resolves configuration and the store for a subcommand.
	setup := func(ctx context.Context) (config.Config, storage.Service, error) {
		cfg, err := config.Load(opts.configDir)
		if err != nil {
			return config.Config{}, nil, fmt.Errorf("load config: %w", err)
		}
		if opts.bucket != "" {
			cfg.Storage.Bucket = opts.bucket
		}
		if opts.prefix != "" {
			cfg.Storage.KeyPrefix = opts.prefix
		}
		cfg.Storage.KeyPrefix = strings.Trim(cfg.Storage.KeyPrefix, "/")
		if cfg.Storage.Bucket == "" {
			return config.Config{}, nil, fmt.Errorf("storage bucket is required (set PROPOSAL_STORAGE_BUCKET or --bucket)")
		}

		store, err := newStore(ctx, cfg)
		if err != nil {
			return config.Config{}, nil, fmt.Errorf("setup storage: %w", err)
		}
		return cfg, store, nil
	}

	cmd.AddCommand(
		newUploadCmd(logger, setup),
		newListCmd(setup),
		newClearCmd(logger, setup),
	)
	return cmd
}

type setupFunc func(ctx context.Context) (config.Config, storage.Service, error)

func newUploadCmd(logger *logrus.Logger, setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <dir>",
		Short: "Upload every photo under dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := setup(cmd.Context())
			if err != nil {
				return err
			}

			location, err := store.UploadDirectory(cmd.Context(), args[0], storage.UploadOptions{
				Bucket:    cfg.Storage.Bucket,
				KeyPrefix: cfg.Storage.KeyPrefix,
				ProgressCallback: func(done, total int64) {
					logger.WithFields(logrus.Fields{
						"done":  done,
						"total": total,
					}).Info("upload progress")
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s to %s\n", args[0], location)
			return nil
		},
	}
}

func newListCmd(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored photos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, store, err := setup(cmd.Context())
			if err != nil {
				return err
			}

			objects, err := store.ListObjects(cmd.Context(), cfg.Storage.Bucket, listPrefix(cfg.Storage.KeyPrefix))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, obj := range objects {
				fmt.Fprintf(out, "%s\t%d\n", obj.Key, obj.Size)
			}
			fmt.Fprintf(out, "%d object(s)\n", len(objects))
			return nil
		},
	}
}

func newClearCmd(logger *logrus.Logger, setup setupFunc) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored photo under the key prefix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete without --yes")
			}
			cfg, store, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			prefix := listPrefix(cfg.Storage.KeyPrefix)
			if prefix == "" {
				return fmt.Errorf("refusing to clear the whole bucket; configure a key prefix")
			}

			if err := store.DeletePrefix(cmd.Context(), cfg.Storage.Bucket, prefix); err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"bucket": cfg.Storage.Bucket,
				"prefix": prefix,
			}).Info("photos cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func listPrefix(keyPrefix string) string {
	if keyPrefix == "" {
		return ""
	}
	return keyPrefix + "/"
}
