package cmd

import (
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"time"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/resourcecache"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newCacheCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the image cache",
	}

	cmd.AddCommand(newCacheFetchCmd(app), newCachePruneCmd(app))

	return cmd
}

func newCacheFetchCmd(app *app) *cobra.Command {
	var (
		size    string
		output  string
		noStore bool
	)

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch an image through the cache and write it as PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			box, err := domain.ParseImageSize(size)
			if err != nil {
				return err
			}

			cache := app.newCache()
			var (
				img      image.Image
				fetchErr error
			)
			err = app.await(cmd.Context(), func(done func()) {
				cache.Fetch(args[0], resourcecache.Request{Size: box, Persist: !noStore}, func(fetched image.Image, err error) {
					defer done()
					img, fetchErr = fetched, err
				})
			})
			if err != nil {
				return err
			}
			if fetchErr != nil {
				return fetchErr
			}

			if err := writePNG(app.fs, output, img); err != nil {
				return err
			}
			bounds := img.Bounds()
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %dx%d image to %s\n", bounds.Dx(), bounds.Dy(), output)
			return err
		},
	}

	cmd.Flags().StringVar(&size, "size", "original", "Bounding box: original, profile, profile-small, preview or WxH")
	cmd.Flags().StringVarP(&output, "output", "o", "", "PNG file to write")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Do not keep the download in the disk cache")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func newCachePruneCmd(app *app) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove cached images older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cutoff := olderThan
			if cutoff <= 0 {
				cutoff = app.cfg.Cache.FreshFor
			}

			removed, err := app.newCache().Prune(cutoff)
			if err != nil {
				return fmt.Errorf("prune cache: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached images older than %s\n", removed, cutoff)
			return err
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age cutoff (defaults to cache.fresh_for)")

	return cmd
}

func writePNG(fs afero.Fs, path string, img image.Image) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	file, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(file, img); err != nil {
		_ = file.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	return file.Close()
}
