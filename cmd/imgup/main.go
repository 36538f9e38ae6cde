package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"imghost/internal/client"
)

func main() {
	opts, err := client.ParseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if client.IsHelp(err) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := client.New(opts.Server)

	if opts.DeleteID != "" {
		if err := c.Delete(ctx, opts.DeleteID, opts.DeleteToken); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Deleted %s\n", opts.DeleteID)
		return
	}

	files, err := client.CollectImages(opts.Paths, client.DefaultExtensions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error collecting images: %v\n", err)
		os.Exit(1)
	}

	total, err := client.TotalSize(files)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading files: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Uploading %d file(s), %d bytes, to %s\n", len(files), total, opts.Server)

	uploaded := 0
	for _, batch := range client.Batches(files, opts.BatchSize) {
		resp, err := c.Upload(ctx, batch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error uploading: %v\n", err)
			continue
		}

		for _, img := range resp.Images {
			uploaded++
			fmt.Printf("\n✓ %s (%dx%d, %d bytes)\n", img.OriginalName, img.Width, img.Height, img.Size)
			fmt.Printf("  viewer:       %s\n", img.Links.Viewer)
			fmt.Printf("  direct:       %s\n", img.Links.Direct)
			fmt.Printf("  thumbnail:    %s\n", img.Links.Thumbnail)
			fmt.Printf("  medium:       %s\n", img.Links.Medium)
			fmt.Printf("  delete token: %s\n", img.DeleteToken)
		}
		for _, fe := range resp.Errors {
			fmt.Fprintf(os.Stderr, "✗ %s: %s\n", fe.FileName, fe.Error)
		}
	}

	if uploaded == 0 {
		fmt.Fprintln(os.Stderr, "\nNo images were uploaded")
		os.Exit(1)
	}
	fmt.Printf("\n%d of %d image(s) uploaded\n", uploaded, len(files))
}
