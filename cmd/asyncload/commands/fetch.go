package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/arkite/asyncload/internal/bytesize"
	"github.com/arkite/asyncload/pkg/loader"
)

var (
	fetchTimeout time.Duration
	fetchNoCache bool
	fetchOutput  string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch KEY [KEY...]",
	Short: "Load one or more resources and wait for the results",
	Long: `Fetch queues every key on the loader, waits for the results and prints a
summary. Keys with a URL scheme go through the matching transport; anything
else is read from the local filesystem.

Examples:
  asyncload fetch https://example.com/logo.png
  asyncload fetch s3://assets/logo.png ./local/file.bin
  asyncload fetch --no-cache ftp://mirror.example.com/big.tar.gz`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 2*time.Minute, "per-key wait timeout")
	fetchCmd.Flags().BoolVar(&fetchNoCache, "no-cache", false, "bypass the result cache")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "table", "output format (table|plain)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	rt, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	var opts []loader.RequestOption
	if fetchNoCache {
		opts = append(opts, loader.WithNoCache())
	}

	type result struct {
		handle  *loader.Handle
		elapsed time.Duration
	}

	start := time.Now()
	results := make([]result, 0, len(args))
	for _, key := range args {
		results = append(results, result{handle: rt.engine.Load(key, opts...)})
	}

	deadline := time.After(fetchTimeout)
	failed := 0
	for i := range results {
		select {
		case <-results[i].handle.Done():
			results[i].elapsed = time.Since(start)
		case <-deadline:
			return fmt.Errorf("timed out after %s waiting for %q", fetchTimeout, results[i].handle.Key())
		}
		if results[i].handle.State() == loader.Errored {
			failed++
		}
	}

	if fetchOutput == "table" {
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Key", "State", "Size", "Elapsed"})
		table.SetBorder(false)
		for _, r := range results {
			table.Append([]string{
				r.handle.Key(),
				r.handle.State().String(),
				bytesize.ByteSize(r.handle.Resource().Size()).String(),
				r.elapsed.Round(time.Millisecond).String(),
			})
		}
		table.Render()
	} else {
		for _, r := range results {
			fmt.Printf("%s\t%s\t%d bytes\t%s\n",
				r.handle.Key(), r.handle.State(), r.handle.Resource().Size(),
				r.elapsed.Round(time.Millisecond))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d resources failed to load", failed, len(results))
	}
	return nil
}
