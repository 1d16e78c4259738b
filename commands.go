package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"imagededup/database"
	"imagededup/hashstore"
	"imagededup/logging"
	"imagededup/scanner"
	"imagededup/signalhandler"
	"imagededup/types"
	"imagededup/utils"
)

// runConvert handles the convert command, or rebuild when --rebuild is set
func runConvert(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := utils.LoadConfig(v, true)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.SetupLogger(logging.Options{
		LogFile: cfg.LogFile,
		Debug:   cfg.Debug,
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signalhandler.SetupHandler(cmd.Context())
	defer cancel()

	if err := utils.EnsureOutputDir(cfg.OutputDir); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cfg.Rebuild {
		fmt.Fprintf(out, "Rebuilding hashes file in %s...\n", cfg.OutputDir)
		report, err := scanner.Rebuild(ctx, scanner.RebuildOptions{
			OutputDir:     cfg.OutputDir,
			Workers:       cfg.Workers,
			HashAlgorithm: cfg.HashAlgorithm,
			HashSize:      cfg.HashSize,
			Catalog:       cfg.Catalog,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		printRebuildReport(out, report)
		return nil
	}

	fmt.Fprintf(out, "Starting conversion...\nSource: %s\nOutput: %s\n", cfg.SourceDir, cfg.OutputDir)
	fmt.Fprintf(out, "Hash: %s (%dx%d), threshold %d, format %s, workers %d\n",
		cfg.HashAlgorithm, cfg.HashSize, cfg.HashSize, cfg.Threshold, cfg.Format, cfg.Workers)
	if cfg.Debug {
		fmt.Fprintf(out, "Debug mode: enabled\n")
	}

	summary, err := scanner.Run(ctx, scanner.ScanOptions{
		SourceDir:      cfg.SourceDir,
		OutputDir:      cfg.OutputDir,
		Workers:        cfg.Workers,
		Threshold:      cfg.Threshold,
		HashAlgorithm:  cfg.HashAlgorithm,
		HashSize:       cfg.HashSize,
		Format:         cfg.Format,
		Speed:          cfg.Speed,
		Quality:        cfg.Quality,
		Catalog:        cfg.Catalog,
		SkipUnchanged:  cfg.SkipUnchanged,
		Logger:         logger,
		ProgressWriter: progressWriter(cmd, cfg.Debug),
	})
	printSummary(out, summary)
	if err != nil {
		logger.WithError(err).Error("conversion stopped")
		return err
	}
	return nil
}

// progressWriter returns stderr when it is an interactive terminal that is
// not already receiving debug logs
func progressWriter(cmd *cobra.Command, debug bool) io.Writer {
	if debug {
		return nil
	}
	f, ok := cmd.ErrOrStderr().(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return f
}

func printSummary(out io.Writer, s scanner.Summary) {
	fmt.Fprintln(out, "\nConversion complete.")
	fmt.Fprintf(out, "Processed %d of %d images in %v.\n", s.Processed, s.Discovered, s.Elapsed.Round(time.Second))
	fmt.Fprintf(out, "Admitted: %d, duplicates: %d, skipped: %d\n", s.Admitted, s.Rejected, s.Skipped)
	if s.MalformedLines > 0 {
		fmt.Fprintf(out, "Ignored %d malformed lines in the hashes file.\n", s.MalformedLines)
	}
	if s.ForeignHashes > 0 {
		fmt.Fprintf(out, "%d stored hashes have a different size and never match; run `imagededup rebuild`.\n", s.ForeignHashes)
	}
	if s.Failed > 0 {
		fmt.Fprintf(out, "Encountered %d errors during conversion.\n", s.Failed)
		fmt.Fprintln(out, "Check the log for details.")
	}
}

func printRebuildReport(out io.Writer, r scanner.RebuildReport) {
	fmt.Fprintf(out, "Hashed %d of %d output files in %v.\n", r.Hashed, r.OutputFiles, r.Elapsed.Round(time.Second))
	if r.PrunedAdmissions > 0 {
		fmt.Fprintf(out, "Removed %d catalog entries without an output file.\n", r.PrunedAdmissions)
	}
	if r.ForgottenRejections > 0 {
		fmt.Fprintf(out, "Cleared %d duplicate verdicts; those sources are checked again on the next run.\n", r.ForgottenRejections)
	}
	if r.Errors != nil {
		fmt.Fprintf(out, "Could not read %d files:\n%v\n", r.Failed, r.Errors)
	}
}

// runStats prints the counters of an output directory
func runStats(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := utils.LoadConfig(v, false)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.SetupLogger(logging.Options{
		LogFile: cfg.LogFile,
		Debug:   cfg.Debug,
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer closeLog()

	stats, err := collectStats(cfg.OutputDir, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Output directory: %s\n", cfg.OutputDir)
	fmt.Fprintf(out, "Hashes: %d\n", stats.LogLines)
	fmt.Fprintf(out, "Output files: %d\n", stats.OutputFiles)
	if stats.Sources > 0 || stats.Admissions > 0 {
		fmt.Fprintf(out, "Catalog admissions: %d\n", stats.Admissions)
		fmt.Fprintf(out, "Catalog sources: %d (%d duplicates)\n", stats.Sources, stats.Rejected)
	}
	if stats.LogLines != stats.OutputFiles {
		fmt.Fprintln(out, "Hashes and output files disagree; run `imagededup rebuild` to resync.")
	}
	return nil
}

func collectStats(outputDir string, logger logrus.FieldLogger) (*types.ScanStats, error) {
	stats := &types.ScanStats{}

	catalogPath := database.CatalogPath(outputDir)
	if _, err := os.Stat(catalogPath); err == nil {
		db, err := database.OpenDatabase(catalogPath)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		if stats, err = database.GetScanStats(db); err != nil {
			return nil, err
		}
	}

	hashes, _, err := hashstore.ReadLog(hashstore.LogPath(outputDir), logger)
	if err != nil {
		return nil, err
	}
	stats.LogLines = len(hashes)

	files, err := scanner.ListOutputFiles(outputDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	stats.OutputFiles = len(files)

	return stats, nil
}
