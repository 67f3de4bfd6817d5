/*
Copyright 2026 The FiskAI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// truthctl is the pipeline's operator CLI: extractor/composer/releaser
// batch and single-item runs, and watchdog checks. Subcommand dispatch is
// stdlib flag-based; the command surface is small enough that a CLI
// framework would be more wiring than dispatch.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/Wandeon/FiskAI-App-sub004/internal/bootstrap"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
)

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(2)
	}
	group, cmd := os.Args[1], os.Args[2]
	args := os.Args[3:]

	ctx := context.Background()
	app, err := bootstrap.Build(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bootstrap: "+err.Error())
		os.Exit(1)
	}

	var runErr error
	switch {
	case group == "extractor" && cmd == "run":
		runErr = runExtractorRun(ctx, app, args)
	case group == "extractor" && cmd == "batch":
		runErr = runExtractorBatch(ctx, app, args)
	case group == "composer" && cmd == "batch":
		runErr = runComposerBatch(ctx, app, args)
	case group == "releaser" && cmd == "release":
		runErr = runReleaserRelease(ctx, app, args)
	case group == "releaser" && cmd == "rollback":
		runErr = runReleaserRollback(ctx, app, args)
	case group == "watchdog" && cmd == "run":
		runErr = runWatchdogRun(ctx, app, args)
	case group == "watchdog" && cmd == "audit":
		runErr = runWatchdogAudit(ctx, app, args)
	default:
		usage()
		os.Exit(2)
	}

	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr.Error())
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: truthctl <group> <command> [flags]

  extractor run --evidence-id <id>
  extractor batch --limit <n> --source-ids <comma-separated>
  composer batch --limit <n>
  releaser release --rules <comma-separated-ids> [--version <semver>]
  releaser rollback --version <semver> [--dry-run]
  watchdog run
  watchdog audit`)
}

func runExtractorRun(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("extractor run", flag.ExitOnError)
	evidenceID := fs.String("evidence-id", "", "evidence id to extract")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *evidenceID == "" {
		return fmt.Errorf("extractor run: --evidence-id is required")
	}
	corr := domain.Correlation{RunID: uuid.NewString()}
	res, err := app.Extractor.Run(ctx, *evidenceID, corr)
	if err != nil {
		return err
	}
	fmt.Printf("extractor run: promoted=%d rejected=%d outcome=%s\n", res.Promoted, res.Rejected, res.Outcome.Outcome)
	return nil
}

func runExtractorBatch(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("extractor batch", flag.ExitOnError)
	limit := fs.Int("limit", 0, "max evidence rows to process")
	sourceIDs := fs.String("source-ids", "", "comma-separated source ids to scan")
	if err := fs.Parse(args); err != nil {
		return err
	}
	corr := domain.Correlation{RunID: uuid.NewString()}
	res := app.Extractor.RunBatch(ctx, *limit, splitCSV(*sourceIDs), corr)
	fmt.Printf("extractor batch: success=%d failed=%d\n", res.Success, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("extractor batch: %d item(s) failed: %s", res.Failed, strings.Join(res.Errors, "; "))
	}
	return nil
}

func runComposerBatch(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("composer batch", flag.ExitOnError)
	limit := fs.Int("limit", 0, "max candidate facts to compose")
	if err := fs.Parse(args); err != nil {
		return err
	}
	corr := domain.Correlation{RunID: uuid.NewString()}
	res := app.Composer.RunBatch(ctx, *limit, corr)
	fmt.Printf("composer batch: success=%d failed=%d\n", res.Success, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("composer batch: %d group(s) failed: %s", res.Failed, strings.Join(res.Errors, "; "))
	}
	return nil
}

func runReleaserRelease(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("releaser release", flag.ExitOnError)
	rules := fs.String("rules", "", "comma-separated rule ids to release")
	version := fs.String("version", "", "suggested semver (optional; auto-derived when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ruleIDs := splitCSV(*rules)
	if len(ruleIDs) == 0 {
		return fmt.Errorf("releaser release: --rules is required")
	}
	corr := domain.Correlation{RunID: uuid.NewString()}
	rel, err := app.Releaser.Release(ctx, ruleIDs, *version, corr)
	if err != nil {
		return err
	}
	fmt.Printf("releaser release: published %s (version %s)\n", rel.ID, rel.Version)
	return nil
}

func runReleaserRollback(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("releaser rollback", flag.ExitOnError)
	version := fs.String("version", "", "release version to roll back")
	dryRun := fs.Bool("dry-run", false, "resolve the target release without rolling back")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *version == "" {
		return fmt.Errorf("releaser rollback: --version is required")
	}
	target, found, err := app.Repos.Releases.GetByVersion(ctx, *version)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("releaser rollback: release version %s not found", *version)
	}
	if *dryRun {
		fmt.Printf("releaser rollback (dry-run): would roll back release %s (version %s)\n", target.ID, target.Version)
		return nil
	}
	corr := domain.Correlation{RunID: uuid.NewString()}
	if err := app.Releaser.Rollback(ctx, target.ID, corr); err != nil {
		return err
	}
	fmt.Printf("releaser rollback: rolled back release %s (version %s)\n", target.ID, target.Version)
	return nil
}

func runWatchdogRun(ctx context.Context, app *bootstrap.App, _ []string) error {
	results := app.Watchdog.Run(ctx)
	for _, r := range results {
		fmt.Printf("%-30s %-8s %s (%s)\n", r.CheckName, r.Severity, r.Message, r.EntityID)
	}
	fmt.Printf("watchdog run: %d check(s) raised\n", len(results))
	return nil
}

// runWatchdogAudit runs the same checks as "watchdog run" but fails the
// process when any check came back CRITICAL so it can gate a CI/cron
// job.
func runWatchdogAudit(ctx context.Context, app *bootstrap.App, _ []string) error {
	results := app.Watchdog.Run(ctx)
	critical := 0
	for _, r := range results {
		fmt.Printf("%-30s %-8s %s (%s)\n", r.CheckName, r.Severity, r.Message, r.EntityID)
		if r.Severity == domain.AlertCritical {
			critical++
		}
	}
	if critical > 0 {
		return fmt.Errorf("watchdog audit: %d check(s) at CRITICAL", critical)
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
