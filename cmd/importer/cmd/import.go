package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"iati-import-service/cmd/importer/config"
	"iati-import-service/internal/batch"
	"iati-import-service/internal/filter"
	"iati-import-service/internal/impact"
	"iati-import-service/internal/models"
	"iati-import-service/internal/parseapi"
	"iati-import-service/internal/registry"
	"iati-import-service/internal/report"
	"iati-import-service/internal/store"
	"iati-import-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the import command
var (
	xmlFile        string
	organizationID string
	country        string
	countryScope   string
	hierarchy      int
	dateStart      string
	dateEnd        string
	forceRefresh   bool

	matchedRule     string
	transactionRule string
	autoMatchOrgs   bool
	includeWarnings bool
	dryRun          bool
	showProgress    bool
	reportFile      string
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import IATI activities from a file or the registry",
	Long: `Import loads activities from a local IATI XML file or fetches an
organisation's published activities from the registry, matches them
against the local activity store, and submits the selected set as an
import batch.

Exactly one source is required: --xml-file or --organization.

Examples:
  # Import from a local XML file
  importer import --xml-file activities.xml

  # Fetch an organisation's activities filtered to one country
  importer import --organization undp --country MM

  # Preview without submitting a batch
  importer import --xml-file activities.xml --dry-run

  # Skip activities that already exist locally
  importer import --organization undp --rules skip_existing

  # Save the batch report as CSV
  importer import --xml-file activities.xml --report report.csv`,

	PreRunE: validateImportFlags,
	RunE:    runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	// Source flags
	importCmd.Flags().StringVarP(&xmlFile, "xml-file", "x", "", "path to an IATI activities XML file")
	importCmd.Flags().StringVarP(&organizationID, "organization", "g", "", "organisation identifier to fetch from the registry")
	importCmd.Flags().BoolVar(&forceRefresh, "force-refresh", false, "bypass the registry fetch cache")

	// Filter flags
	importCmd.Flags().StringVarP(&country, "country", "c", "", "recipient country code (2- or 3-letter)")
	importCmd.Flags().StringVar(&countryScope, "country-scope", "all", "country scope: all, full, partial")
	importCmd.Flags().IntVar(&hierarchy, "hierarchy", 0, "activity hierarchy level (0 = all levels)")
	importCmd.Flags().StringVar(&dateStart, "date-start", "", "filter window start (YYYY-MM-DD)")
	importCmd.Flags().StringVar(&dateEnd, "date-end", "", "filter window end (YYYY-MM-DD)")

	// Rule flags
	importCmd.Flags().StringVarP(&matchedRule, "rules", "r", "update_existing", "matched activity handling: update_existing, skip_existing, create_new_version")
	importCmd.Flags().StringVar(&transactionRule, "transaction-rules", "replace_all", "transaction handling: replace_all, append_new, skip")
	importCmd.Flags().BoolVar(&autoMatchOrgs, "auto-match-orgs", true, "match participating organisations automatically during import")
	importCmd.Flags().BoolVar(&includeWarnings, "include-warnings", true, "import activities that carry validation warnings")

	// Output flags
	importCmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute the impact preview without submitting a batch")
	importCmd.Flags().BoolVar(&showProgress, "progress", false, "show fetch progress indicators")
	importCmd.Flags().StringVarP(&reportFile, "report", "o", "", "write the batch report CSV to this path")

	// Bind flags to viper
	viper.BindPFlag("xml-file", importCmd.Flags().Lookup("xml-file"))
	viper.BindPFlag("organization", importCmd.Flags().Lookup("organization"))
	viper.BindPFlag("country", importCmd.Flags().Lookup("country"))
	viper.BindPFlag("rules", importCmd.Flags().Lookup("rules"))
	viper.BindPFlag("dry-run", importCmd.Flags().Lookup("dry-run"))
}

func validateImportFlags(cmd *cobra.Command, args []string) error {
	if (xmlFile == "") == (organizationID == "") {
		return fmt.Errorf("exactly one of --xml-file or --organization is required")
	}

	rules := importRules()
	if err := rules.Validate(); err != nil {
		return err
	}

	for _, raw := range []string{dateStart, dateEnd} {
		if raw == "" {
			continue
		}
		if _, err := models.ParseISODate(raw); err != nil {
			return fmt.Errorf("invalid date %q: use YYYY-MM-DD", raw)
		}
	}

	switch filter.CountryScope(countryScope) {
	case filter.ScopeAll, filter.ScopeFull, filter.ScopePartial:
	default:
		return fmt.Errorf("invalid country scope %q: use all, full or partial", countryScope)
	}
	return nil
}

func importRules() models.ImportRules {
	return models.ImportRules{
		MatchedActivities:      models.MatchedStrategy(matchedRule),
		Transactions:           models.TransactionStrategy(transactionRule),
		AutoMatchOrganizations: autoMatchOrgs,
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	log, err := logger.NewLogger(config.CreateLoggerConfig())
	if err != nil {
		return err
	}
	logger.SetGlobalLogger(log)
	handler := NewCLIErrorHandler()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	activities, err := loadActivities(ctx, log)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	if path := config.StorePath(); path != "" {
		activityStore, err := store.Open(path, log)
		if err != nil {
			os.Exit(handler.HandleError(err))
		}
		defer activityStore.Close()
		if _, err := activityStore.MarkMatches(ctx, activities); err != nil {
			os.Exit(handler.HandleError(err))
		}
	}

	filtered := filter.Apply(activities, importCriteria())
	summary := models.Summarize(filtered)
	fmt.Printf("Loaded %d activities (%d matching filters): %d valid, %d with warnings, %d with errors\n",
		len(activities), len(filtered), summary.Valid, summary.WithWarnings, summary.WithErrors)

	selection := buildSelection(filtered)
	if selection.Len() == 0 {
		os.Exit(handler.HandleError(fmt.Errorf("no importable activities after filtering")))
	}

	rules := importRules()
	preview := impact.Compute(filtered, selection, rules)
	fmt.Printf("Impact: %d to create, %d to update, %d to skip (%d transactions, volume %s)\n",
		preview.ToCreate, preview.ToUpdate, preview.ToSkip,
		preview.TotalTransactions, preview.TransactionVolume)

	if dryRun {
		fmt.Println("Dry run: no batch submitted.")
		return nil
	}

	batchClient, err := batch.NewClient(config.CreateBatchConfig(), log)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	batchID, err := batchClient.Submit(ctx, filtered, selection, rules)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	fmt.Printf("Submitted batch %s, waiting for completion...\n", batchID)

	status, err := batchClient.WaitForCompletion(ctx, batchID)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	builder := report.NewBuilder(status)
	if err := builder.WriteConsoleSummary(os.Stdout); err != nil {
		os.Exit(handler.HandleError(err))
	}

	if reportFile != "" {
		if err := writeReportFile(builder, reportFile); err != nil {
			os.Exit(handler.HandleError(err))
		}
		fmt.Printf("Report written to %s\n", reportFile)
	}

	if status.State == models.BatchFailed {
		os.Exit(5)
	}
	return nil
}

func loadActivities(ctx context.Context, log logger.Logger) ([]*models.ParsedActivity, error) {
	if xmlFile != "" {
		content, err := os.ReadFile(xmlFile)
		if err != nil {
			return nil, err
		}
		parseClient, err := parseapi.NewClient(config.CreateParseConfig(), log)
		if err != nil {
			return nil, err
		}
		return parseClient.ParseXML(ctx, string(content))
	}

	registryClient, err := registry.NewClient(config.CreateRegistryConfig(), log)
	if err != nil {
		return nil, err
	}
	params := fetchParams()

	var sim *registry.ProgressSimulator
	if showProgress {
		sim = startFetchProgress(ctx, registryClient, params, os.Stderr)
	}
	result, err := registryClient.FetchOrgActivities(ctx, params)
	if sim != nil {
		if err != nil {
			sim.Stop()
			fmt.Fprintln(os.Stderr)
		} else {
			sim.Complete(fetchProgressPrinter(os.Stderr))
			fmt.Fprintln(os.Stderr)
		}
	}
	if err != nil {
		return nil, err
	}
	if result.OrgScope != nil {
		fmt.Printf("Fetched %d activities published by %s\n", result.Total, result.OrgScope.Name)
	}
	return result.Activities, nil
}

// startFetchProgress calibrates a progress simulator from the registry's
// count estimate and starts it writing updates to out. A failed count
// falls back to the simulator's minimum duration.
func startFetchProgress(ctx context.Context, counter registry.Counter, params registry.FetchParams, out io.Writer) *registry.ProgressSimulator {
	var estimate float64
	if preview, err := counter.CountOrgActivities(ctx, params); err == nil {
		estimate = preview.EstimatedSeconds
		fmt.Fprintf(out, "Fetching %d activities...\n", preview.Count)
	}
	sim := registry.NewProgressSimulator(estimate)
	sim.Start(fetchProgressPrinter(out))
	return sim
}

func fetchProgressPrinter(out io.Writer) func(registry.ProgressUpdate) {
	return func(u registry.ProgressUpdate) {
		fmt.Fprintf(out, "\r%-12s %3d%%", u.Phase, u.Percent)
	}
}

func fetchParams() registry.FetchParams {
	params := registry.FetchParams{
		OrganizationID: organizationID,
		Country:        country,
		DateStart:      dateStart,
		DateEnd:        dateEnd,
		ForceRefresh:   forceRefresh,
	}
	if countryScope != string(filter.ScopeAll) {
		params.CountryFilterMode = countryScope
	}
	if hierarchy > 0 {
		h := hierarchy
		params.Hierarchy = &h
	}
	return params
}

func importCriteria() filter.Criteria {
	criteria := filter.Criteria{
		Country:      country,
		CountryScope: filter.CountryScope(countryScope),
	}
	if hierarchy > 0 {
		h := hierarchy
		criteria.Hierarchy = &h
	}
	if dateStart != "" {
		if t, err := models.ParseISODate(dateStart); err == nil {
			criteria.DateStart = &t
		}
	}
	if dateEnd != "" {
		if t, err := models.ParseISODate(dateEnd); err == nil {
			criteria.DateEnd = &t
		}
	}
	return criteria
}

// buildSelection selects everything importable: activities with errors are
// always excluded, warnings depend on the flag.
func buildSelection(activities []*models.ParsedActivity) *models.SelectionSet {
	selection := models.NewSelectionSet()
	for _, a := range activities {
		if a.HasErrors() {
			continue
		}
		if !includeWarnings && a.HasWarnings() {
			continue
		}
		selection.Add(a.IATIIdentifier)
	}
	return selection
}

func writeReportFile(builder *report.Builder, path string) error {
	if !strings.HasSuffix(path, ".csv") {
		path += ".csv"
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return builder.WriteCSV(file)
}
