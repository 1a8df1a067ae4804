package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlsink/internal/config"
	"github.com/roach88/sqlsink/internal/store"
)

// ValidationIssue is one problem found in a config file.
type ValidationIssue struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Database string            `json:"database,omitempty"`
	Dialect  string            `json:"dialect,omitempty"`
	Backoff  string            `json:"backoff,omitempty"`
	Batching string            `json:"batching,omitempty"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a config file without connecting",
		Long: `Validate a sink config file against its schema, resolve environment
references in secrets and check that the database URL names a supported
backend. No connection is attempted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, configPath, cmd)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return outputValidateError(formatter, ErrCodeNotFound, fmt.Sprintf("config file not found: %s", path))
	}
	if err != nil {
		return outputValidationErrors(formatter, []ValidationIssue{{Code: ErrCodeInvalidConfig, Message: err.Error()}})
	}
	formatter.VerboseLog("Parsed %s", path)

	result := ValidationResult{
		Valid:   true,
		Backoff: fmt.Sprintf("%s %s..%s", cfg.BackoffStrategy, cfg.BackoffMin, cfg.BackoffMax),
	}
	if cfg.BatchSize > 0 {
		result.Batching = fmt.Sprintf("%d rows or %s", cfg.BatchSize, cfg.BatchInterval.Round(time.Millisecond))
	} else {
		result.Batching = "off"
	}

	var issues []ValidationIssue

	engineCfg, err := cfg.Engine()
	if err != nil {
		issues = append(issues, ValidationIssue{Code: ErrCodeUnresolvedValue, Field: "url", Message: err.Error()})
	} else {
		result.Database = config.RedactURL(engineCfg.URL)
		d, _, err := store.ParseURL(engineCfg.URL)
		if err != nil {
			issues = append(issues, ValidationIssue{Code: ErrCodeUnsupportedURL, Field: "url", Message: err.Error()})
		} else {
			result.Dialect = d.Name()
			formatter.VerboseLog("Database dialect: %s", d.Name())
		}
	}

	if _, err := cfg.S3Options(); err != nil {
		issues = append(issues, ValidationIssue{Code: ErrCodeUnresolvedValue, Field: "s3.secret_access_key", Message: err.Error()})
	}

	if len(issues) > 0 {
		return outputValidationErrors(formatter, issues)
	}

	return outputValidateSuccess(formatter, result)
}

func (r ValidationResult) String() string {
	return fmt.Sprintf("✓ Config valid\n  database: %s (%s)\n  backoff:  %s\n  batching: %s",
		r.Database, r.Dialect, r.Backoff, r.Batching)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	return formatter.Success(result)
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range issues {
		if issue.Field != "" {
			fmt.Fprintf(formatter.Writer, "%s\n", issue.Field)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}
