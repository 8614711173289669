package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/listing"
	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/model"
	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/submission"
	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/validation"
)

const (
	flagNameCustomerName      = "name"
	flagNameEmail             = "email"
	flagNamePhone             = "phone"
	flagNameCountry           = "country"
	flagNameServiceQuality    = "service-quality"
	flagNameCleanliness       = "cleanliness"
	flagNameOverallExperience = "overall-experience"
	flagNameSubmissionToken   = "token"
	flagNameFilter            = "filter"
	flagNameFanout            = "fanout"
	listHeaderRow             = "ID\tCREATED\tCUSTOMER\tEMAIL\tPHONE\tSERVICE\tCLEANLINESS\tOVERALL"
	listRowFormat             = "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n"
	listCountsFormat          = "showing %d of %d\n"
	createdAtLayout           = "2006-01-02 15:04:05"
)

var (
	errSubmissionRejected = errors.New("feedback was not stored")
	errLoadFailed         = errors.New("feedback could not be loaded")
	errDeleteIncomplete   = errors.New("some feedback could not be deleted")
)

func ratingUsage() string {
	names := make([]string, 0, len(model.Ratings))
	for _, rating := range model.Ratings {
		names = append(names, string(rating))
	}
	return "one of " + strings.Join(names, ", ")
}

func (application *CLIApplication) submitCommand() *cobra.Command {
	form := submission.NewForm()

	command := &cobra.Command{
		Use:   "submit",
		Short: "Validate and submit one feedback record",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			dependencies, release, dependencyErr := application.dependencies()
			if dependencyErr != nil {
				return dependencyErr
			}
			defer release()
			command.SilenceUsage = true

			output := command.OutOrStdout()
			submitter := submission.NewSubmitter(dependencies.storeClient, dependencies.logger)
			_, result := submitter.Submit(command.Context(), form)
			fmt.Fprintln(output, result.Notice)

			switch result.Outcome {
			case submission.OutcomeSucceeded:
				fmt.Fprintln(output, result.Feedback.ID)
				return nil
			case submission.OutcomeInvalid:
				writeFieldErrors(output, result.Err)
				return errSubmissionRejected
			default:
				return fmt.Errorf("%w: %v", errSubmissionRejected, result.Err)
			}
		},
	}

	flags := command.Flags()
	flags.StringVar(&form.Draft.CustomerName, flagNameCustomerName, "", "customer name")
	flags.StringVar(&form.Draft.Email, flagNameEmail, "", "customer email address")
	flags.StringVar(&form.Draft.Phone, flagNamePhone, "", "ten digit phone number")
	flags.StringVar(&form.Draft.Country, flagNameCountry, model.DefaultCountryCode, "ISO country code")
	flags.StringVar(&form.Draft.ServiceQuality, flagNameServiceQuality, "", "service quality rating, "+ratingUsage())
	flags.StringVar(&form.Draft.Cleanliness, flagNameCleanliness, "", "cleanliness rating, "+ratingUsage())
	flags.StringVar(&form.Draft.OverallExperience, flagNameOverallExperience, "", "overall experience rating, "+ratingUsage())
	flags.StringVar(&form.SubmissionToken, flagNameSubmissionToken, form.SubmissionToken, "submission token used to deduplicate retries")

	return command
}

func writeFieldErrors(output io.Writer, err error) {
	var fieldErrors validation.FieldErrors
	if !errors.As(err, &fieldErrors) {
		return
	}
	fieldNames := make([]string, 0, len(fieldErrors))
	for fieldName := range fieldErrors {
		fieldNames = append(fieldNames, fieldName)
	}
	sort.Strings(fieldNames)
	for _, fieldName := range fieldNames {
		fmt.Fprintf(output, "  %s: %s\n", fieldName, fieldErrors[fieldName])
	}
}

func (application *CLIApplication) listCommand() *cobra.Command {
	var filterTerm string

	command := &cobra.Command{
		Use:   "list",
		Short: "List stored feedback, optionally filtered by customer name",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			dependencies, release, dependencyErr := application.dependencies()
			if dependencyErr != nil {
				return dependencyErr
			}
			defer release()
			command.SilenceUsage = true

			view := listing.NewView(dependencies.storeClient, dependencies.logger, 0)
			state := view.Load(command.Context(), listing.NewState())
			if state.Notice != "" {
				fmt.Fprintln(command.ErrOrStderr(), state.Notice)
				return errLoadFailed
			}
			state = listing.ApplyFilter(state, filterTerm)
			return writeListing(command.OutOrStdout(), state)
		},
	}

	command.Flags().StringVar(&filterTerm, flagNameFilter, "", "case-insensitive customer name filter")
	return command
}

func writeListing(output io.Writer, state listing.State) error {
	table := tabwriter.NewWriter(output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, listHeaderRow)
	for _, record := range listing.Visible(state) {
		fmt.Fprintf(table, listRowFormat,
			record.ID,
			record.CreatedAt.UTC().Format(createdAtLayout),
			record.CustomerName,
			record.Email,
			record.Phone,
			record.ServiceQuality,
			record.Cleanliness,
			record.OverallExperience,
		)
	}
	if flushErr := table.Flush(); flushErr != nil {
		return flushErr
	}
	visibleCount, totalCount := listing.Counts(state)
	_, writeErr := fmt.Fprintf(output, listCountsFormat, visibleCount, totalCount)
	return writeErr
}

func (application *CLIApplication) deleteCommand() *cobra.Command {
	var fanout int

	command := &cobra.Command{
		Use:   "delete ID [ID...]",
		Short: "Delete feedback records by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(command *cobra.Command, identifiers []string) error {
			dependencies, release, dependencyErr := application.dependencies()
			if dependencyErr != nil {
				return dependencyErr
			}
			defer release()
			command.SilenceUsage = true

			view := listing.NewView(dependencies.storeClient, dependencies.logger, fanout)
			state := listing.NewState()
			for _, feedbackID := range identifiers {
				trimmed := strings.TrimSpace(feedbackID)
				if trimmed != "" && !listing.IsSelected(state, trimmed) {
					state = listing.ToggleSelection(state, trimmed)
				}
			}

			_, report := view.DeleteSelected(command.Context(), state)
			output := command.OutOrStdout()
			for _, feedbackID := range report.Deleted {
				fmt.Fprintf(output, "deleted %s\n", feedbackID)
			}
			failedIDs := make([]string, 0, len(report.Failed))
			for feedbackID := range report.Failed {
				failedIDs = append(failedIDs, feedbackID)
			}
			sort.Strings(failedIDs)
			for _, feedbackID := range failedIDs {
				fmt.Fprintf(command.ErrOrStderr(), "failed %s: %v\n", feedbackID, report.Failed[feedbackID])
			}
			if len(failedIDs) > 0 {
				return errDeleteIncomplete
			}
			return nil
		},
	}

	command.Flags().IntVar(&fanout, flagNameFanout, 0, "maximum concurrent delete requests (0 uses the default)")
	return command
}
