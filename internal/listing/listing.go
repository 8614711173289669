// Package listing holds the feedback table state: the fetched records, the name filter,
// the selection and batch deletion.
package listing

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/model"
)

const (
	NoticeLoadFailed    = "Failed to load feedback data. Please try again later."
	NoticeDeleteFailed  = "Some feedback could not be deleted. Please try again."
	defaultDeleteFanout = 8
)

// Store is the subset of the feedback API the view uses.
type Store interface {
	List(ctx context.Context) ([]model.Feedback, error)
	Delete(ctx context.Context, feedbackID string) error
}

// State is the complete listing view state. Update functions return a new State.
type State struct {
	Records  []model.Feedback
	Filter   string
	Selected map[string]struct{}
	Notice   string
}

// NewState returns an empty listing.
func NewState() State {
	return State{Records: []model.Feedback{}, Selected: map[string]struct{}{}}
}

// ApplyFilter sets the customer name filter.
func ApplyFilter(state State, term string) State {
	state.Filter = term
	return state
}

// Visible returns the records whose customer name contains the filter, case-insensitively.
// A blank filter shows every record.
func Visible(state State) []model.Feedback {
	if strings.TrimSpace(state.Filter) == "" {
		return append([]model.Feedback(nil), state.Records...)
	}
	needle := strings.ToLower(state.Filter)
	visible := make([]model.Feedback, 0, len(state.Records))
	for _, record := range state.Records {
		if strings.Contains(strings.ToLower(record.CustomerName), needle) {
			visible = append(visible, record)
		}
	}
	return visible
}

// Counts returns the number of visible records and the total.
func Counts(state State) (int, int) {
	return len(Visible(state)), len(state.Records)
}

// ToggleSelection adds the id to the selection or removes it when already present.
// Selection is independent of the filter.
func ToggleSelection(state State, feedbackID string) State {
	selected := copySelection(state.Selected)
	if _, exists := selected[feedbackID]; exists {
		delete(selected, feedbackID)
	} else {
		selected[feedbackID] = struct{}{}
	}
	state.Selected = selected
	return state
}

// IsSelected reports whether the id is selected.
func IsSelected(state State, feedbackID string) bool {
	_, exists := state.Selected[feedbackID]
	return exists
}

// SelectedIDs returns the selection in sorted order.
func SelectedIDs(state State) []string {
	identifiers := make([]string, 0, len(state.Selected))
	for feedbackID := range state.Selected {
		identifiers = append(identifiers, feedbackID)
	}
	sort.Strings(identifiers)
	return identifiers
}

// DeleteReport lists the per-id outcomes of a batch delete.
type DeleteReport struct {
	Deleted []string
	Failed  map[string]error
}

// View connects listing state to the feedback store.
type View struct {
	store  Store
	logger *zap.Logger
	fanout int
}

// NewView builds a View. fanout bounds concurrent delete calls; non-positive uses the default.
func NewView(store Store, logger *zap.Logger, fanout int) *View {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fanout <= 0 {
		fanout = defaultDeleteFanout
	}
	return &View{store: store, logger: logger, fanout: fanout}
}

// Load fetches the full record set once. On failure the list is empty and the notice is set.
func (view *View) Load(ctx context.Context, state State) State {
	records, listErr := view.store.List(ctx)
	if listErr != nil {
		view.logger.Warn("load_feedback", zap.Error(listErr))
		state.Records = []model.Feedback{}
		state.Notice = NoticeLoadFailed
		return state
	}
	state.Records = records
	state.Notice = ""
	return state
}

// DeleteSelected issues one delete per selected id concurrently. Ids whose delete succeeded
// leave both the records and the selection; failed ids stay selected and are reported.
func (view *View) DeleteSelected(ctx context.Context, state State) (State, DeleteReport) {
	identifiers := SelectedIDs(state)
	report := DeleteReport{Deleted: []string{}, Failed: map[string]error{}}
	if len(identifiers) == 0 {
		return state, report
	}

	var mutex sync.Mutex
	group, groupContext := errgroup.WithContext(ctx)
	group.SetLimit(view.fanout)
	for _, feedbackID := range identifiers {
		feedbackID := feedbackID
		group.Go(func() error {
			deleteErr := view.store.Delete(groupContext, feedbackID)
			mutex.Lock()
			defer mutex.Unlock()
			if deleteErr != nil {
				view.logger.Warn("delete_feedback", zap.String("feedback_id", feedbackID), zap.Error(deleteErr))
				report.Failed[feedbackID] = deleteErr
				return nil
			}
			report.Deleted = append(report.Deleted, feedbackID)
			return nil
		})
	}
	_ = group.Wait()
	sort.Strings(report.Deleted)

	removed := make(map[string]struct{}, len(report.Deleted))
	for _, feedbackID := range report.Deleted {
		removed[feedbackID] = struct{}{}
	}
	remaining := make([]model.Feedback, 0, len(state.Records))
	for _, record := range state.Records {
		if _, gone := removed[record.ID]; !gone {
			remaining = append(remaining, record)
		}
	}
	selected := copySelection(state.Selected)
	for feedbackID := range removed {
		delete(selected, feedbackID)
	}

	state.Records = remaining
	state.Selected = selected
	if len(report.Failed) > 0 {
		state.Notice = NoticeDeleteFailed
	}
	return state, report
}

func copySelection(selection map[string]struct{}) map[string]struct{} {
	copied := make(map[string]struct{}, len(selection))
	for feedbackID := range selection {
		copied[feedbackID] = struct{}{}
	}
	return copied
}
