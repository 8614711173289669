package listing_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/listing"
	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/model"
)

var errDeleteRejected = errors.New("delete rejected")

type fakeStore struct {
	mutex     sync.Mutex
	records   []model.Feedback
	listErr   error
	failIDs   map[string]struct{}
	deleteLog []string
}

func (store *fakeStore) List(context.Context) ([]model.Feedback, error) {
	if store.listErr != nil {
		return nil, store.listErr
	}
	return append([]model.Feedback(nil), store.records...), nil
}

func (store *fakeStore) Delete(_ context.Context, feedbackID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.deleteLog = append(store.deleteLog, feedbackID)
	if _, fail := store.failIDs[feedbackID]; fail {
		return errDeleteRejected
	}
	return nil
}

func sampleRecords() []model.Feedback {
	return []model.Feedback{
		{ID: "a", CustomerName: "Asha"},
		{ID: "b", CustomerName: "Bob"},
		{ID: "c", CustomerName: "Rohan"},
	}
}

func TestLoadPopulatesRecords(testingT *testing.T) {
	view := listing.NewView(&fakeStore{records: sampleRecords()}, nil, 0)

	state := view.Load(context.Background(), listing.NewState())

	require.Len(testingT, state.Records, 3)
	require.Empty(testingT, state.Notice)
}

func TestLoadFailureShowsNoticeAndEmptyList(testingT *testing.T) {
	view := listing.NewView(&fakeStore{listErr: errors.New("offline")}, nil, 0)
	initial := listing.NewState()
	initial.Records = sampleRecords()

	state := view.Load(context.Background(), initial)

	require.Empty(testingT, state.Records)
	require.Equal(testingT, listing.NoticeLoadFailed, state.Notice)
}

func TestVisibleFiltersByCustomerName(testingT *testing.T) {
	testCases := []struct {
		name        string
		term        string
		expectedIDs []string
	}{
		{name: "blank shows all", term: "", expectedIDs: []string{"a", "b", "c"}},
		{name: "whitespace shows all", term: "   ", expectedIDs: []string{"a", "b", "c"}},
		{name: "case insensitive substring", term: "ha", expectedIDs: []string{"a", "c"}},
		{name: "upper case term", term: "BO", expectedIDs: []string{"b"}},
		{name: "no match", term: "zed", expectedIDs: []string{}},
	}

	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(subTest *testing.T) {
			state := listing.NewState()
			state.Records = sampleRecords()
			state = listing.ApplyFilter(state, testCase.term)

			visibleIDs := []string{}
			for _, record := range listing.Visible(state) {
				visibleIDs = append(visibleIDs, record.ID)
			}
			require.Equal(subTest, testCase.expectedIDs, visibleIDs)

			visibleCount, totalCount := listing.Counts(state)
			require.Equal(subTest, len(testCase.expectedIDs), visibleCount)
			require.Equal(subTest, 3, totalCount)
		})
	}
}

func TestApplyFilterLeavesInputStateUnchanged(testingT *testing.T) {
	original := listing.NewState()
	original.Records = sampleRecords()

	filtered := listing.ApplyFilter(original, "bob")

	require.Empty(testingT, original.Filter)
	require.Len(testingT, listing.Visible(original), 3)
	require.Len(testingT, listing.Visible(filtered), 1)
}

func TestToggleSelection(testingT *testing.T) {
	state := listing.NewState()

	selected := listing.ToggleSelection(state, "a")
	require.True(testingT, listing.IsSelected(selected, "a"))
	require.False(testingT, listing.IsSelected(state, "a"))

	cleared := listing.ToggleSelection(selected, "a")
	require.False(testingT, listing.IsSelected(cleared, "a"))
	require.True(testingT, listing.IsSelected(selected, "a"))
}

func TestSelectionSurvivesFilter(testingT *testing.T) {
	state := listing.NewState()
	state.Records = sampleRecords()
	state = listing.ToggleSelection(state, "b")
	state = listing.ApplyFilter(state, "asha")

	require.Equal(testingT, []string{"b"}, listing.SelectedIDs(state))
}

func TestDeleteSelectedRemovesAllOnSuccess(testingT *testing.T) {
	store := &fakeStore{records: sampleRecords()}
	view := listing.NewView(store, nil, 2)
	state := view.Load(context.Background(), listing.NewState())
	state = listing.ToggleSelection(state, "a")
	state = listing.ToggleSelection(state, "c")

	updated, report := view.DeleteSelected(context.Background(), state)

	require.Equal(testingT, []string{"a", "c"}, report.Deleted)
	require.Empty(testingT, report.Failed)
	require.Len(testingT, updated.Records, 1)
	require.Equal(testingT, "b", updated.Records[0].ID)
	require.Empty(testingT, updated.Selected)
	require.Empty(testingT, updated.Notice)
	require.ElementsMatch(testingT, []string{"a", "c"}, store.deleteLog)
}

func TestDeleteSelectedKeepsFailedIDs(testingT *testing.T) {
	store := &fakeStore{records: sampleRecords(), failIDs: map[string]struct{}{"b": {}}}
	view := listing.NewView(store, nil, 0)
	state := view.Load(context.Background(), listing.NewState())
	for _, feedbackID := range []string{"a", "b", "c"} {
		state = listing.ToggleSelection(state, feedbackID)
	}

	updated, report := view.DeleteSelected(context.Background(), state)

	require.Equal(testingT, []string{"a", "c"}, report.Deleted)
	require.Len(testingT, report.Failed, 1)
	require.ErrorIs(testingT, report.Failed["b"], errDeleteRejected)
	require.Len(testingT, updated.Records, 1)
	require.Equal(testingT, "b", updated.Records[0].ID)
	require.Equal(testingT, []string{"b"}, listing.SelectedIDs(updated))
	require.Equal(testingT, listing.NoticeDeleteFailed, updated.Notice)
	require.Len(testingT, state.Records, 3)
}

func TestDeleteSelectedWithEmptySelection(testingT *testing.T) {
	store := &fakeStore{records: sampleRecords()}
	view := listing.NewView(store, nil, 0)
	state := view.Load(context.Background(), listing.NewState())

	updated, report := view.DeleteSelected(context.Background(), state)

	require.Empty(testingT, report.Deleted)
	require.Empty(testingT, report.Failed)
	require.Len(testingT, updated.Records, 3)
	require.Empty(testingT, store.deleteLog)
}
