package submission

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "sportello/pkg/domain-errors"
)

func seedSubmission(cf string, at time.Time) *Submission {
	return &Submission{
		Cognome:            "Rossi",
		Nome:               "Mario",
		DataNascita:        "1980-01-01",
		ComuneNascita:      "Roma",
		CodiceFiscale:      cf,
		ComuneResidenza:    "Roma",
		IndirizzoResidenza: "Via Appia 1",
		Email:              "mario.rossi@example.com",
		FileName:           "documenti.zip",
		FilePath:           "/archives/documenti.zip",
		FileSize:           1024,
		SubmittedAt:        at,
		Status:             StatusPending,
	}
}

func TestInMemoryInsertAssignsIDs(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	id1, err := store.Insert(ctx, seedSubmission("RSSMRA80A01H501U", time.Now()))
	require.NoError(t, err)
	id2, err := store.Insert(ctx, seedSubmission("MRTMTT91D08F205J", time.Now()))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	got, err := store.Get(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "RSSMRA80A01H501U", got.CodiceFiscale)
}

func TestInMemoryRejectsDuplicateCodiceFiscale(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_, err := store.Insert(ctx, seedSubmission("RSSMRA80A01H501U", time.Now()))
	require.NoError(t, err)

	_, err = store.Insert(ctx, seedSubmission("RSSMRA80A01H501U", time.Now()))
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeConflict))

	// Case differences do not defeat uniqueness.
	ok, err := store.ExistsCodiceFiscale(ctx, "rssmra80a01h501u")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInMemoryListFilterAndPaging(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cfs := []string{"RSSMRA80A01H501U", "MRTMTT91D08F205J", "RSSMRA85M01H501Q", "BNCGNN70T45F839X"}
	for i, cf := range cfs {
		sub := seedSubmission(cf, base.Add(time.Duration(i)*time.Hour))
		if i == 3 {
			sub.Cognome = "Bianchi"
			sub.Nome = "Giovanna"
			sub.Status = StatusApproved
		}
		_, err := store.Insert(ctx, sub)
		require.NoError(t, err)
	}

	all, total, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, all, 4)
	// Newest first.
	assert.Equal(t, "BNCGNN70T45F839X", all[0].CodiceFiscale)

	page, total, err := store.List(ctx, ListFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 2)
	assert.Equal(t, "MRTMTT91D08F205J", page[0].CodiceFiscale)

	byStatus, total, err := store.List(ctx, ListFilter{Status: StatusApproved})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "Bianchi", byStatus[0].Cognome)

	bySearch, _, err := store.List(ctx, ListFilter{Search: "giovanna"})
	require.NoError(t, err)
	require.Len(t, bySearch, 1)
	assert.Equal(t, "BNCGNN70T45F839X", bySearch[0].CodiceFiscale)

	none, total, err := store.List(ctx, ListFilter{Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Empty(t, none)
}

func TestInMemoryUpdateAndDelete(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	id, err := store.Insert(ctx, seedSubmission("RSSMRA80A01H501U", time.Now()))
	require.NoError(t, err)

	require.NoError(t, store.UpdateStatus(ctx, id, StatusInReview))
	require.NoError(t, store.UpdateNotes(ctx, id, "documenti incompleti"))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusInReview, got.Status)
	assert.Equal(t, "documenti incompleti", got.Notes)

	require.NoError(t, store.Delete(ctx, id))
	_, err = store.Get(ctx, id)
	assert.True(t, dErrors.Is(err, dErrors.CodeNotFound))

	assert.True(t, dErrors.Is(store.UpdateStatus(ctx, id, StatusApproved), dErrors.CodeNotFound))
	assert.True(t, dErrors.Is(store.Delete(ctx, id), dErrors.CodeNotFound))
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+39 333 123 4567": "+393331234567",
		"(06) 12-34-56":    "06123456",
		"abc":              "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), fmt.Sprintf("input %q", in))
	}
}
