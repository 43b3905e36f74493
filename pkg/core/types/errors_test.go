package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind error
	}{
		{"config", NewConfigError("M", "must be >= 1, got %d", 0), ErrConfiguration},
		{"dimension", &DimensionError{Expected: 3, Actual: 2}, ErrDimensionMismatch},
		{"range", &RangeError{Min: 1, Max: 1}, ErrInvalidRange},
		{"not found", &NotFoundError{Kind: "subject", Key: "dog"}, ErrNotFound},
		{"duplicate", &DuplicateSubjectError{Subject: "dog"}, ErrDuplicateSubject},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.err, tc.kind)
			assert.NotEmpty(t, tc.err.Error())
		})
	}
}

func TestCheckDimension(t *testing.T) {
	require.NoError(t, CheckDimension(2, []float32{1, 2}))

	err := CheckDimension(3, []float32{1, 2})
	var dimErr *DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Actual)
}

func TestBatchErrorUnwrap(t *testing.T) {
	batch := &BatchError{
		Total: 10,
		Failed: []*RecordError{
			{Subject: "a", Err: &DimensionError{Expected: 3, Actual: 1}},
			{Subject: "b", Err: &DuplicateSubjectError{Subject: "b"}},
		},
	}

	assert.ErrorIs(t, batch, ErrDimensionMismatch)
	assert.ErrorIs(t, batch, ErrDuplicateSubject)
	assert.False(t, errors.Is(batch, ErrNotFound))

	var rec *RecordError
	require.ErrorAs(t, batch, &rec)
	assert.Equal(t, "a", rec.Subject)
	assert.Contains(t, batch.Error(), "2 of 10 records failed")
}

func TestCandidateOrdering(t *testing.T) {
	a := Candidate{ID: 4, Distance: 0.5}
	b := Candidate{ID: 2, Distance: 0.5}
	c := Candidate{ID: 1, Distance: 0.7}

	assert.True(t, b.Less(a), "equal distance breaks ties by ordinal")
	assert.True(t, a.Less(c))
	assert.False(t, c.Less(b))
}
