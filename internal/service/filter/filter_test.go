package filter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/camp-guide/backend/internal/analysis/criteria"
	"github.com/zhouzirui/camp-guide/backend/internal/model/camp"
)

func floatPtr(v float64) *float64 { return &v }

func baseline() []camp.Record {
	return []camp.Record{
		{ID: 1, Name: "A", PricePerWeek: floatPtr(350), Categories: []string{"Soccer"}, DistanceMiles: floatPtr(4)},
		{ID: 2, Name: "B", PricePerWeek: floatPtr(180), Categories: []string{"Art"}, DistanceMiles: floatPtr(12)},
		{ID: 3, Name: "C", Categories: []string{"Soccer"}, DistanceMiles: floatPtr(2)},
		{ID: 4, Name: "D", PricePerWeek: floatPtr(150), Categories: []string{"Soccer"}, DistanceMiles: floatPtr(30)},
		{ID: 5, Name: "E", PricePerWeek: floatPtr(200), Categories: []string{"STEM"}},
	}
}

func ids(records []camp.Record) []int64 {
	out := make([]int64, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

var parser = criteria.NewParser(criteria.Vocabulary{Categories: []string{"Soccer", "Art", "STEM"}})

func TestApplyPriceIsOrderedSubsequence(t *testing.T) {
	base := baseline()
	got := Apply(base, parser.Parse("any under $200 per week?"))
	assert.Equal(t, []int64{2, 4, 5}, ids(got))
	for _, r := range got {
		require.NotNil(t, r.PricePerWeek)
		assert.LessOrEqual(t, *r.PricePerWeek, 200.0)
	}
}

func TestApplyOrdinalAfterPredicates(t *testing.T) {
	base := baseline()
	assert.Equal(t, []int64{1, 2, 3}, ids(Apply(base, parser.Parse("what about the first three?"))))
	assert.Equal(t, []int64{4}, ids(Apply(base, parser.Parse("the cheapest soccer, the last one"))))
	assert.Equal(t, []int64{1, 3}, ids(Apply(base, parser.Parse("only the first two soccer camps"))))
}

func TestApplyDistanceNeedsKnownDistance(t *testing.T) {
	got := Apply(baseline(), camp.FilterCriteria{MaxDistanceMiles: floatPtr(10)})
	assert.Equal(t, []int64{1, 3}, ids(got))
}

func TestApplyIsIdempotentAndLeavesBaseline(t *testing.T) {
	base := baseline()
	c := parser.Parse("only soccer under $400")
	first := Apply(base, c)
	second := Apply(base, c)
	assert.Equal(t, first, second)
	assert.Equal(t, baseline(), base)

	first[0].Name = "mutated"
	assert.Equal(t, "A", base[0].Name)
}

func TestApplyAgeCeilingKeepsPrices(t *testing.T) {
	intPtr := func(v int) *int { return &v }
	base := []camp.Record{
		{ID: 1, Name: "Teen Sail", MinAge: intPtr(13), PricePerWeek: floatPtr(500)},
		{ID: 2, Name: "Little Kickers", MinAge: intPtr(5), PricePerWeek: floatPtr(300)},
		{ID: 3, Name: "Open Art", PricePerWeek: floatPtr(250)},
	}
	got := Apply(base, parser.Parse("only the ones for kids under 12"))
	assert.Equal(t, []int64{2, 3}, ids(got))
}

func TestApplyEmptyBaseline(t *testing.T) {
	assert.Empty(t, Apply(nil, parser.Parse("first three")))
}

type fakeExtractor struct {
	criteria camp.FilterCriteria
	err      error
	calls    int
}

func (f *fakeExtractor) ExtractCriteria(context.Context, string, []string) (camp.FilterCriteria, error) {
	f.calls++
	return f.criteria, f.err
}

func TestRunUsesParsedCriteriaWithoutAssist(t *testing.T) {
	assist := &fakeExtractor{}
	f := New(assist, nil)
	msg := "only the art ones"
	out, err := f.Run(context.Background(), baseline(), msg, parser.Parse(msg), nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(out.Records))
	assert.False(t, out.Assisted)
	assert.Zero(t, assist.calls)
}

func TestRunAmbiguousWithoutAssist(t *testing.T) {
	_, err := New(nil, nil).Run(context.Background(), baseline(), "only the good ones", camp.FilterCriteria{}, nil)
	assert.ErrorIs(t, err, ErrAmbiguous)
}

func TestRunFallsBackToAssist(t *testing.T) {
	assist := &fakeExtractor{criteria: camp.FilterCriteria{MaxPrice: floatPtr(190)}}
	out, err := New(assist, nil).Run(context.Background(), baseline(), "the affordable ones", camp.FilterCriteria{}, []string{"Soccer"})
	require.NoError(t, err)
	assert.True(t, out.Assisted)
	assert.Equal(t, []int64{2, 4}, ids(out.Records))
}

func TestRunAssistFindsNothing(t *testing.T) {
	assist := &fakeExtractor{}
	_, err := New(assist, nil).Run(context.Background(), baseline(), "hmm", camp.FilterCriteria{}, nil)
	assert.ErrorIs(t, err, ErrAmbiguous)
	assert.Equal(t, 1, assist.calls)
}

func TestRunAssistFailure(t *testing.T) {
	assist := &fakeExtractor{err: errors.New("timeout")}
	_, err := New(assist, nil).Run(context.Background(), baseline(), "hmm", camp.FilterCriteria{}, nil)
	assert.ErrorIs(t, err, ErrAssistUnavailable)
	assert.NotErrorIs(t, err, ErrAmbiguous)
}
