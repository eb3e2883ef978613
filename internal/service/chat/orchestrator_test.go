package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zhouzirui/camp-guide/backend/internal/analysis/criteria"
	"github.com/zhouzirui/camp-guide/backend/internal/analysis/intent"
	"github.com/zhouzirui/camp-guide/backend/internal/geo"
	"github.com/zhouzirui/camp-guide/backend/internal/model/camp"
	"github.com/zhouzirui/camp-guide/backend/internal/model/chat"
	"github.com/zhouzirui/camp-guide/backend/internal/repository/campdb"
	"github.com/zhouzirui/camp-guide/backend/internal/service/ai"
	"github.com/zhouzirui/camp-guide/backend/internal/service/filter"
	"github.com/zhouzirui/camp-guide/backend/internal/service/profile"
	"github.com/zhouzirui/camp-guide/backend/internal/service/search"
	"github.com/zhouzirui/camp-guide/backend/internal/service/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const fixtureCatalog = `
camps:
  - {id: 1, name: Alpha Soccer, location: {city: Hanford, state: CA, latitude: 36.342, longitude: -119.653}, price: 350, min_grade: 0, max_grade: 8, categories: [Soccer]}
  - {id: 2, name: Bravo Art, location: {city: Hanford, state: CA, latitude: 36.329, longitude: -119.646}, price: 180, min_grade: 0, max_grade: 8, categories: [Art]}
  - {id: 3, name: Charlie Soccer, location: {city: Lemoore, state: CA, latitude: 36.301, longitude: -119.783}, price: 150, min_grade: 0, max_grade: 8, categories: [Soccer]}
  - {id: 4, name: Delta Soccer, location: {city: Hanford, state: CA, latitude: 36.335, longitude: -119.650}, price: 220, min_grade: 0, max_grade: 8, categories: [Soccer]}
  - {id: 5, name: Echo Art, location: {city: Lemoore, state: CA, latitude: 36.300, longitude: -119.780}, price: 400, min_grade: 0, max_grade: 8, categories: [Art]}
  - {id: 6, name: Foxtrot Soccer, location: {city: San Jose, state: CA, latitude: 37.352, longitude: -121.881}, price: 100, min_grade: 0, max_grade: 8, categories: [Soccer]}
  - {id: 7, name: Golf Swim, location: {city: Hanford, state: CA, latitude: 36.330, longitude: -119.640}, price: 120, min_grade: 0, max_grade: 8, categories: [Swimming]}
  - {id: 8, name: Hotel Tennis, location: {city: Lemoore, state: CA, latitude: 36.302, longitude: -119.781}, price: 90, min_grade: 0, max_grade: 8, categories: [Tennis]}
`

var profileAnswers = []string{"Jane", "Sam", "8", "3rd grade", "soccer, art", "123 Main St, CA", "25"}

type flakyRepo struct {
	*campdb.Catalog
	fail atomic.Bool
}

func (r *flakyRepo) Query(ctx context.Context, c camp.FilterCriteria) ([]camp.Record, error) {
	if r.fail.Load() {
		return nil, errors.New("connection reset by peer")
	}
	return r.Catalog.Query(ctx, c)
}

type fakeCompleter struct {
	mu       sync.Mutex
	reply    ai.Reply
	err      error
	delay    time.Duration
	contexts []string
	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeCompleter) Complete(_ context.Context, _ []chat.Turn, _ string, sessionContext string) (ai.Reply, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contexts = append(f.contexts, sessionContext)
	return f.reply, f.err
}

type fakeExtractor struct{ err error }

func (f fakeExtractor) ExtractCriteria(context.Context, string, []string) (camp.FilterCriteria, error) {
	return camp.FilterCriteria{}, f.err
}

type harness struct {
	orch      *Orchestrator
	repo      *flakyRepo
	store     *session.MemoryStore
	completer *fakeCompleter
}

type harnessOption func(*Deps)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	catalog, err := campdb.NewCatalog([]byte(fixtureCatalog))
	require.NoError(t, err)
	repo := &flakyRepo{Catalog: catalog}

	ctx := context.Background()
	records, err := catalog.Query(ctx, camp.FilterCriteria{})
	require.NoError(t, err)
	cats, err := catalog.Categories(ctx)
	require.NoError(t, err)

	g := geo.NewTableGeocoder()
	campdb.RegisterLocations(g, records)
	parser := criteria.NewParser(criteria.Vocabulary{Categories: cats, Places: campdb.Places(records)})

	store := session.NewMemoryStore(time.Hour, 0)
	completer := &fakeCompleter{reply: ai.Reply{AgentID: "concierge", Text: "Happy to help!"}}
	deps := Deps{
		Sessions:   session.NewManager(store, nil),
		Classifier: intent.NewClassifier(parser),
		Profile:    profile.NewFSM(catalog, nil),
		Search:     search.NewExecutor(repo, parser, g, nil, search.Options{DistanceWorkers: 4}, nil),
		Filter:     filter.New(nil, nil),
		Completion: completer,
		Categories: catalog,
		Composer:   NewComposer(10, nil),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	orch, err := NewOrchestrator(deps)
	require.NoError(t, err)
	return &harness{orch: orch, repo: repo, store: store, completer: completer}
}

func (h *harness) send(t *testing.T, key, message string) TurnResponse {
	t.Helper()
	resp, err := h.orch.HandleTurn(context.Background(), TurnRequest{Message: message, SessionID: key})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionID)
	return resp
}

// onboard runs the welcome turn and the seven answers, returning the session key.
func (h *harness) onboard(t *testing.T) string {
	t.Helper()
	resp := h.send(t, "", "Hi")
	key := resp.SessionID
	for _, answer := range profileAnswers {
		resp = h.send(t, key, answer)
	}
	require.True(t, resp.Context.ProfileComplete)
	return key
}

func (h *harness) stored(t *testing.T, key string) *chat.Session {
	t.Helper()
	s, err := h.store.Load(context.Background(), key)
	require.NoError(t, err)
	return s
}

func ids(records []camp.Record) []int64 {
	out := make([]int64, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestProfileScenario(t *testing.T) {
	h := newHarness(t)

	first := h.send(t, "", "Hi")
	assert.Equal(t, intent.ProfileStep, first.Context.Intent)
	assert.Contains(t, first.Response, "what's your name?")
	assert.True(t, first.Context.NewSession)
	assert.Equal(t, chat.StepParentName, first.Context.DialogStep)
	key := first.SessionID

	prev := first.Context.DialogStep
	var last TurnResponse
	for _, answer := range profileAnswers {
		last = h.send(t, key, answer)
		assert.Equal(t, key, last.SessionID)
		assert.Equal(t, intent.ProfileStep, last.Context.Intent)
		assert.Greater(t, last.Context.DialogStep, prev, "answer %q did not advance", answer)
		prev = last.Context.DialogStep
	}

	assert.Equal(t, chat.StepComplete, last.Context.DialogStep)
	assert.True(t, last.Context.ProfileComplete)
	assert.Contains(t, last.Response, "profile is complete")
	assert.Equal(t, 8, last.Context.ConversationLength)
	assert.False(t, last.Context.HasCachedResults)

	s := h.stored(t, key)
	assert.Equal(t, "Jane", s.Profile.ParentName)
	assert.Equal(t, "Sam", s.Profile.ChildName)
	require.NotNil(t, s.Profile.ChildGrade)
	assert.Equal(t, 3, *s.Profile.ChildGrade)
	assert.Len(t, s.History, 16)
}

func TestProfileValidationRepromptsWithoutAdvancing(t *testing.T) {
	h := newHarness(t)
	key := h.send(t, "", "Hi").SessionID
	h.send(t, key, "Jane")
	h.send(t, key, "Sam")

	for _, bad := range []string{"3", "19", "old enough"} {
		resp := h.send(t, key, bad)
		assert.Equal(t, chat.StepChildAge, resp.Context.DialogStep)
		assert.Equal(t, "validation_error", resp.Context.Condition)
		assert.Contains(t, resp.Response, "How old is Sam?")
	}
	assert.Equal(t, chat.StepChildGrade, h.send(t, key, "8").Context.DialogStep)
}

func TestSearchThenFilter(t *testing.T) {
	h := newHarness(t)
	key := h.onboard(t)

	found := h.send(t, key, "Find soccer camps")
	assert.Equal(t, intent.Search, found.Context.Intent)
	assert.False(t, found.Context.HasCachedResults)
	assert.Equal(t, []int64{1, 3, 4}, ids(found.Context.Results))
	assert.Equal(t, len(h.stored(t, key).LastResults), found.Context.SearchCount)
	assert.Contains(t, found.Response, "Alpha Soccer")
	assert.NotContains(t, found.Response, "Foxtrot Soccer", "outside the travel radius")

	cheap := h.send(t, key, "any under $200 per week?")
	assert.Equal(t, intent.Filter, cheap.Context.Intent)
	assert.True(t, cheap.Context.HasCachedResults)
	assert.Equal(t, []int64{3}, ids(cheap.Context.Results))
	for _, r := range cheap.Context.Results {
		assert.LessOrEqual(t, *r.PricePerWeek, 200.0)
	}

	again := h.send(t, key, "any under $200 per week?")
	assert.Equal(t, cheap.Context.Results, again.Context.Results)

	assert.Equal(t, []int64{1, 3, 4}, ids(h.stored(t, key).LastResults), "filtering must not touch the baseline")
}

func TestProfileCompletionIsLoggedOnce(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := newHarness(t, func(d *Deps) { d.Logger = zap.New(core) })
	key := h.onboard(t)
	h.send(t, key, "Find soccer camps")

	done := logs.FilterMessage("profile completed").All()
	require.Len(t, done, 1)
	assert.Equal(t, key, done[0].ContextMap()["session"])
	assert.Equal(t, int64(2), done[0].ContextMap()["interests"])
}

func TestAgeFollowUpIsNotReadAsPrice(t *testing.T) {
	h := newHarness(t)
	key := h.onboard(t)

	found := h.send(t, key, "find soccer camps for kids under 10")
	assert.Equal(t, intent.Search, found.Context.Intent)
	assert.Equal(t, []int64{1, 3, 4}, ids(found.Context.Results))

	narrowed := h.send(t, key, "only the ones for kids under 12")
	assert.Equal(t, intent.Filter, narrowed.Context.Intent)
	assert.Empty(t, narrowed.Context.Condition)
	assert.Equal(t, []int64{1, 3, 4}, ids(narrowed.Context.Results))
}

func TestFilterUsesNewBaselineAfterSearch(t *testing.T) {
	h := newHarness(t)
	key := h.onboard(t)

	h.send(t, key, "Find soccer camps")
	redo := h.send(t, key, "search again")
	assert.Equal(t, intent.Search, redo.Context.Intent)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids(redo.Context.Results))

	top := h.send(t, key, "what about the first three?")
	assert.Equal(t, intent.Filter, top.Context.Intent)
	assert.Equal(t, []int64{1, 2, 3}, ids(top.Context.Results))
	assert.Equal(t, 3, top.Context.SearchCount)
}

func TestSearchWithNoMatches(t *testing.T) {
	h := newHarness(t)
	key := h.onboard(t)

	resp := h.send(t, key, "find tennis camps under $50")
	assert.Equal(t, intent.Search, resp.Context.Intent)
	assert.Equal(t, 0, resp.Context.SearchCount)
	assert.Empty(t, resp.Context.Condition)
	assert.Contains(t, resp.Response, "couldn't find any camps")
	assert.False(t, h.stored(t, key).HasResults())
}

func TestSearchUnavailableKeepsBaseline(t *testing.T) {
	h := newHarness(t)
	key := h.onboard(t)
	h.send(t, key, "Find soccer camps")

	h.repo.fail.Store(true)
	resp := h.send(t, key, "search again for art camps")
	assert.Equal(t, intent.Search, resp.Context.Intent)
	assert.Equal(t, "search_unavailable", resp.Context.Condition)
	assert.Equal(t, 0, resp.Context.SearchCount)
	assert.Equal(t, searchUnavailableText, resp.Response)

	s := h.stored(t, key)
	assert.Equal(t, []int64{1, 3, 4}, ids(s.LastResults))
	last := s.History[len(s.History)-1]
	assert.True(t, last.Failed)
	assert.Equal(t, "search", last.Intent)
	assert.True(t, s.History[len(s.History)-2].Failed)
}

func TestAmbiguousFollowUpAsksForClarification(t *testing.T) {
	h := newHarness(t)
	key := h.onboard(t)
	h.send(t, key, "Find soccer camps")
	before := len(h.stored(t, key).History)

	resp := h.send(t, key, "only the good ones")
	assert.Equal(t, intent.General, resp.Context.Intent)
	assert.Equal(t, "ambiguous_intent", resp.Context.Condition)
	assert.Equal(t, clarifyFilterText, resp.Response)
	assert.Zero(t, resp.Context.SearchCount)
	assert.Len(t, h.stored(t, key).History, before+2)
}

func TestAssistFailureLeavesSessionUntouched(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Filter = filter.New(fakeExtractor{err: errors.New("model timeout")}, nil)
	})
	key := h.onboard(t)
	h.send(t, key, "Find soccer camps")
	before := h.stored(t, key)

	resp := h.send(t, key, "only the good ones")
	assert.Equal(t, "completion_unavailable", resp.Context.Condition)
	assert.Equal(t, completionUnavailableText, resp.Response)

	after := h.stored(t, key)
	assert.Equal(t, before.History, after.History)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestGeneralTurnUsesCompletion(t *testing.T) {
	h := newHarness(t)
	key := h.onboard(t)
	h.completer.reply = ai.Reply{AgentID: "educator", Text: "Look for accreditation and low staff ratios."}

	resp := h.send(t, key, "how do I choose a good camp?")
	assert.Equal(t, intent.General, resp.Context.Intent)
	assert.Equal(t, "educator", resp.Context.Agent)
	assert.Equal(t, "Look for accreditation and low staff ratios.", resp.Response)
	require.Len(t, h.completer.contexts, 1)
	assert.Contains(t, h.completer.contexts[0], "profile is complete")
}

func TestCompletionUnavailableLeavesSessionUntouched(t *testing.T) {
	h := newHarness(t)
	key := h.onboard(t)
	h.completer.err = errors.New("dial tcp: i/o timeout")
	before := h.stored(t, key)

	resp := h.send(t, key, "how do I choose a good camp?")
	assert.Equal(t, "completion_unavailable", resp.Context.Condition)
	assert.Equal(t, completionUnavailableText, resp.Response)
	assert.Equal(t, 8, resp.Context.ConversationLength)

	after := h.stored(t, key)
	assert.Equal(t, before.History, after.History)
}

func TestGeneralWithoutCompletionFallsBackToHelp(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Completion = nil })
	key := h.onboard(t)

	resp := h.send(t, key, "thanks!")
	assert.Equal(t, intent.General, resp.Context.Intent)
	assert.Equal(t, offlineHelpText, resp.Response)
	assert.Empty(t, resp.Context.Condition)
}

func TestEmptyMessageIsGeneral(t *testing.T) {
	h := newHarness(t)

	resp := h.send(t, "", "   ")
	assert.Equal(t, intent.General, resp.Context.Intent)
	assert.Contains(t, resp.Response, "what's your name?")

	next := h.send(t, resp.SessionID, "Jane")
	assert.Equal(t, chat.StepChildName, next.Context.DialogStep, "the answer after a blank welcome is consumed")

	again := h.send(t, resp.SessionID, "")
	assert.Equal(t, intent.General, again.Context.Intent)
	assert.True(t, strings.HasPrefix(again.Response, clarifyEmptyText))
	assert.Equal(t, chat.StepChildName, again.Context.DialogStep)
}

func TestMalformedSessionKeyStartsFreshSession(t *testing.T) {
	h := newHarness(t)
	resp := h.send(t, "not a valid key!", "Hi")
	assert.NotEqual(t, "not a valid key!", resp.SessionID)
	assert.True(t, session.ValidKey(resp.SessionID))
	assert.True(t, resp.Context.NewSession)
	assert.Equal(t, "invalid_session_key", resp.Context.Condition)

	follow := h.send(t, resp.SessionID, "Jane")
	assert.False(t, follow.Context.NewSession)
	assert.Empty(t, follow.Context.Condition)
}

func TestTurnsOnOneSessionAreSerialized(t *testing.T) {
	h := newHarness(t)
	key := h.onboard(t)
	h.completer.delay = 2 * time.Millisecond

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.HandleTurn(context.Background(), TurnRequest{Message: "thanks!", SessionID: key})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.completer.peak.Load())
	s := h.stored(t, key)
	assert.Len(t, s.History, 16+2*n)
	assert.Equal(t, 8+n, s.ConversationLength())
}
