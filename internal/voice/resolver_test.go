package voice

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/provider"
)

type mockAdapter struct {
	mock.Mock
	id        string
	available bool
	fallback  []provider.Voice
}

func (m *mockAdapter) ID() string        { return m.id }
func (m *mockAdapter) Name() string      { return m.id }
func (m *mockAdapter) IsAvailable() bool { return m.available }

func (m *mockAdapter) FallbackVoices() []provider.Voice {
	return m.fallback
}

func (m *mockAdapter) EstimateCost(characters int) float64 {
	return 0
}

func (m *mockAdapter) ListVoices(ctx context.Context, filter provider.VoiceFilter) ([]provider.Voice, error) {
	args := m.Called(ctx, filter)
	voices, _ := args.Get(0).([]provider.Voice)
	return voices, args.Error(1)
}

func (m *mockAdapter) Synthesize(ctx context.Context, req provider.SynthesisRequest) (*provider.AudioHandle, error) {
	return nil, errors.New("not used")
}

var staticVoices = []provider.Voice{
	{ID: "f1", Name: "F1", Gender: "female", Category: "premade", Language: "en"},
	{ID: "m1", Name: "M1", Gender: "male", Category: "premade", Language: "en"},
}

var liveVoices = []provider.Voice{
	{ID: "live-f", Name: "LF", Gender: "female", Category: "cloned", Language: "en"},
	{ID: "live-m", Name: "LM", Gender: "male", Category: "premade", Language: "de"},
}

func TestResolve_UnavailableUsesFallbackWithoutLanguage(t *testing.T) {
	a := &mockAdapter{id: "tts", available: false, fallback: staticVoices}
	r := NewResolver(provider.NewRegistry(a))

	res, err := r.Resolve(context.Background(), "tts", provider.VoiceFilter{Language: "ja", Gender: "male"})
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, res.Source)
	require.Len(t, res.Voices, 1)
	assert.Equal(t, "m1", res.Voices[0].ID)
	a.AssertNotCalled(t, "ListVoices", mock.Anything, mock.Anything)
}

func TestResolve_LiveList(t *testing.T) {
	a := &mockAdapter{id: "tts", available: true, fallback: staticVoices}
	a.On("ListVoices", mock.Anything, provider.VoiceFilter{}).Return(liveVoices, nil).Once()
	r := NewResolver(provider.NewRegistry(a))

	res, err := r.Resolve(context.Background(), "TTS", provider.VoiceFilter{})
	require.NoError(t, err)
	assert.Equal(t, SourceLive, res.Source)
	assert.Equal(t, 2, res.Total)
	a.AssertExpectations(t)
}

func TestResolve_LiveErrorFallsBack(t *testing.T) {
	a := &mockAdapter{id: "tts", available: true, fallback: staticVoices}
	a.On("ListVoices", mock.Anything, mock.Anything).Return(nil, &apperr.ProviderError{Provider: "tts", StatusCode: 503})
	r := NewResolver(provider.NewRegistry(a))

	res, err := r.Resolve(context.Background(), "tts", provider.VoiceFilter{})
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, res.Source)
	assert.Len(t, res.Voices, 2)
}

func TestResolve_FilterEmptiesLiveList(t *testing.T) {
	a := &mockAdapter{id: "tts", available: true, fallback: staticVoices}
	// adapter ignores the filter; the resolver applies it again
	a.On("ListVoices", mock.Anything, mock.Anything).Return(liveVoices, nil)
	r := NewResolver(provider.NewRegistry(a))

	res, err := r.Resolve(context.Background(), "tts", provider.VoiceFilter{Category: "professional"})
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, res.Source)
	assert.Len(t, res.Voices, 2)
}

func TestResolve_PanicIsAbsorbed(t *testing.T) {
	a := &mockAdapter{id: "tts", available: true, fallback: staticVoices}
	a.On("ListVoices", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("boom") })
	r := NewResolver(provider.NewRegistry(a))

	res, err := r.Resolve(context.Background(), "tts", provider.VoiceFilter{})
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, res.Source)
}

func TestResolve_StructuredAbsence(t *testing.T) {
	empty := &mockAdapter{id: "empty", available: false}
	other := &mockAdapter{id: "other", available: true, fallback: staticVoices}
	r := NewResolver(provider.NewRegistry(empty, other))

	_, err := r.Resolve(context.Background(), "empty", provider.VoiceFilter{Gender: "female"})
	var absent *apperr.NoVoicesAvailable
	require.True(t, errors.As(err, &absent))
	assert.Equal(t, "empty", absent.Provider)
	assert.Equal(t, map[string]string{"gender": "female"}, absent.Filters)
	assert.Equal(t, []string{"other"}, absent.Alternatives)

	_, err = r.Resolve(context.Background(), "unknown", provider.VoiceFilter{})
	require.True(t, errors.As(err, &absent))
	assert.Equal(t, []string{"other"}, absent.Alternatives)
}

// Every filter combination yields a non-empty list when the static catalog is
// non-empty, whatever the live catalog does.
func TestResolve_NeverEmptyWithFallback(t *testing.T) {
	languages := []string{"", "en", "de", "xx"}
	genders := []string{"", "male", "female", "neutral"}
	categories := []string{"", "premade", "cloned", "none"}
	behaviours := []struct {
		name      string
		available bool
		voices    []provider.Voice
		err       error
	}{
		{"unavailable", false, nil, nil},
		{"live", true, liveVoices, nil},
		{"empty", true, []provider.Voice{}, nil},
		{"error", true, nil, errors.New("network down")},
	}

	for _, b := range behaviours {
		for _, lang := range languages {
			for _, g := range genders {
				for _, c := range categories {
					a := &mockAdapter{id: "tts", available: b.available, fallback: staticVoices}
					a.On("ListVoices", mock.Anything, mock.Anything).Return(b.voices, b.err)
					r := NewResolver(provider.NewRegistry(a))

					filter := provider.VoiceFilter{Language: lang, Gender: g, Category: c}
					res, err := r.Resolve(context.Background(), "tts", filter)
					require.NoError(t, err, "%s %+v", b.name, filter)
					assert.NotEmpty(t, res.Voices, "%s %+v", b.name, filter)
				}
			}
		}
	}
}

func TestResolve_ConcurrentCallsShareFetch(t *testing.T) {
	a := &mockAdapter{id: "tts", available: true, fallback: staticVoices}
	a.On("ListVoices", mock.Anything, mock.Anything).Return(liveVoices, nil)
	r := NewResolver(provider.NewRegistry(a))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), "tts", provider.VoiceFilter{})
			assert.NoError(t, err)
			assert.Len(t, res.Voices, 2)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, len(a.Calls), 20)
}

func TestResolve_SharedFetchOutlivesFirstCaller(t *testing.T) {
	started := make(chan struct{})
	var startOnce sync.Once
	proceed := make(chan struct{})
	a := &mockAdapter{id: "tts", available: true, fallback: staticVoices}
	a.On("ListVoices", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		startOnce.Do(func() { close(started) })
		<-proceed
		assert.NoError(t, args.Get(0).(context.Context).Err())
	}).Return(liveVoices, nil)
	r := NewResolver(provider.NewRegistry(a))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan *Result, 1)
	go func() {
		res, _ := r.Resolve(firstCtx, "tts", provider.VoiceFilter{})
		firstDone <- res
	}()
	<-started

	secondDone := make(chan *Result, 1)
	go func() {
		res, _ := r.Resolve(context.Background(), "tts", provider.VoiceFilter{})
		secondDone <- res
	}()

	// the first client disconnects while the fetch is in flight
	cancelFirst()
	first := <-firstDone
	require.NotNil(t, first)
	assert.Equal(t, SourceFallback, first.Source)

	close(proceed)
	second := <-secondDone
	require.NotNil(t, second)
	assert.Equal(t, SourceLive, second.Source)
	a.AssertExpectations(t)
}

func TestValidate(t *testing.T) {
	a := &mockAdapter{id: "tts", available: false, fallback: staticVoices}
	r := NewResolver(provider.NewRegistry(a))

	assert.NoError(t, r.Validate(context.Background(), "tts", "f1"))
	assert.True(t, apperr.IsValidation(r.Validate(context.Background(), "tts", "zz")))
}
