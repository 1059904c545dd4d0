package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openscribe/transcriber/internal/media"
	"github.com/openscribe/transcriber/internal/selector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	probe media.Probe
	err   error
	delay time.Duration
	calls atomic.Int64
}

func (f *fakeProber) Probe(_ context.Context, _ media.Ref) (media.Probe, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.probe, f.err
}

type memProbeCache struct {
	mu      sync.Mutex
	entries map[string]media.Probe
}

func newMemProbeCache() *memProbeCache {
	return &memProbeCache{entries: make(map[string]media.Probe)}
}

func (m *memProbeCache) GetProbe(_ context.Context, key string, _ time.Time) (media.Probe, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	probe, ok := m.entries[key]
	return probe, ok, nil
}

func (m *memProbeCache) PutProbe(_ context.Context, key string, probe media.Probe, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = probe
	return nil
}

func youtubeRequest() selector.Request {
	return selector.Request{Media: media.Ref{URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}}
}

func TestRoute_YouTubeWithCaptions_InlineRegardlessOfLength(t *testing.T) {
	prober := &fakeProber{probe: media.Probe{
		Duration:      7200,
		CaptionTracks: []media.CaptionTrack{{Language: "en"}},
		Platform:      media.PlatformYouTube,
	}}
	policy := NewPolicy(prober, nil, 5*time.Minute)

	assert.Equal(t, RouteInline, policy.Route(context.Background(), youtubeRequest()))
}

func TestRoute_LongVideoWithThirdLanguageCaptions_Async(t *testing.T) {
	// the only track is neither the source nor the requested language, so
	// the transcription would run recognition; duration gate must apply
	prober := &fakeProber{probe: media.Probe{
		Duration:       7200,
		SourceLanguage: "en",
		CaptionTracks:  []media.CaptionTrack{{Language: "fr", AutoGenerated: true}},
		Platform:       media.PlatformYouTube,
	}}
	policy := NewPolicy(prober, nil, 5*time.Minute)

	req := youtubeRequest()
	req.TranslateTo = "es"
	assert.Equal(t, RouteAsync, policy.Route(context.Background(), req))
}

func TestRoute_LongVideoWithSourceCaptions_TranslationStaysInline(t *testing.T) {
	prober := &fakeProber{probe: media.Probe{
		Duration:       7200,
		SourceLanguage: "en",
		CaptionTracks:  []media.CaptionTrack{{Language: "en"}},
		Platform:       media.PlatformYouTube,
	}}
	policy := NewPolicy(prober, nil, 5*time.Minute)

	req := youtubeRequest()
	req.TranslateTo = "es"
	assert.Equal(t, RouteInline, policy.Route(context.Background(), req))
}

func TestRoute_ShortMediaWithoutCaptions_Inline(t *testing.T) {
	prober := &fakeProber{probe: media.Probe{Duration: 90, Platform: media.PlatformGeneric}}
	policy := NewPolicy(prober, nil, 5*time.Minute)

	req := selector.Request{Media: media.Ref{URL: "https://example.com/clip.mp3"}}
	assert.Equal(t, RouteInline, policy.Route(context.Background(), req))
}

func TestRoute_LongMediaWithoutCaptions_Async(t *testing.T) {
	prober := &fakeProber{probe: media.Probe{Duration: 3600, Platform: media.PlatformYouTube}}
	policy := NewPolicy(prober, nil, 5*time.Minute)

	assert.Equal(t, RouteAsync, policy.Route(context.Background(), youtubeRequest()))
}

func TestRoute_UnknownDuration_FailsSafeToAsync(t *testing.T) {
	prober := &fakeProber{probe: media.Probe{Duration: 0}}
	policy := NewPolicy(prober, nil, 5*time.Minute)

	req := selector.Request{Media: media.Ref{UploadPath: "/data/uploads/a.mp3"}}
	assert.Equal(t, RouteAsync, policy.Route(context.Background(), req))
}

func TestRoute_ProbeFailure_FailsSafeToAsync(t *testing.T) {
	prober := &fakeProber{err: errors.New("network down")}
	policy := NewPolicy(prober, nil, 5*time.Minute)

	assert.Equal(t, RouteAsync, policy.Route(context.Background(), youtubeRequest()))
}

func TestRoute_CacheServesRepeatProbes(t *testing.T) {
	prober := &fakeProber{probe: media.Probe{Duration: 90}}
	policy := NewPolicy(prober, newMemProbeCache(), 5*time.Minute)

	req := selector.Request{Media: media.Ref{URL: "https://example.com/clip.mp3"}}
	require.Equal(t, RouteInline, policy.Route(context.Background(), req))
	require.Equal(t, RouteInline, policy.Route(context.Background(), req))

	assert.EqualValues(t, 1, prober.calls.Load())
}

func TestRoute_ConcurrentProbesCollapse(t *testing.T) {
	prober := &fakeProber{
		probe: media.Probe{Duration: 90},
		delay: 50 * time.Millisecond,
	}
	policy := NewPolicy(prober, nil, 5*time.Minute)
	req := selector.Request{Media: media.Ref{URL: "https://example.com/clip.mp3"}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, RouteInline, policy.Route(context.Background(), req))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, prober.calls.Load())
}
