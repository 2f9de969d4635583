package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterharvest/internal/harvest"
)

func TestChromedpFactoryDefaults(t *testing.T) {
	t.Parallel()

	f := NewChromedpFactory(ChromedpConfig{Headless: true}, nil)
	require.Equal(t, 60*time.Second, f.cfg.PageLoadTimeout)
	require.Equal(t, 1920, f.cfg.WindowWidth)
	require.Equal(t, 1080, f.cfg.WindowHeight)
	require.Equal(t, DefaultUserAgents, f.cfg.UserAgents)

	headful, ok := f.WithHeadless(false).(*ChromedpFactory)
	require.True(t, ok)
	require.False(t, headful.cfg.Headless)
	require.True(t, f.cfg.Headless, "WithHeadless must not mutate the receiver")

	base := len(f.allocatorOptions(""))
	require.Equal(t, base+1, len(f.allocatorOptions("agent")))
}

// TestChromedpSessionRendersScripts drives a real browser when one is
// available.
func TestChromedpSessionRendersScripts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><head><title>Chapter</title></head><body><script>
setTimeout(function(){ var d = document.createElement('div'); d.id = 'content'; d.textContent = 'late content'; document.body.appendChild(d); }, 100);
</script></body></html>`)
	}))
	defer srv.Close()

	factory := NewChromedpFactory(ChromedpConfig{Headless: true, PageLoadTimeout: 10 * time.Second}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sess, err := factory.NewSession(ctx)
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer func() { require.NoError(t, sess.Quit()) }()

	if err := sess.Navigate(ctx, srv.URL); err != nil {
		t.Skipf("navigate failed: %v", err)
	}
	require.NoError(t, sess.WaitVisible(ctx, "#content", 5*time.Second))
	el, err := sess.Find(ctx, "#content")
	require.NoError(t, err)
	require.Equal(t, "late content", el.Text())

	title, err := sess.Title(ctx)
	require.NoError(t, err)
	require.Equal(t, "Chapter", title)

	err = sess.WaitVisible(ctx, "#never", 200*time.Millisecond)
	require.ErrorIs(t, err, harvest.ErrContentTimeout)
}
