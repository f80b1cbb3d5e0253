package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

// vanishingPage reports the queried text as present for the first `present`
// queries, then as gone.
type vanishingPage struct {
	schemas.Page
	present int
	queries int
	err     error
}

func (p *vanishingPage) QueryAll(ctx context.Context, _ string) ([]schemas.ElementHandle, error) {
	p.queries++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.queries <= p.present {
		return []schemas.ElementHandle{&fakeText{}}, nil
	}
	return nil, nil
}

func TestLandmarkPresent(t *testing.T) {
	browser := &fakeBrowser{portal: newFakePortal(seedUsers(2)...)}
	page := &fakePage{browser: browser, portal: browser.portal, stage: "dashboard", listPage: 1}
	ctx := context.Background()

	ok, err := landmarkPresent(ctx, page, "user2@example.com", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = landmarkPresent(ctx, page, "ghost@example.com", time.Second)
	require.NoError(t, err, "a missing landmark is a negative answer, not an error")
	assert.False(t, ok)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = landmarkPresent(cancelled, page, "user2@example.com", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLandmarkAbsent(t *testing.T) {
	ctx := context.Background()

	t.Run("polls until the text disappears", func(t *testing.T) {
		page := &vanishingPage{present: 3}
		gone, err := landmarkAbsent(ctx, page, "x", time.Second, time.Millisecond)
		require.NoError(t, err)
		assert.True(t, gone)
		assert.Equal(t, 4, page.queries)
	})

	t.Run("still present at the deadline", func(t *testing.T) {
		page := &vanishingPage{present: 1 << 30}
		gone, err := landmarkAbsent(ctx, page, "x", 15*time.Millisecond, time.Millisecond)
		require.NoError(t, err)
		assert.False(t, gone)
		assert.Greater(t, page.queries, 1)
	})

	t.Run("query failures count as present", func(t *testing.T) {
		page := &vanishingPage{err: errors.New("target closed")}
		gone, err := landmarkAbsent(ctx, page, "x", 10*time.Millisecond, time.Millisecond)
		require.NoError(t, err)
		assert.False(t, gone)
	})

	t.Run("cancellation is reported", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		gone, err := landmarkAbsent(cancelled, &vanishingPage{present: 5}, "x", time.Second, time.Millisecond)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, gone)
	})
}

func TestLocatorHelpers(t *testing.T) {
	assert.Equal(t, `text="Jane \"JJ\" Doe"`, textLocator(`Jane "JJ" Doe`))
	assert.Equal(t, `tr:has-text("jane@example.com")`, rowLocator("jane@example.com"))
}
