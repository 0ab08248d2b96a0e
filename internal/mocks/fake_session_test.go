package mocks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

func TestFakeSession_RadioGroupIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewFakeSession("https://example.com/apply", "")
	s.Add(`input[name="relocate"][value="yes"]`, &FakeElement{Kind: schemas.FieldRadio, Group: "relocate"})
	s.Add(`input[name="relocate"][value="no"]`, &FakeElement{Kind: schemas.FieldRadio, Group: "relocate", Checked: true})

	require.NoError(t, s.Click(ctx, `input[name="relocate"][value="yes"]`))

	yes, _ := s.ReadValue(ctx, `input[name="relocate"][value="yes"]`)
	no, _ := s.ReadValue(ctx, `input[name="relocate"][value="no"]`)
	assert.Equal(t, "true", yes)
	assert.Equal(t, "false", no)
}

func TestFakeSession_StickyValueAndMissingElement(t *testing.T) {
	ctx := context.Background()
	stuck := "555"
	s := NewFakeSession("", "").Add("#phone", &FakeElement{Kind: schemas.FieldTel, Sticky: &stuck})

	require.NoError(t, s.SetValue(ctx, "#phone", "+1 202 555 0100"))
	v, err := s.ReadValue(ctx, "#phone")
	require.NoError(t, err)
	assert.Equal(t, "555", v)

	assert.ErrorIs(t, s.SetValue(ctx, "#missing", "x"), ErrFakeElementNotFound)
}

func TestFakeSession_DelayHonoursContext(t *testing.T) {
	s := NewFakeSession("", "")
	s.Delay = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.Navigate(ctx, "https://example.com")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFakeSessionProvider_Counts(t *testing.T) {
	p := &FakeSessionProvider{New: func() *FakeSession { return NewFakeSession("", "") }}
	s1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	s2, err := p.Acquire(context.Background())
	require.NoError(t, err)

	p.Release(s1)
	p.Discard(s2)

	a, r, d := p.Counts()
	assert.Equal(t, [3]int{2, 1, 1}, [3]int{a, r, d})
	assert.Zero(t, p.Outstanding())
}
