package mocks

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

// ErrFakeElementNotFound is returned by FakeSession for unknown selectors.
var ErrFakeElementNotFound = errors.New("fake session: element not found")

// FakeElement is one control on a FakeSession page.
type FakeElement struct {
	Kind    schemas.FieldKind
	Value   string
	Checked bool
	// Group links radio inputs; clicking one unchecks the others.
	Group string
	// Options restricts SelectOption to these values or labels.
	Options []string
	Files   []string
	// Sticky, when set, is the value the page keeps regardless of input.
	Sticky *string
}

// FakeSession is an in-memory page that implements schemas.BrowserSession.
// Tests describe the page with HTML for extraction and Elements for filling.
type FakeSession struct {
	mu sync.Mutex

	SessionID string
	HTML      string
	URL       string
	Text      string
	Elements  map[string]*FakeElement

	// OnClick runs after a click, for example to simulate a submit.
	OnClick func(s *FakeSession, selector string)
	// OnScript handles ExecuteScript calls.
	OnScript func(script string, res interface{}) error

	// Delay blocks every operation until it elapses or ctx is done.
	Delay       time.Duration
	NavigateErr error

	Calls   []string
	Scripts []string
}

var _ schemas.BrowserSession = (*FakeSession)(nil)

// NewFakeSession returns a session showing html at url.
func NewFakeSession(url, html string) *FakeSession {
	return &FakeSession{
		SessionID: "fake-" + strconv.FormatInt(time.Now().UnixNano(), 36),
		URL:       url,
		HTML:      html,
		Elements:  make(map[string]*FakeElement),
	}
}

// Add registers a control under selector.
func (s *FakeSession) Add(selector string, el *FakeElement) *FakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Elements[selector] = el
	return s
}

// Element returns a copy of the control registered under selector.
func (s *FakeSession) Element(selector string) (FakeElement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.Elements[selector]
	if !ok {
		return FakeElement{}, false
	}
	return *el, true
}

// Remove deletes a control, as when a page redesign drops a field.
func (s *FakeSession) Remove(selector string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Elements, selector)
}

// SetPage replaces the URL and visible text, as a navigation would.
func (s *FakeSession) SetPage(url, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.URL = url
	s.Text = text
}

// CallLog returns a copy of the recorded operations.
func (s *FakeSession) CallLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Calls...)
}

func (s *FakeSession) begin(ctx context.Context, call string) error {
	s.mu.Lock()
	s.Calls = append(s.Calls, call)
	delay := s.Delay
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return ctx.Err()
}

func (s *FakeSession) ID() string { return s.SessionID }

func (s *FakeSession) Navigate(ctx context.Context, url string) error {
	if err := s.begin(ctx, "navigate "+url); err != nil {
		return err
	}
	if s.NavigateErr != nil {
		return s.NavigateErr
	}
	s.mu.Lock()
	s.URL = url
	s.mu.Unlock()
	return nil
}

func (s *FakeSession) WaitStable(ctx context.Context) error {
	return s.begin(ctx, "wait")
}

func (s *FakeSession) PageHTML(ctx context.Context) (string, error) {
	if err := s.begin(ctx, "html"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.HTML, nil
}

func (s *FakeSession) lookup(selector string) (*FakeElement, error) {
	el, ok := s.Elements[selector]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFakeElementNotFound, selector)
	}
	return el, nil
}

func (s *FakeSession) SetValue(ctx context.Context, selector, value string) error {
	if err := s.begin(ctx, "set "+selector); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.lookup(selector)
	if err != nil {
		return err
	}
	el.Value = value
	if el.Sticky != nil {
		el.Value = *el.Sticky
	}
	return nil
}

func (s *FakeSession) SelectOption(ctx context.Context, selector, value string) error {
	if err := s.begin(ctx, "select "+selector); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.lookup(selector)
	if err != nil {
		return err
	}
	if len(el.Options) > 0 {
		found := false
		for _, o := range el.Options {
			if o == value {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: option %q", ErrFakeElementNotFound, value)
		}
	}
	el.Value = value
	return nil
}

func (s *FakeSession) SetChecked(ctx context.Context, selector string, checked bool) error {
	if err := s.begin(ctx, "check "+selector); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.lookup(selector)
	if err != nil {
		return err
	}
	el.Checked = checked
	return nil
}

func (s *FakeSession) SetFiles(ctx context.Context, selector string, paths []string) error {
	if err := s.begin(ctx, "files "+selector); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.lookup(selector)
	if err != nil {
		return err
	}
	el.Files = append([]string(nil), paths...)
	if len(paths) > 0 {
		el.Value = `C:\fakepath\` + filepath.Base(paths[0])
	}
	return nil
}

func (s *FakeSession) Click(ctx context.Context, selector string) error {
	if err := s.begin(ctx, "click "+selector); err != nil {
		return err
	}
	s.mu.Lock()
	el, err := s.lookup(selector)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	switch el.Kind {
	case schemas.FieldRadio:
		for _, other := range s.Elements {
			if other.Kind == schemas.FieldRadio && other.Group == el.Group {
				other.Checked = false
			}
		}
		el.Checked = true
	case schemas.FieldCheckbox:
		el.Checked = !el.Checked
	}
	hook := s.OnClick
	s.mu.Unlock()

	if hook != nil {
		hook(s, selector)
	}
	return nil
}

func (s *FakeSession) ReadValue(ctx context.Context, selector string) (string, error) {
	if err := s.begin(ctx, "read "+selector); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.lookup(selector)
	if err != nil {
		return "", err
	}
	if el.Kind == schemas.FieldCheckbox || el.Kind == schemas.FieldRadio {
		return strconv.FormatBool(el.Checked), nil
	}
	return el.Value, nil
}

func (s *FakeSession) Exists(ctx context.Context, selector string) (bool, error) {
	if err := s.begin(ctx, "exists "+selector); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Elements[selector]
	return ok, nil
}

func (s *FakeSession) CurrentURL(ctx context.Context) (string, error) {
	if err := s.begin(ctx, "url"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.URL, nil
}

func (s *FakeSession) TextContent(ctx context.Context) (string, error) {
	if err := s.begin(ctx, "text"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Text, nil
}

func (s *FakeSession) ExecuteScript(ctx context.Context, script string, res interface{}) error {
	if err := s.begin(ctx, "script"); err != nil {
		return err
	}
	s.mu.Lock()
	s.Scripts = append(s.Scripts, script)
	hook := s.OnScript
	s.mu.Unlock()
	if hook != nil {
		return hook(script, res)
	}
	return nil
}

// FakeSessionProvider hands out sessions built by New and records their fate.
type FakeSessionProvider struct {
	mu sync.Mutex

	New        func() *FakeSession
	AcquireErr error

	Acquired  int
	Released  int
	Discarded int
	Sessions  []*FakeSession
}

var _ schemas.SessionProvider = (*FakeSessionProvider)(nil)

func (p *FakeSessionProvider) Acquire(ctx context.Context) (schemas.BrowserSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AcquireErr != nil {
		return nil, p.AcquireErr
	}
	s := p.New()
	p.Acquired++
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

func (p *FakeSessionProvider) Release(schemas.BrowserSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Released++
}

func (p *FakeSessionProvider) Discard(schemas.BrowserSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Discarded++
}

// Outstanding returns acquired sessions not yet released or discarded.
func (p *FakeSessionProvider) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Acquired - p.Released - p.Discarded
}

// Counts returns the acquire, release and discard totals.
func (p *FakeSessionProvider) Counts() (acquired, released, discarded int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Acquired, p.Released, p.Discarded
}
