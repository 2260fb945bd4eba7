package form_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"kbquery-backend/internal/form"
	"kbquery-backend/internal/form/formtest"
)

func newController(clock *formtest.Clock) (*form.Controller, *formtest.Display, *formtest.Notifier) {
	display := &formtest.Display{}
	notifier := &formtest.Notifier{}
	c := form.NewController(display, notifier, form.Options{Clock: clock})
	return c, display, notifier
}

func TestBlankQueryIsRejected(t *testing.T) {
	for _, q := range []string{"", "   ", "\t\n"} {
		clock := &formtest.Clock{}
		c, display, notifier := newController(clock)

		sub, err := c.HandleSubmit(q, "some context")
		if !errors.Is(err, form.ErrEmptyQuery) {
			t.Fatalf("HandleSubmit(%q) err = %v, want ErrEmptyQuery", q, err)
		}
		if sub != nil {
			t.Fatalf("HandleSubmit(%q) returned a submission", q)
		}
		if notifier.Count() != 1 {
			t.Fatalf("HandleSubmit(%q) notified %d times, want 1", q, notifier.Count())
		}
		if notifier.Messages[0] == "" {
			t.Fatal("notification message is empty")
		}
		if _, renders := display.Snapshot(); renders != 0 {
			t.Fatalf("display rendered %d times for rejected input", renders)
		}
		if clock.Pending() != 0 {
			t.Fatal("rejected submission scheduled a timer")
		}
		if c.State().Kind != form.Idle {
			t.Fatalf("state = %v, want idle", c.State().Kind)
		}
	}
}

func TestRepeatedRejectionLeavesNoState(t *testing.T) {
	clock := &formtest.Clock{}
	c, display, notifier := newController(clock)

	for i := 0; i < 3; i++ {
		if _, err := c.HandleSubmit("  ", ""); !errors.Is(err, form.ErrEmptyQuery) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}
	if notifier.Count() != 3 {
		t.Fatalf("notified %d times, want 3", notifier.Count())
	}
	for _, m := range notifier.Messages {
		if m != form.DefaultEmptyQueryMessage {
			t.Fatalf("message = %q", m)
		}
	}
	if _, renders := display.Snapshot(); renders != 0 {
		t.Fatal("display mutated")
	}
	if c.Seq() != 0 {
		t.Fatalf("seq = %d after rejections", c.Seq())
	}
}

func TestRejectionKeepsPriorContent(t *testing.T) {
	clock := &formtest.Clock{}
	c, display, notifier := newController(clock)

	if _, err := c.HandleSubmit("weather", "Paris, today"); err != nil {
		t.Fatalf("HandleSubmit: %v", err)
	}
	clock.Advance(form.DefaultDelay)
	before, renders := display.Snapshot()

	if _, err := c.HandleSubmit("   ", ""); !errors.Is(err, form.ErrEmptyQuery) {
		t.Fatalf("err = %v", err)
	}
	after, rendersAfter := display.Snapshot()
	if after != before || rendersAfter != renders {
		t.Fatal("rejected submission changed the display")
	}
	if notifier.Count() != 1 {
		t.Fatalf("notified %d times", notifier.Count())
	}
}

func TestEmptyContextUsesFallback(t *testing.T) {
	clock := &formtest.Clock{}
	c, display, _ := newController(clock)

	sub, err := c.HandleSubmit("capital of France", "")
	if err != nil {
		t.Fatalf("HandleSubmit: %v", err)
	}

	content, _ := display.Snapshot()
	if !strings.Contains(content, "Processing your query...") {
		t.Fatalf("pending content = %q", content)
	}
	if !strings.Contains(content, "capital of France") {
		t.Fatalf("pending content missing query: %q", content)
	}
	if c.State().Kind != form.Pending {
		t.Fatalf("state = %v, want pending", c.State().Kind)
	}

	clock.Advance(form.DefaultDelay - time.Millisecond)
	if c.State().Kind != form.Pending {
		t.Fatal("result rendered before the delay elapsed")
	}

	clock.Advance(time.Millisecond)
	content, _ = display.Snapshot()
	for _, want := range []string{
		"<h3>Response:</h3>",
		"<strong>Query:</strong> capital of France",
		"<strong>Context:</strong> No context provided",
		"<em>This is a placeholder response.",
	} {
		if !strings.Contains(content, want) {
			t.Fatalf("result content missing %q: %q", want, content)
		}
	}

	var kinds []form.StateKind
	for s := range sub.States() {
		kinds = append(kinds, s.Kind)
	}
	if len(kinds) != 2 || kinds[0] != form.Pending || kinds[1] != form.Result {
		t.Fatalf("states = %v, want [pending result]", kinds)
	}
	if sub.Superseded() {
		t.Fatal("completed submission reported superseded")
	}
}

func TestContextIsShownWhenPresent(t *testing.T) {
	clock := &formtest.Clock{}
	c, display, _ := newController(clock)

	sub, err := c.HandleSubmit("weather", "Paris, today")
	if err != nil {
		t.Fatalf("HandleSubmit: %v", err)
	}
	if sub.Context() != "Paris, today" {
		t.Fatalf("context = %q", sub.Context())
	}
	clock.Advance(form.DefaultDelay)

	content, _ := display.Snapshot()
	if !strings.Contains(content, "<strong>Query:</strong> weather") ||
		!strings.Contains(content, "<strong>Context:</strong> Paris, today") {
		t.Fatalf("content = %q", content)
	}
	if strings.Contains(content, form.DefaultFallbackContext) {
		t.Fatal("fallback shown although context was given")
	}
}

func TestWhitespaceContextUsesFallback(t *testing.T) {
	clock := &formtest.Clock{}
	c, _, _ := newController(clock)

	sub, err := c.HandleSubmit("q", "   ")
	if err != nil {
		t.Fatalf("HandleSubmit: %v", err)
	}
	if sub.Context() != form.DefaultFallbackContext {
		t.Fatalf("context = %q", sub.Context())
	}
}

func TestLaterSubmissionWins(t *testing.T) {
	clock := &formtest.Clock{}
	c, display, _ := newController(clock)

	first, err := c.HandleSubmit("first", "")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	clock.Advance(100 * time.Millisecond)
	second, err := c.HandleSubmit("second", "")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Seq() <= first.Seq() {
		t.Fatalf("seq not increasing: %d then %d", first.Seq(), second.Seq())
	}

	clock.Advance(900 * time.Millisecond)
	content, _ := display.Snapshot()
	if strings.Contains(content, "first") {
		t.Fatalf("stale result rendered: %q", content)
	}
	if c.State().Kind != form.Pending {
		t.Fatalf("state = %v, want pending", c.State().Kind)
	}

	clock.Advance(100 * time.Millisecond)
	state := c.State()
	if state.Kind != form.Result || state.Query != "second" {
		t.Fatalf("final state = %+v", state)
	}

	if !first.Superseded() {
		t.Fatal("first submission should be superseded")
	}
	var firstStates []form.StateKind
	for s := range first.States() {
		firstStates = append(firstStates, s.Kind)
	}
	if len(firstStates) != 1 || firstStates[0] != form.Pending {
		t.Fatalf("first states = %v, want [pending]", firstStates)
	}
}

func TestStaleTimerThatAlreadyFiredIsDiscarded(t *testing.T) {
	clock := &formtest.Clock{IgnoreStop: true}
	c, display, _ := newController(clock)

	if _, err := c.HandleSubmit("first", ""); err != nil {
		t.Fatalf("first: %v", err)
	}
	clock.Advance(100 * time.Millisecond)
	if _, err := c.HandleSubmit("second", ""); err != nil {
		t.Fatalf("second: %v", err)
	}

	// Stop 被忽略，第一次提交的回调仍会执行
	clock.Advance(900 * time.Millisecond)
	_, renders := display.Snapshot()
	if renders != 2 {
		t.Fatalf("renders = %d, want 2 (two pending states only)", renders)
	}

	clock.Advance(100 * time.Millisecond)
	content, _ := display.Snapshot()
	if !strings.Contains(content, "second") || strings.Contains(content, "first") {
		t.Fatalf("content = %q", content)
	}
}

func TestResultAfterResultRestartsPending(t *testing.T) {
	clock := &formtest.Clock{}
	c, display, _ := newController(clock)

	if _, err := c.HandleSubmit("one", ""); err != nil {
		t.Fatal(err)
	}
	clock.Advance(form.DefaultDelay)
	if _, err := c.HandleSubmit("two", "ctx"); err != nil {
		t.Fatal(err)
	}
	if c.State().Kind != form.Pending {
		t.Fatalf("state = %v, want pending", c.State().Kind)
	}
	clock.Advance(form.DefaultDelay)

	var kinds []form.StateKind
	for _, s := range display.Renders {
		kinds = append(kinds, s.Kind)
	}
	want := []form.StateKind{form.Pending, form.Result, form.Pending, form.Result}
	if len(kinds) != len(want) {
		t.Fatalf("renders = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("renders = %v, want %v", kinds, want)
		}
	}
}

func TestCustomOptions(t *testing.T) {
	clock := &formtest.Clock{}
	display := &formtest.Display{}
	notifier := &formtest.Notifier{}
	c := form.NewController(display, notifier, form.Options{
		Delay:             250 * time.Millisecond,
		FallbackContext:   "n/a",
		EmptyQueryMessage: "query missing",
		Clock:             clock,
	})

	if _, err := c.HandleSubmit("", ""); err == nil {
		t.Fatal("expected rejection")
	}
	if notifier.Messages[0] != "query missing" {
		t.Fatalf("message = %q", notifier.Messages[0])
	}

	if _, err := c.HandleSubmit("q", ""); err != nil {
		t.Fatal(err)
	}
	clock.Advance(250 * time.Millisecond)
	if st := c.State(); st.Kind != form.Result || st.Context != "n/a" {
		t.Fatalf("state = %+v", st)
	}
}

func TestCloseCancelsPendingRender(t *testing.T) {
	clock := &formtest.Clock{}
	c, _, _ := newController(clock)

	sub, err := c.HandleSubmit("q", "")
	if err != nil {
		t.Fatal(err)
	}
	c.Close()
	clock.Advance(form.DefaultDelay)

	if c.State().Kind != form.Pending {
		t.Fatalf("state = %v after close", c.State().Kind)
	}
	if !sub.Superseded() {
		t.Fatal("pending submission not discarded on close")
	}
	if _, err := c.HandleSubmit("q", ""); !errors.Is(err, form.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestRealClockDelivers(t *testing.T) {
	display := &formtest.Display{}
	c := form.NewController(display, &formtest.Notifier{}, form.Options{Delay: 10 * time.Millisecond})

	sub, err := c.HandleSubmit("real", "")
	if err != nil {
		t.Fatal(err)
	}

	timeout := time.After(2 * time.Second)
	var last form.DisplayState
	for {
		select {
		case s, ok := <-sub.States():
			if !ok {
				if last.Kind != form.Result {
					t.Fatalf("last state = %v", last.Kind)
				}
				return
			}
			last = s
		case <-timeout:
			t.Fatal("timed out waiting for result")
		}
	}
}

type displayFunc func(state form.DisplayState, fragment string)

func (f displayFunc) Render(state form.DisplayState, fragment string) { f(state, fragment) }

// runWithin 在 d 内等待 f 返回，超时说明回调阻塞在控制器的锁上
func runWithin(t *testing.T, d time.Duration, f func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("call did not return, callback blocked on the controller")
	}
}

func TestNotifierMayReadControllerState(t *testing.T) {
	var c *form.Controller
	var seen []form.StateKind
	notifier := form.NotifierFunc(func(message string) {
		seen = append(seen, c.State().Kind)
		_ = c.Seq()
	})
	c = form.NewController(&formtest.Display{}, notifier, form.Options{Clock: &formtest.Clock{}})

	runWithin(t, time.Second, func() {
		if _, err := c.HandleSubmit(" ", ""); !errors.Is(err, form.ErrEmptyQuery) {
			t.Errorf("err = %v, want ErrEmptyQuery", err)
		}
	})
	if len(seen) != 1 || seen[0] != form.Idle {
		t.Fatalf("notifier saw %v, want [idle]", seen)
	}
}

func TestDisplayMayReadControllerState(t *testing.T) {
	clock := &formtest.Clock{}
	var c *form.Controller
	var seen []form.DisplayState
	display := displayFunc(func(state form.DisplayState, fragment string) {
		seen = append(seen, c.State())
	})
	c = form.NewController(display, &formtest.Notifier{}, form.Options{Clock: clock})

	runWithin(t, time.Second, func() {
		if _, err := c.HandleSubmit("weather", ""); err != nil {
			t.Errorf("HandleSubmit: %v", err)
		}
		clock.Advance(form.DefaultDelay)
	})
	if len(seen) != 2 || seen[0].Kind != form.Pending || seen[1].Kind != form.Result {
		t.Fatalf("display saw %+v", seen)
	}
}

func TestDisplayMayResubmit(t *testing.T) {
	clock := &formtest.Clock{}
	var c *form.Controller
	var renders []form.DisplayState
	display := displayFunc(func(state form.DisplayState, fragment string) {
		renders = append(renders, state)
		if state.Kind == form.Result && state.Query == "one" {
			if _, err := c.HandleSubmit("two", ""); err != nil {
				t.Errorf("nested HandleSubmit: %v", err)
			}
		}
	})
	c = form.NewController(display, &formtest.Notifier{}, form.Options{Clock: clock})

	runWithin(t, time.Second, func() {
		if _, err := c.HandleSubmit("one", ""); err != nil {
			t.Errorf("HandleSubmit: %v", err)
		}
		clock.Advance(form.DefaultDelay)
		clock.Advance(form.DefaultDelay)
	})

	want := []struct {
		kind  form.StateKind
		query string
	}{
		{form.Pending, "one"}, {form.Result, "one"}, {form.Pending, "two"}, {form.Result, "two"},
	}
	if len(renders) != len(want) {
		t.Fatalf("renders = %+v", renders)
	}
	for i, w := range want {
		if renders[i].Kind != w.kind || renders[i].Query != w.query {
			t.Fatalf("render %d = %+v, want %v %q", i, renders[i], w.kind, w.query)
		}
	}
}
