package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/spotiduck/spotiduck/internal/spotify"
	"github.com/spotiduck/spotiduck/pkg/model"
)

type volumeCall struct {
	token string
	level int
}

type fakeAPI struct {
	mu          sync.Mutex
	playerErrs  []error // consumed per call; nil entries mean success
	playerCalls int
	volumeCalls []volumeCall
}

func (f *fakeAPI) Player(_ context.Context, token string) (*model.PlayerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playerCalls++
	if len(f.playerErrs) > 0 {
		err := f.playerErrs[0]
		f.playerErrs = f.playerErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &model.PlayerState{IsPlaying: true}, nil
}

func (f *fakeAPI) SetVolume(_ context.Context, token string, percent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumeCalls = append(f.volumeCalls, volumeCall{token: token, level: percent})
	return nil
}

func (f *fakeAPI) volumes() []volumeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]volumeCall(nil), f.volumeCalls...)
}

func (f *fakeAPI) players() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playerCalls
}

type fakeTokens struct {
	mu        sync.Mutex
	current   string
	refreshTo string
	refreshes int
}

func (f *fakeTokens) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeTokens) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	f.current = f.refreshTo
	return nil
}

func (f *fakeTokens) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func newTrigger(t *testing.T, api *fakeAPI, tokens *fakeTokens) *Trigger {
	t.Helper()
	return New(zaptest.NewLogger(t), api, tokens)
}

func TestApply_DefaultSubstitution(t *testing.T) {
	tests := []struct {
		name  string
		level int
	}{
		{name: "unset", level: -1},
		{name: "above range", level: 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{}
			trg := newTrigger(t, api, &fakeTokens{current: "tok"})

			if err := trg.Apply(context.Background(), tt.level); err != nil {
				t.Fatalf("apply: %v", err)
			}
			calls := api.volumes()
			if len(calls) != 1 || calls[0].level != DefaultLevel {
				t.Errorf("volume calls = %v, want one call at %d", calls, DefaultLevel)
			}
		})
	}
}

func TestApply_NoActiveDeviceIsSilentNoop(t *testing.T) {
	api := &fakeAPI{playerErrs: []error{spotify.ErrNoActiveDevice}}
	trg := newTrigger(t, api, &fakeTokens{current: "tok"})

	if err := trg.Apply(context.Background(), 40); err != nil {
		t.Fatalf("apply returned error for 204: %v", err)
	}
	if calls := api.volumes(); len(calls) != 0 {
		t.Errorf("volume calls = %v, want none", calls)
	}
}

func TestApply_TokenNotFound(t *testing.T) {
	api := &fakeAPI{}
	trg := newTrigger(t, api, &fakeTokens{current: ""})

	err := trg.Apply(context.Background(), 40)
	if err == nil {
		t.Fatal("expected error when no token is available")
	}
	if api.players() != 0 {
		t.Error("API must not be called without a token")
	}
}

func TestApply_ExpiredTokenRefreshesAndRetriesOnce(t *testing.T) {
	api := &fakeAPI{playerErrs: []error{spotify.ErrTokenExpired, nil}}
	tokens := &fakeTokens{current: "old", refreshTo: "new"}
	trg := newTrigger(t, api, tokens)
	trg.UpdateToken("old")

	if err := trg.Apply(context.Background(), 40); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if got := tokens.refreshCount(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
	calls := api.volumes()
	if len(calls) != 1 || calls[0].token != "new" {
		t.Errorf("volume calls = %v, want one call with the new token", calls)
	}
}

func TestApply_SecondConsecutive401DoesNotRecurse(t *testing.T) {
	api := &fakeAPI{playerErrs: []error{spotify.ErrTokenExpired, spotify.ErrTokenExpired, spotify.ErrTokenExpired}}
	tokens := &fakeTokens{current: "old", refreshTo: "still-bad"}
	trg := newTrigger(t, api, tokens)
	trg.UpdateToken("old")

	err := trg.Apply(context.Background(), 40)
	if !errors.Is(err, spotify.ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}

	// Exactly one refresh, exactly one retry: two player calls total.
	if got := tokens.refreshCount(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
	if got := api.players(); got != 2 {
		t.Errorf("player calls = %d, want 2", got)
	}
	if calls := api.volumes(); len(calls) != 0 {
		t.Errorf("volume calls = %v, want none", calls)
	}
}

func TestRun_TransitionSequence(t *testing.T) {
	api := &fakeAPI{}
	trg := newTrigger(t, api, &fakeTokens{current: "tok"})
	trg.UpdateTarget(context.Background(), 25)

	transitions := make(chan bool)
	done := make(chan struct{})
	go func() {
		trg.Run(context.Background(), transitions)
		close(done)
	}()

	transitions <- true
	transitions <- false
	close(transitions)
	<-done

	// One ducking call at the target, one restore at 100. Steady-state
	// polls never reach the trigger, so nothing else may appear.
	calls := api.volumes()
	if len(calls) != 2 {
		t.Fatalf("volume calls = %v, want exactly 2", calls)
	}
	if calls[0].level != 25 || calls[1].level != RestoreLevel {
		t.Errorf("levels = [%d %d], want [25 %d]", calls[0].level, calls[1].level, RestoreLevel)
	}
}

func TestUpdateTarget_ReappliesWhilePlaying(t *testing.T) {
	api := &fakeAPI{}
	trg := newTrigger(t, api, &fakeTokens{current: "tok"})

	transitions := make(chan bool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trg.Run(ctx, transitions)

	transitions <- true
	waitForCalls(t, api, 1)

	// No target loaded yet, so the duck used the default level.
	if calls := api.volumes(); calls[0].level != DefaultLevel {
		t.Fatalf("initial duck level = %d, want %d", calls[0].level, DefaultLevel)
	}

	trg.UpdateTarget(context.Background(), 60)
	waitForCalls(t, api, 2)

	calls := api.volumes()
	if calls[1].level != 60 {
		t.Errorf("re-applied level = %d, want 60", calls[1].level)
	}
}

func waitForCalls(t *testing.T, api *fakeAPI, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(api.volumes()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d volume calls, have %v", n, api.volumes())
}
