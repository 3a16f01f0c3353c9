package activity

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valter-silva-au/sfini/internal/sfntest"
	"github.com/valter-silva-au/sfini/pkg/session"
)

func newSession(fake *sfntest.Fake) *session.Session {
	return session.NewStatic(sfntest.Region, sfntest.Account, fake)
}

func TestActivity_ARNAndHeartbeat(t *testing.T) {
	a := New("fetch", newSession(sfntest.New()), WithHeartbeat(1500*time.Millisecond))

	assert.Equal(t, "arn:aws:states:us-east-1:123456789012:activity:fetch", a.ARN())
	assert.Equal(t, a.ARN(), a.ResourceARN())
	assert.Equal(t, 2, a.HeartbeatSeconds())
	assert.Equal(t, "Activity 'fetch'", a.String())
}

func TestActivity_DefaultHeartbeat(t *testing.T) {
	a := New("fetch", newSession(sfntest.New()))
	assert.Equal(t, DefaultHeartbeat, a.Heartbeat)
	assert.Equal(t, 20, a.HeartbeatSeconds())
}

func TestActivity_Register(t *testing.T) {
	fake := sfntest.New()
	a := New("fetch", newSession(fake))

	require.NoError(t, a.Register(context.Background()))
	assert.Equal(t, []string{"fetch"}, fake.ActivityNames())
}

func TestActivity_RegisterInvalidName(t *testing.T) {
	fake := sfntest.New()
	a := New("bad name", newSession(fake))

	err := a.Register(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrInvalidName))
	assert.Equal(t, 0, fake.Calls("CreateActivity"))
}

func TestActivity_RegisterAPIError(t *testing.T) {
	fake := sfntest.New()
	fake.FailNext("CreateActivity", errors.New("throttled"))
	a := New("fetch", newSession(fake))

	err := a.Register(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

type greetInput struct {
	Name     string `json:"name" sfini:"required"`
	Greeting string `json:"greeting"`
}

func TestFunc_DecodesInput(t *testing.T) {
	h := Func(func(ctx context.Context, in greetInput) (string, error) {
		g := in.Greeting
		if g == "" {
			g = "hello"
		}
		return g + " " + in.Name, nil
	})

	out, err := h.Handle(context.Background(), json.RawMessage(`{"name":"ada"}`))
	require.NoError(t, err)
	assert.Equal(t, "hello ada", out)

	out, err = h.Handle(context.Background(), json.RawMessage(`{"name":"ada","greeting":"hi","extra":1}`))
	require.NoError(t, err)
	assert.Equal(t, "hi ada", out)
}

func TestFunc_MissingRequired(t *testing.T) {
	called := false
	h := Func(func(ctx context.Context, in greetInput) (string, error) {
		called = true
		return "", nil
	})

	_, err := h.Handle(context.Background(), json.RawMessage(`{"greeting":"hi"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingInput))
	assert.Contains(t, err.Error(), "'name'")
	assert.False(t, called)
}

func TestFunc_MapReceivesEverything(t *testing.T) {
	h := Func(func(ctx context.Context, in map[string]any) (int, error) {
		return len(in), nil
	})
	out, err := h.Handle(context.Background(), json.RawMessage(`{"a":1,"b":2,"c":3}`))
	require.NoError(t, err)
	assert.Equal(t, 3, out)
}

func TestDecodeInput_EmptyAndNull(t *testing.T) {
	var in struct {
		N int `json:"n"`
	}
	require.NoError(t, DecodeInput(nil, &in))
	require.NoError(t, DecodeInput(json.RawMessage("null"), &in))
	assert.Equal(t, 0, in.N)
}

func TestDecodeInput_NotAnObjectWithRequired(t *testing.T) {
	var in greetInput
	err := DecodeInput(json.RawMessage(`[1,2]`), &in)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestDecodeInput_TypeMismatch(t *testing.T) {
	var in struct {
		N int `json:"n"`
	}
	err := DecodeInput(json.RawMessage(`{"n":"seven"}`), &in)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestCallableActivity_CallWith(t *testing.T) {
	c := NewCallable("double", Func(func(ctx context.Context, in struct {
		X int `json:"x" sfini:"required"`
	}) (int, error) {
		return in.X * 2, nil
	}), newSession(sfntest.New()))

	out, err := c.CallWith(context.Background(), json.RawMessage(`{"x":21}`))
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, "CallableActivity 'double'", c.String())
}

func TestRegistration_ActivityNaming(t *testing.T) {
	r := NewRegistration("imaging", "1.2", newSession(sfntest.New()), nil)

	a, err := r.Activity("resize", HandlerFunc(nopHandler))
	require.NoError(t, err)
	assert.Equal(t, "imaging!1.2!resize", a.Name)

	ext, err := r.ExternalActivity("approve", WithHeartbeat(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "imaging!1.2!approve", ext.Name)
	assert.Equal(t, time.Minute, ext.Heartbeat)

	got, ok := r.Get("resize")
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Len(t, r.All(), 1, "external activities are not tracked")
}

func TestRegistration_DefaultVersion(t *testing.T) {
	r := NewRegistration("imaging", "", newSession(sfntest.New()), nil)
	assert.Equal(t, DefaultVersion, r.Version)
	assert.Equal(t, "Registration 'imaging' [latest]", r.String())
}

func TestRegistration_Duplicate(t *testing.T) {
	r := NewRegistration("imaging", "1", newSession(sfntest.New()), nil)
	_, err := r.Activity("resize", HandlerFunc(nopHandler))
	require.NoError(t, err)

	_, err = r.Activity("resize", HandlerFunc(nopHandler))
	assert.True(t, errors.Is(err, ErrDuplicateActivity))
}

func TestRegistration_InvalidGroupName(t *testing.T) {
	r := NewRegistration("bad!group", "1", newSession(sfntest.New()), nil)

	_, err := r.Activity("resize", HandlerFunc(nopHandler))
	assert.True(t, errors.Is(err, ErrInvalidGroupName))

	_, err = r.ExternalActivity("approve")
	assert.True(t, errors.Is(err, ErrInvalidGroupName))
}

func TestRegistration_RegisterAll(t *testing.T) {
	fake := sfntest.New()
	r := NewRegistration("imaging", "2", newSession(fake), nil)
	for _, n := range []string{"thumb", "crop", "resize"} {
		_, err := r.Activity(n, HandlerFunc(nopHandler))
		require.NoError(t, err)
	}

	require.NoError(t, r.Register(context.Background()))
	assert.Equal(t, []string{"imaging!2!crop", "imaging!2!resize", "imaging!2!thumb"}, fake.ActivityNames())
}

func TestRegistration_ListAcrossPages(t *testing.T) {
	fake := sfntest.New()
	fake.PageSize = 2
	for _, n := range []string{
		"imaging!1!resize", "imaging!2!resize", "other!1!resize",
		"imaging", "imaging!2!crop", "plain-activity",
	} {
		fake.AddActivity(n)
	}
	r := NewRegistration("imaging", "2", newSession(fake), nil)

	items, err := r.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, Item{Version: "1", Name: "resize", ARN: fake.ActivityARN("imaging!1!resize"), Created: items[0].Created}, items[0])
	assert.Equal(t, "crop", items[2].Name)
	assert.Greater(t, fake.Calls("ListActivities"), 1)
}

func TestRegistration_DeregisterOtherVersions(t *testing.T) {
	fake := sfntest.New()
	for _, n := range []string{"imaging!1!resize", "imaging!2!resize", "imaging!3!resize", "other!1!resize"} {
		fake.AddActivity(n)
	}
	r := NewRegistration("imaging", "2", newSession(fake), nil)

	removed, err := r.Deregister(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, removed, 2)
	assert.Equal(t, []string{"imaging!2!resize", "other!1!resize"}, fake.ActivityNames())
}

func TestRegistration_DeregisterSpecificVersion(t *testing.T) {
	fake := sfntest.New()
	for _, n := range []string{"imaging!1!resize", "imaging!1!crop", "imaging!2!resize"} {
		fake.AddActivity(n)
	}
	r := NewRegistration("imaging", "2", newSession(fake), nil)

	removed, err := r.Deregister(context.Background(), "1")
	require.NoError(t, err)
	assert.Len(t, removed, 2)
	assert.Equal(t, []string{"imaging!2!resize"}, fake.ActivityNames())
}

func TestRegistration_DeregisterDeleteError(t *testing.T) {
	fake := sfntest.New()
	fake.AddActivity("imaging!1!resize")
	fake.FailNext("DeleteActivity", errors.New("denied"))
	r := NewRegistration("imaging", "2", newSession(fake), nil)

	removed, err := r.Deregister(context.Background(), "")
	require.Error(t, err)
	assert.Empty(t, removed)
	assert.Equal(t, []string{"imaging!1!resize"}, fake.ActivityNames())
}

func nopHandler(ctx context.Context, input json.RawMessage) (any, error) {
	return nil, nil
}
