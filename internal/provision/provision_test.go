package provision_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/callsim/internal/config"
	"github.com/sweeney/callsim/internal/platform"
	"github.com/sweeney/callsim/internal/provision"
)

type update struct {
	kind  string
	id    string
	patch map[string]any
}

type fakeAPI struct {
	assistants []platform.Assistant
	phones     []platform.PhoneNumber
	listErr    error
	failIDs    map[string]bool
	updates    []update
}

func (f *fakeAPI) ListAssistants(context.Context) ([]platform.Assistant, error) {
	return f.assistants, f.listErr
}

func (f *fakeAPI) ListPhoneNumbers(context.Context) ([]platform.PhoneNumber, error) {
	return f.phones, nil
}

func (f *fakeAPI) UpdateAssistant(_ context.Context, id string, patch map[string]any) (*platform.Assistant, error) {
	f.updates = append(f.updates, update{provision.KindAssistant, id, patch})
	if f.failIDs[id] {
		return nil, &platform.APIError{StatusCode: 500, Message: "boom"}
	}
	return &platform.Assistant{ID: id}, nil
}

func (f *fakeAPI) UpdatePhoneNumber(_ context.Context, id string, patch map[string]any) (*platform.PhoneNumber, error) {
	f.updates = append(f.updates, update{provision.KindPhoneNumber, id, patch})
	if f.failIDs[id] {
		return nil, &platform.APIError{StatusCode: 500, Message: "boom"}
	}
	return &platform.PhoneNumber{ID: id}, nil
}

func newAPI() *fakeAPI {
	return &fakeAPI{
		assistants: []platform.Assistant{
			{ID: "a1", Name: "Joey - Optimized", Server: &platform.Server{URL: "https://old.example/webhook"}},
			{ID: "a2", Name: "Joey - Elite"},
		},
		phones: []platform.PhoneNumber{
			{ID: "p1", Number: "+16592167227", Name: "Joey (Optimized)"},
			{ID: "p2", Number: "+19122962442", ServerURL: "https://legacy.example"},
		},
		failIDs: map[string]bool{},
	}
}

func TestConfigureWebhooksUpdatesEverything(t *testing.T) {
	api := newAPI()
	p := provision.New(api, config.NewDirectory(config.Default()), nil)

	report, err := p.ConfigureWebhooks(context.Background(), "https://hooks.example/webhook")
	require.NoError(t, err)

	require.Len(t, report.Results, 4)
	assert.Equal(t, 0, report.Failed())
	require.Len(t, api.updates, 4)
	for _, u := range api.updates {
		server := u.patch["server"].(map[string]any)
		assert.Equal(t, "https://hooks.example/webhook", server["url"])
		assert.Equal(t, provision.WebhookTimeoutSeconds, server["timeoutSeconds"])
	}
	assert.Equal(t, "+19122962442", report.Results[3].Name)
}

func TestConfigureWebhooksContinuesPastFailures(t *testing.T) {
	api := newAPI()
	api.failIDs["a1"] = true
	api.failIDs["p2"] = true
	p := provision.New(api, config.NewDirectory(config.Default()), nil)

	report, err := p.ConfigureWebhooks(context.Background(), "https://hooks.example/webhook")
	require.NoError(t, err)

	assert.Len(t, api.updates, 4)
	assert.Equal(t, 2, report.Failed())
	assert.False(t, report.Results[0].Success)
	assert.Contains(t, report.Results[0].Error, "boom")
	assert.True(t, report.Results[1].Success)
	assert.True(t, report.Results[2].Success)
	assert.False(t, report.Results[3].Success)
}

func TestConfigureWebhooksListFailureAborts(t *testing.T) {
	api := newAPI()
	api.listErr = errors.New("unreachable")
	p := provision.New(api, config.NewDirectory(config.Default()), nil)

	_, err := p.ConfigureWebhooks(context.Background(), "https://hooks.example/webhook")
	assert.Error(t, err)
	assert.Empty(t, api.updates)

	_, err = p.ConfigureWebhooks(context.Background(), "")
	assert.Error(t, err)
}

func TestWebhookStatus(t *testing.T) {
	p := provision.New(newAPI(), config.NewDirectory(config.Default()), nil)

	report, err := p.WebhookStatus(context.Background())
	require.NoError(t, err)

	urls := map[string]string{}
	for _, r := range report.Results {
		urls[r.ID] = r.WebhookURL
	}
	assert.Equal(t, map[string]string{
		"a1": "https://old.example/webhook",
		"a2": "",
		"p1": "",
		"p2": "https://legacy.example",
	}, urls)
}

func TestSyncPersona(t *testing.T) {
	api := newAPI()
	p := provision.New(api, config.NewDirectory(config.Default()), nil)

	_, err := p.SyncPersona(context.Background(), "joey-elite", "https://hooks.example/webhook")
	require.NoError(t, err)

	require.Len(t, api.updates, 1)
	u := api.updates[0]
	assert.Equal(t, "c068d8e8-ee09-4055-95a0-5ecf0da4c6df", u.id)
	assert.Equal(t, "Joey Gilkey - VP Growth (Elite)", u.patch["name"])
	assert.Equal(t, "Joey. You've got 60 seconds. Go.", u.patch["firstMessage"])
	assert.NotNil(t, u.patch["server"])
}

func TestSyncPersonaDoesNotMutateDirectory(t *testing.T) {
	api := newAPI()
	dir := config.NewDirectory(config.Default())
	p := provision.New(api, dir, nil)

	_, err := p.SyncPersona(context.Background(), "joey-optimized", "https://hooks.example/webhook")
	require.NoError(t, err)

	persona, _ := dir.Persona("joey-optimized")
	assert.NotContains(t, persona.Overrides, "server")
	assert.NotContains(t, persona.Overrides, "name")
}

func TestSyncUnknownPersona(t *testing.T) {
	api := newAPI()
	p := provision.New(api, config.NewDirectory(config.Default()), nil)

	_, err := p.SyncPersona(context.Background(), "nobody", "")
	assert.ErrorIs(t, err, provision.ErrUnknownPersona)
	assert.Contains(t, err.Error(), "joey-elite")
	assert.Empty(t, api.updates)
}
