package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingService struct {
	name    string
	err     error
	initLog *[]string
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Initialize() error {
	*s.initLog = append(*s.initLog, s.name)
	return s.err
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	var log []string
	registry := NewRegistry()

	require.NoError(t, registry.RegisterService(&recordingService{name: "store", initLog: &log}))
	require.NoError(t, registry.RegisterService(NewClientFactoryService()))

	err := registry.RegisterService(&recordingService{name: "store", initLog: &log})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	service, err := registry.GetService("client_factory")
	require.NoError(t, err)
	assert.Equal(t, "client_factory", service.Name())

	_, err = registry.GetService("missing")
	assert.Error(t, err)
	assert.Equal(t, []string{"client_factory", "store"}, registry.Names())
}

func TestRegistry_InitializeAllInOrder(t *testing.T) {
	var log []string
	registry := NewRegistry()
	require.NoError(t, registry.RegisterService(&recordingService{name: "b", initLog: &log}))
	require.NoError(t, registry.RegisterService(&recordingService{name: "a", initLog: &log}))

	require.NoError(t, registry.InitializeAll())
	assert.Equal(t, []string{"b", "a"}, log)
}

func TestRegistry_InitializeAllStopsOnError(t *testing.T) {
	var log []string
	registry := NewRegistry()
	require.NoError(t, registry.RegisterService(&recordingService{name: "broken", err: errors.New("no db"), initLog: &log}))
	require.NoError(t, registry.RegisterService(&recordingService{name: "later", initLog: &log}))

	err := registry.InitializeAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize service broken")
	assert.Equal(t, []string{"broken"}, log)
}
