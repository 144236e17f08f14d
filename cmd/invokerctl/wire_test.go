package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serverless-fanout/invoker/internal/config"
)

func TestBuildBackend_UnknownKindErrors(t *testing.T) {
	_, err := buildBackend(&wireFlags{backendKind: "lambda"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestBuildBackend_HTTPFn(t *testing.T) {
	b, err := buildBackend(&wireFlags{backendKind: "httpfn", httpEndpoint: "http://example.invalid"})
	require.NoError(t, err)
	assert.NotNil(t, b)
}

func TestBuildStore_UnknownKindErrors(t *testing.T) {
	_, err := buildStore(&wireFlags{storeKind: "sqlite"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store")
}

func TestBuildStore_GraphQLRequiresEndpoint(t *testing.T) {
	_, err := buildStore(&wireFlags{storeKind: "graphql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "graphql-endpoint")
}

func TestBuildStore_Memory(t *testing.T) {
	s, err := buildStore(&wireFlags{storeKind: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestBuildBus_UnknownKindErrors(t *testing.T) {
	_, err := buildBus(&wireFlags{busKind: "kafka"}, &config.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown bus")
}

func TestBuildBus_Memory(t *testing.T) {
	b, err := buildBus(&wireFlags{busKind: "memory"}, &config.Config{})
	require.NoError(t, err)
	assert.NotNil(t, b)
	b.Close()
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["serve"])
}
