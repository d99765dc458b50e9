package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBasicService_GetAddresses(t *testing.T) {
	require.Empty(t, BasicService{}.GetAddresses())

	s := BasicService{Addresses: []string{"localhost:2112", ":2113", "localhost:2112"}}
	require.Equal(t, []string{"localhost:2112", ":2113"}, s.GetAddresses())
}
