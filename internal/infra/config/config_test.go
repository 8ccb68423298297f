package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
)

func TestParseChannels(t *testing.T) {
	got, err := ParseChannels([]string{"music:5", " /HipHop:10 ", "jazz", "music:1", ""})
	require.NoError(t, err)
	require.Equal(t, []domain.ChannelConfig{
		{ID: "music", IntervalMinutes: 5},
		{ID: "hiphop", IntervalMinutes: 10},
		{ID: "jazz", IntervalMinutes: 5},
	}, got)
}

func TestParseChannelsRejectsBadInterval(t *testing.T) {
	for _, entry := range []string{"music:0", "music:abc", ":5"} {
		_, err := ParseChannels([]string{entry})
		require.Error(t, err, entry)
	}
}
