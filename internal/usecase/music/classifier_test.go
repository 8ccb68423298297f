package music

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		url      string
		platform string
		id       string
	}{
		{"https://music.youtube.com/watch?v=dQw4w9WgXcQ&feature=share", PlatformYouTubeMusic, "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", PlatformYouTube, "dQw4w9WgXcQ"},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ&t=10", PlatformYouTube, "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ?si=abc", PlatformYouTube, "dQw4w9WgXcQ"},
		{"https://youtube.com/shorts/dQw4w9WgXcQ", PlatformYouTube, "dQw4w9WgXcQ"},
		{"https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC?si=xyz", PlatformSpotify, "4uLU6hMCjMI75M1A2tKUQC"},
		{"https://open.spotify.com/intl-de/track/4uLU6hMCjMI75M1A2tKUQC", PlatformSpotify, "4uLU6hMCjMI75M1A2tKUQC"},
		{"https://music.apple.com/us/album/windowlicker/1539105885?i=1539105887", PlatformAppleMusic, "1539105887"},
		{"https://music.apple.com/us/album/windowlicker/1539105885", PlatformAppleMusic, "1539105885"},
		{"https://music.apple.com/gb/song/windowlicker/1539105887", PlatformAppleMusic, "1539105887"},
		{"https://soundcloud.com/aphextwin/windowlicker", PlatformSoundCloud, "aphextwin/windowlicker"},
		{"https://aphextwin.bandcamp.com/track/windowlicker", PlatformBandcamp, "aphextwin/windowlicker"},
		{"https://aphextwin.bandcamp.com/album/drukqs", PlatformBandcamp, "aphextwin/drukqs"},
		{"https://tidal.com/browse/track/12345678", PlatformTidal, "12345678"},
		{"https://listen.tidal.com/track/12345678", PlatformTidal, "12345678"},
		{"https://www.deezer.com/fr/track/3135556", PlatformDeezer, "3135556"},
		{"https://deezer.com/track/3135556", PlatformDeezer, "3135556"},
		{"https://audius.co/artist/some-track", PlatformAudius, "artist/some-track"},
	}
	for _, tc := range cases {
		t.Run(tc.url, func(t *testing.T) {
			m, ok := Classify(tc.url)
			if !ok {
				t.Fatalf("expected match for %s", tc.url)
			}
			if m.Platform != tc.platform || m.PlatformID != tc.id {
				t.Fatalf("got %s/%s, want %s/%s", m.Platform, m.PlatformID, tc.platform, tc.id)
			}
		})
	}
}

func TestClassifyRejectsNonTracks(t *testing.T) {
	urls := []string{
		"https://example.com",
		"https://example.com/track/123",
		"",
		"not a url",
		"ftp://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC",
		"https://open.spotify.com/album/4uLU6hMCjMI75M1A2tKUQC",
		"https://www.youtube.com/channel/UC123",
		"https://youtube.com/watch?v=short",
		"https://soundcloud.com/aphextwin/sets/drukqs",
		"https://soundcloud.com/aphextwin",
		"https://soundcloud.com/aphextwin/likes",
		"https://aphextwin.bandcamp.com/",
		"https://daily.bandcamp.com/features/best-of",
		"https://music.apple.com/us/artist/aphex-twin/1234",
	}
	for _, raw := range urls {
		if m, ok := Classify(raw); ok {
			t.Fatalf("unexpected match for %q: %+v", raw, m)
		}
	}
}
