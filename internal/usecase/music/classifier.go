package music

import (
	"net/url"
	"regexp"
	"strings"
)

// Платформы, которые распознаёт классификатор.
const (
	PlatformYouTubeMusic = "youtube_music"
	PlatformYouTube      = "youtube"
	PlatformSpotify      = "spotify"
	PlatformAppleMusic   = "apple_music"
	PlatformSoundCloud   = "soundcloud"
	PlatformBandcamp     = "bandcamp"
	PlatformTidal        = "tidal"
	PlatformDeezer       = "deezer"
	PlatformAudius       = "audius"
)

// Match результат классификации ссылки.
type Match struct {
	Platform   string
	PlatformID string
}

type matcher struct {
	platform string
	host     func(host string) bool
	extract  func(u *url.URL, segments []string) (string, bool)
}

var (
	youtubeID = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	simpleID  = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	slugID    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
	countryRe = regexp.MustCompile(`^[a-z]{2}(-[a-z]{2})?$`)
)

var soundcloudReserved = map[string]struct{}{
	"sets": {}, "likes": {}, "reposts": {}, "tracks": {}, "albums": {},
	"followers": {}, "following": {}, "comments": {}, "popular-tracks": {},
}

// Порядок важен: music.youtube.com проверяется раньше youtube.com.
var matchers = []matcher{
	{
		platform: PlatformYouTubeMusic,
		host:     hostIs("music.youtube.com"),
		extract: func(u *url.URL, segments []string) (string, bool) {
			if len(segments) == 1 && segments[0] == "watch" {
				return validate(youtubeID, u.Query().Get("v"))
			}
			return "", false
		},
	},
	{
		platform: PlatformYouTube,
		host:     hostIs("youtube.com", "youtu.be"),
		extract: func(u *url.URL, segments []string) (string, bool) {
			if normalizeHost(u.Hostname()) == "youtu.be" {
				if len(segments) >= 1 {
					return validate(youtubeID, segments[0])
				}
				return "", false
			}
			switch {
			case len(segments) == 1 && segments[0] == "watch":
				return validate(youtubeID, u.Query().Get("v"))
			case len(segments) >= 2 && (segments[0] == "shorts" || segments[0] == "embed" || segments[0] == "live"):
				return validate(youtubeID, segments[1])
			}
			return "", false
		},
	},
	{
		platform: PlatformSpotify,
		host:     hostIs("open.spotify.com"),
		extract: func(u *url.URL, segments []string) (string, bool) {
			if len(segments) > 0 && strings.HasPrefix(segments[0], "intl-") {
				segments = segments[1:]
			}
			if len(segments) >= 2 && segments[0] == "track" {
				return validate(simpleID, segments[1])
			}
			return "", false
		},
	},
	{
		platform: PlatformAppleMusic,
		host:     hostIs("music.apple.com"),
		extract: func(u *url.URL, segments []string) (string, bool) {
			if len(segments) > 0 && countryRe.MatchString(segments[0]) {
				segments = segments[1:]
			}
			if len(segments) < 2 {
				return "", false
			}
			switch segments[0] {
			case "album":
				if track := u.Query().Get("i"); track != "" {
					return validate(simpleID, track)
				}
				return validate(simpleID, segments[len(segments)-1])
			case "song":
				return validate(simpleID, segments[len(segments)-1])
			}
			return "", false
		},
	},
	{
		platform: PlatformSoundCloud,
		host:     hostIs("soundcloud.com"),
		extract: func(u *url.URL, segments []string) (string, bool) {
			if len(segments) != 2 {
				return "", false
			}
			if _, reserved := soundcloudReserved[segments[1]]; reserved {
				return "", false
			}
			return joinSlugs(segments[0], segments[1])
		},
	},
	{
		platform: PlatformBandcamp,
		host: func(host string) bool {
			return strings.HasSuffix(host, ".bandcamp.com") && host != "daily.bandcamp.com"
		},
		extract: func(u *url.URL, segments []string) (string, bool) {
			if len(segments) != 2 || (segments[0] != "track" && segments[0] != "album") {
				return "", false
			}
			artist := strings.TrimSuffix(normalizeHost(u.Hostname()), ".bandcamp.com")
			return joinSlugs(artist, segments[1])
		},
	},
	{
		platform: PlatformTidal,
		host:     hostIs("tidal.com", "listen.tidal.com"),
		extract: func(u *url.URL, segments []string) (string, bool) {
			if len(segments) > 0 && segments[0] == "browse" {
				segments = segments[1:]
			}
			if len(segments) >= 2 && segments[0] == "track" {
				return validate(simpleID, segments[1])
			}
			return "", false
		},
	},
	{
		platform: PlatformDeezer,
		host:     hostIs("deezer.com"),
		extract: func(u *url.URL, segments []string) (string, bool) {
			if len(segments) > 0 && countryRe.MatchString(segments[0]) {
				segments = segments[1:]
			}
			if len(segments) >= 2 && segments[0] == "track" {
				return validate(simpleID, segments[1])
			}
			return "", false
		},
	},
	{
		platform: PlatformAudius,
		host:     hostIs("audius.co"),
		extract: func(u *url.URL, segments []string) (string, bool) {
			if len(segments) != 2 {
				return "", false
			}
			return joinSlugs(segments[0], segments[1])
		},
	},
}

// Classify определяет платформу и идентификатор трека. Побеждает первый подходящий matcher.
func Classify(rawURL string) (Match, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return Match{}, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Match{}, false
	}
	host := normalizeHost(u.Hostname())
	segments := pathSegments(u.Path)
	for _, m := range matchers {
		if !m.host(host) {
			continue
		}
		if id, ok := m.extract(u, segments); ok {
			return Match{Platform: m.platform, PlatformID: id}, true
		}
	}
	return Match{}, false
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, prefix := range []string{"www.", "m."} {
		host = strings.TrimPrefix(host, prefix)
	}
	return host
}

func hostIs(hosts ...string) func(string) bool {
	return func(host string) bool {
		for _, h := range hosts {
			if host == h {
				return true
			}
		}
		return false
	}
}

func pathSegments(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validate(re *regexp.Regexp, id string) (string, bool) {
	if !re.MatchString(id) {
		return "", false
	}
	return id, true
}

func joinSlugs(artist, slug string) (string, bool) {
	if !slugID.MatchString(artist) || !slugID.MatchString(slug) {
		return "", false
	}
	return strings.ToLower(artist) + "/" + strings.ToLower(slug), true
}
