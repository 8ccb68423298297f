package domain

import "testing"

func TestTrackStatusAdvanceNeverRegresses(t *testing.T) {
	cases := []struct {
		from, next, want TrackStatus
	}{
		{TrackUnfetched, TrackOGFetched, TrackOGFetched},
		{TrackOGFetched, TrackEnriched, TrackEnriched},
		{TrackEnriched, TrackOGFetched, TrackEnriched},
		{TrackEnriched, TrackUnfetched, TrackEnriched},
		{TrackOGFetched, TrackOGFetched, TrackOGFetched},
		{"", TrackOGFetched, TrackOGFetched},
		{TrackOGFetched, "bogus", TrackOGFetched},
	}
	for _, tc := range cases {
		if got := tc.from.Advance(tc.next); got != tc.want {
			t.Errorf("%q.Advance(%q) = %q, want %q", tc.from, tc.next, got, tc.want)
		}
	}
}

func TestReactionTypeEdgeKind(t *testing.T) {
	if ReactionLike.EdgeKind() != EdgeLiked {
		t.Fatalf("likes must map to LIKED")
	}
	if ReactionRecast.EdgeKind() != EdgeRecasted {
		t.Fatalf("recasts must map to RECASTED")
	}
}

func TestEnrichmentKey(t *testing.T) {
	job := EnrichmentJob{Platform: "spotify", PlatformID: "abc"}
	if job.EnrichmentKey() != "spotify:abc" {
		t.Fatalf("unexpected key %q", job.EnrichmentKey())
	}
}
