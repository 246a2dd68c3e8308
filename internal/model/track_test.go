package model

import "testing"

func TestSameIdentity(t *testing.T) {
	tests := []struct {
		name string
		a, b Track
		want bool
	}{
		{"same id", Track{ID: "1"}, Track{ID: "1"}, true},
		{"different id no permalink", Track{ID: "1"}, Track{ID: "2"}, false},
		{
			name: "placeholder id matched by permalink",
			a:    Track{ID: "dom-abc", Permalink: "artist/song"},
			b:    Track{ID: "12345", Permalink: "https://soundcloud.com/artist/song"},
			want: true,
		},
		{"empty permalinks never match", Track{ID: "a"}, Track{ID: "b"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.SameIdentity(tt.b); got != tt.want {
				t.Errorf("SameIdentity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeKeepsID(t *testing.T) {
	base := Track{ID: "dom-1", Title: "Song", ArtistName: "someone"}
	enriched := Track{ID: "999", Title: "Song (Remix)", ArtistID: "42", DurationMs: 180000}

	got := base.Merge(enriched)
	if got.ID != "dom-1" {
		t.Errorf("ID = %q, want dom-1", got.ID)
	}
	if got.Title != "Song (Remix)" || got.ArtistID != "42" || got.DurationMs != 180000 {
		t.Errorf("enriched fields not merged: %+v", got)
	}
	if got.ArtistName != "someone" {
		t.Errorf("ArtistName = %q, want original kept", got.ArtistName)
	}
}

func TestTrack_Resolved(t *testing.T) {
	tests := []struct {
		name  string
		track Track
		want  bool
	}{
		{"full", Track{ID: "1", Title: "A", ArtistID: "7", DurationMs: 1000}, true},
		{"scraped", Track{ID: "1", Title: "A", ArtistName: "Band"}, false},
		{"no duration", Track{ID: "1", Title: "A", ArtistID: "7"}, false},
		{"no title", Track{ID: "1", ArtistID: "7", DurationMs: 1000}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.track.Resolved(); got != tt.want {
				t.Errorf("Resolved() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestArtist_Valid(t *testing.T) {
	var nilArtist *Artist
	if nilArtist.Valid() || (&Artist{ID: "  "}).Valid() {
		t.Error("blank artist reported valid")
	}
	if !(&Artist{ID: "7"}).Valid() {
		t.Error("artist with id reported invalid")
	}
}
