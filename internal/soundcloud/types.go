package soundcloud

// apiTrack is the subset of the track resource the client reads.
type apiTrack struct {
	ID           int64    `json:"id"`
	Title        string   `json:"title"`
	Duration     int64    `json:"duration"`
	Genre        string   `json:"genre"`
	ArtworkURL   string   `json:"artwork_url"`
	Permalink    string   `json:"permalink"`
	PermalinkURL string   `json:"permalink_url"`
	User         *apiUser `json:"user"`
}

// apiUser is the subset of the user resource the client reads. Track
// responses embed a shorter form of it.
type apiUser struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	FullName       string `json:"full_name"`
	Permalink      string `json:"permalink"`
	AvatarURL      string `json:"avatar_url"`
	FollowersCount int    `json:"followers_count"`
	TrackCount     int    `json:"track_count"`
	City           string `json:"city"`
	CountryCode    string `json:"country_code"`
}
