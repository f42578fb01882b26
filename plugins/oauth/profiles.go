package oauth

import (
	"encoding/json"
	"errors"
)

// Profile is the provider identity of a user
type Profile struct {
	// ID is the provider user ID the key is stored under
	ID string
	// Username becomes the username attribute of new users
	Username string
}

// ProfileFunc extracts a Profile from a provider's raw user info
type ProfileFunc func(raw []byte) (Profile, error)

// Profiles holds the profile function of every provider, by provider ID
var Profiles = map[string]ProfileFunc{
	"auth0":      subEmailProfile,
	"apple":      subEmailProfile,
	"azureAD":    subEmailProfile,
	"box":        idNameProfile,
	"discord":    discordProfile,
	"dropbox":    dropboxProfile,
	"facebook":   idNameProfile,
	"github":     githubProfile,
	"gitlab":     gitlabProfile,
	"google":     subNameProfile,
	"lichess":    lichessProfile,
	"line":       lineProfile,
	"linkedIn":   linkedInProfile,
	"osu":        osuProfile,
	"patreon":    patreonProfile,
	"reddit":     idNameProfile,
	"salesforce": salesforceProfile,
	"slack":      subNameProfile,
	"spotify":    spotifyProfile,
	"twitch":     twitchProfile,
	"twitter":    twitterProfile,
}

func decodeProfile[T any](raw []byte, profile func(v *T) Profile) (Profile, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return Profile{}, err
	}
	return profile(&v), nil
}

func subEmailProfile(raw []byte) (Profile, error) {
	return decodeProfile(raw, func(v *struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
	}) Profile {
		return Profile{ID: v.Sub, Username: v.Email}
	})
}

func subNameProfile(raw []byte) (Profile, error) {
	return decodeProfile(raw, func(v *struct {
		Sub  string `json:"sub"`
		Name string `json:"name"`
	}) Profile {
		return Profile{ID: v.Sub, Username: v.Name}
	})
}

func idNameProfile(raw []byte) (Profile, error) {
	return decodeProfile(raw, func(v *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}) Profile {
		return Profile{ID: v.ID, Username: v.Name}
	})
}

func discordProfile(raw []byte) (Profile, error) {
	return decodeProfile(raw, func(v *struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}) Profile {
		return Profile{ID: v.ID, Username: v.Username}
	})
}

// dropboxProfile keys accounts by email
func dropboxProfile(raw []byte) (Profile, error) {
	return decodeProfile(raw, func(v *struct {
		Email string `json:"email"`
		Name  struct {
			DisplayName string `json:"display_name"`
		} `json:"name"`
	}) Profile {
		return Profile{ID: v.Email, Username: v.Name.DisplayName}
	})
}

func githubProfile(raw []byte) (Profile, error) {
	return decodeProfile(raw, func(v *struct {
		ID    json.Number `json:"id"`
		Login string      `json:"login"`
	}) Profile {
		return Profile{ID: v.ID.String(), Username: v.Login}
	})
}

func gitlabProfile(raw []byte) (Profile, error) {
	return decodeProfile(raw, func(v *struct {
		ID   json.Number `json:"id"`
		Name string      `json:"name"`
	}) Profile {
		return Profile{ID: v.ID.String(), Username: v.Name}
	})
}

func lichessProfile(raw []byte) (Profile, error) {
	return decodeProfile(raw, func(v *struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}) Profile {
		return Profile{ID: v.ID, Username: v.Username}
	})
}

func lineProfile(raw []byte) (Profile, error) {
	return decodeProfile(raw, func(v *struct {
		UserID      string `json:"userId"`
		DisplayName string `json:"displayName"`
	}) Profile {
		return Profile{ID: v.UserID, Username: v.DisplayName}
	})
}

// linkedInProfile keys accounts by email
func linkedInProfile(raw []byte) (Profile, error) {
	return decodeProfile(raw, func(v *struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}) Profile {
		return Profile{ID: v.Email, Username: v.Name}
	})
}

func osuProfile(raw []byte) (Profile, error) {
	return decodeProfile(raw, func(v *struct {
		ID       json.Number `json:"id"`
		Username string      `json:"username"`
	}) Profile {
		return Profile{ID: v.ID.String(), Username: v.Username}
	})
}

func patreonProfile(raw []byte) (Profile, error) {
	return decodeProfile(raw, func(v *struct {
		Data struct {
			ID         string `json:"id"`
			Attributes struct {
				FullName string `json:"full_name"`
			} `json:"attributes"`
		} `json:"data"`
	}) Profile {
		return Profile{ID: v.Data.ID, Username: v.Data.Attributes.FullName}
	})
}

func salesforceProfile(raw []byte) (Profile, error) {
	return decodeProfile(raw, func(v *struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
	}) Profile {
		return Profile{ID: v.UserID, Username: v.Name}
	})
}

func spotifyProfile(raw []byte) (Profile, error) {
	return decodeProfile(raw, func(v *struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	}) Profile {
		return Profile{ID: v.ID, Username: v.DisplayName}
	})
}

// twitchProfile reads the first user of the Helix users response
func twitchProfile(raw []byte) (Profile, error) {
	var v struct {
		Data []struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return Profile{}, err
	}
	if len(v.Data) == 0 {
		return Profile{}, errors.New("twitch: users response is empty")
	}
	return Profile{ID: v.Data[0].ID, Username: v.Data[0].DisplayName}, nil
}

func twitterProfile(raw []byte) (Profile, error) {
	return decodeProfile(raw, func(v *struct {
		Data struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}) Profile {
		return Profile{ID: v.Data.ID, Username: v.Data.Name}
	})
}
