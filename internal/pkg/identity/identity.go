package identity

import (
	"errors"
	"os"
	"strings"
)

// Identity is the signed-in user the sync service acts for. It is read-only
// input to the core; authentication happens upstream and hands the resolved
// user to this process via environment.
type Identity struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}

// FromEnv loads the local identity from LOCAL_USER_ID (required),
// LOCAL_USER_NAME and LOCAL_USER_AVATAR (optional).
func FromEnv() (Identity, error) {
	id := strings.TrimSpace(os.Getenv("LOCAL_USER_ID"))
	if id == "" {
		return Identity{}, errors.New("identity: LOCAL_USER_ID environment variable is not set")
	}
	return Identity{
		UserID:      id,
		DisplayName: strings.TrimSpace(os.Getenv("LOCAL_USER_NAME")),
		AvatarURL:   strings.TrimSpace(os.Getenv("LOCAL_USER_AVATAR")),
	}, nil
}
